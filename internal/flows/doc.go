// Package flows holds the engine operations as plain functions.
//
// Each Run* function takes a dependency struct of interfaces and function
// values and returns its result without keeping state between calls. The
// root package builds the dependency structs and maps results onto its
// public errors. Flows never import authcore.
package flows
