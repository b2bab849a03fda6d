// Package internal holds helpers private to authcore: refresh-token
// generation and digesting.
//
// Sub-packages:
//
//   - audit: asynchronous audit event dispatch
//   - flows: engine operations written against function-valued dependencies
//
// Nothing here may appear in the public authcore API.
package internal
