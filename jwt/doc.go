// Package jwt mints and verifies the short-lived access tokens handed out at
// login and refresh. Tokens carry the subject id, email, role and company id;
// verification needs no store lookup.
package jwt
