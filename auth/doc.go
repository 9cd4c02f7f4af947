// Package auth verifies rfm credentials and issues session tokens.
//
// An Authority is what the server consults for VERIFY_PASSWORD and for the
// AUTH_TOKEN attached to every later request. Service is the standard
// implementation: a CredentialStore holding bcrypt password hashes (in memory
// or in PostgreSQL) combined with a TokenIssuer producing HS256 JWTs.
package auth
