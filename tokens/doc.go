// Package tokens mints and verifies the portal's access and refresh tokens.
//
// Access tokens are short-lived HS256 JWTs carried in the Authorization header.
// Refresh tokens are long-lived HS256 JWTs signed with a separate secret and
// carried only in an HttpOnly cookie. Every refresh token has a unique id that a
// RefreshRegistry tracks, so a refresh token can be used exactly once.
package tokens
