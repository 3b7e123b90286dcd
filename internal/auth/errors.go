// Package auth implements the session token authority: it issues, verifies
// and rotates the access/refresh token pair that represents an authenticated
// session, and answers role authorization queries.
package auth

import "errors"

// ErrInvalidCredentials is returned by login flows when the email/password
// pair does not match an account. Handlers must report it with a single
// generic message so that callers cannot tell which part was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrInvalidToken covers every token verification failure: bad signature,
// expired, malformed, unknown account or a fingerprint mismatch. Handlers
// translate it into HTTP 401 without distinguishing the cause.
var ErrInvalidToken = errors.New("invalid token")

// ErrPermissionDenied is returned when an authenticated account's role is
// not in the set required for an operation. Handlers translate it into 403.
var ErrPermissionDenied = errors.New("permission denied")

// ErrMissingSecret is returned by New when a signing secret is absent. This
// is a startup misconfiguration and should abort the process, never be
// handled per request.
var ErrMissingSecret = errors.New("missing signing secret")
