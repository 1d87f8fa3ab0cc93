// Package apierrors defines the closed error taxonomy shared by the transport,
// the token lifecycle and the authentication facade, so callers can branch on
// the kind of a failure (re-login, toast, retry) without knowing which backend
// produced it.
package apierrors
