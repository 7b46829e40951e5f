package auth

import "errors"

// Identity failures map to a small fixed set of user-facing messages.
// They never block identity hydration itself.
var (
	// ErrBadCredential covers wrong email/password pairs and malformed
	// or expired credentials.
	ErrBadCredential = errors.New("bad credential")

	// ErrRateLimited is returned when the identity provider throttles
	// sign-in attempts.
	ErrRateLimited = errors.New("rate limited")

	// ErrFlowCancelled is returned when the user dismisses an
	// interactive sign-in flow.
	ErrFlowCancelled = errors.New("sign-in flow cancelled")
)

// UserMessage maps an identity error to the message shown to the user.
// Unrecognized errors get a generic fallback rather than leaking internals.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrBadCredential):
		return "Incorrect email or password."
	case errors.Is(err, ErrRateLimited):
		return "Too many attempts. Please try again later."
	case errors.Is(err, ErrFlowCancelled):
		return "Sign-in was cancelled."
	default:
		return "Something went wrong signing you in. Please try again."
	}
}
