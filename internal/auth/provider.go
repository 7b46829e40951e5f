// Package auth resolves the signed-in identity and exposes a single
// authoritative status through an explicit state machine.
//
// The identity provider itself (password credentials plus a federated OAuth
// flow) is an external collaborator; this package consumes it through the
// Provider interface and owns the ordering that makes hydration race-free:
// any pending redirect credential is resolved before the persistent
// identity-change listener is attached, so an early "no session" callback
// can never misreport unauthenticated.
package auth

import "context"

// Identity is the resolved account.
type Identity struct {
	OwnerID string
	Email   string
}

// Unsubscribe detaches a listener. Detach is synchronous: once it returns,
// the callback will not be invoked again.
type Unsubscribe func()

// Provider is the external identity service.
type Provider interface {
	// ResolveRedirect completes any pending external redirect sign-in.
	// Returns (nil, nil) when no redirect is pending; absence is not an
	// error.
	ResolveRedirect(ctx context.Context) (*Identity, error)

	// OnIdentityChanged attaches the persistent identity listener. The
	// provider calls fn with the current identity immediately on attach
	// (possibly nil) and again on every change. fn(nil) means signed out.
	OnIdentityChanged(fn func(*Identity)) Unsubscribe

	// SignInWithPassword authenticates with email and password.
	SignInWithPassword(ctx context.Context, email, password string) (*Identity, error)

	// SignInWithOAuth starts the federated flow: popup on capable
	// clients, redirect+resume on constrained clients. A redirect
	// variant returns (nil, nil) and completes later via
	// ResolveRedirect on the next start.
	SignInWithOAuth(ctx context.Context) (*Identity, error)

	// SignOut ends the session. The identity listener observes the
	// change.
	SignOut(ctx context.Context) error
}
