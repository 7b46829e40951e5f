package auth

import (
	"context"
	"sync"
)

// StaticProvider is a non-interactive Provider for headless deployments
// and tests: the identity is fixed at construction and reported to the
// listener immediately on attach. SignOut flips it to nil.
type StaticProvider struct {
	mu        sync.Mutex
	identity  *Identity
	listeners map[int]func(*Identity)
	next      int
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a provider already signed in as the given
// owner. An empty ownerID starts signed out.
func NewStaticProvider(ownerID, email string) *StaticProvider {
	p := &StaticProvider{listeners: make(map[int]func(*Identity))}
	if ownerID != "" {
		p.identity = &Identity{OwnerID: ownerID, Email: email}
	}
	return p
}

// ResolveRedirect implements Provider. Nothing is ever pending.
func (p *StaticProvider) ResolveRedirect(ctx context.Context) (*Identity, error) {
	return nil, nil
}

// OnIdentityChanged implements Provider.
func (p *StaticProvider) OnIdentityChanged(fn func(*Identity)) Unsubscribe {
	p.mu.Lock()
	id := p.next
	p.next++
	p.listeners[id] = fn
	ident := p.identity
	p.mu.Unlock()

	fn(ident)

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// SignInWithPassword implements Provider. The static provider accepts any
// credential and binds the session to the given email.
func (p *StaticProvider) SignInWithPassword(ctx context.Context, email, password string) (*Identity, error) {
	p.mu.Lock()
	if p.identity == nil {
		p.identity = &Identity{OwnerID: email, Email: email}
	}
	ident := p.identity
	listeners := p.listenersLocked()
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(ident)
	}
	return ident, nil
}

// SignInWithOAuth implements Provider. No federated flow exists here.
func (p *StaticProvider) SignInWithOAuth(ctx context.Context) (*Identity, error) {
	return nil, ErrFlowCancelled
}

// SignOut implements Provider.
func (p *StaticProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.identity = nil
	listeners := p.listenersLocked()
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(nil)
	}
	return nil
}

func (p *StaticProvider) listenersLocked() []func(*Identity) {
	out := make([]func(*Identity), 0, len(p.listeners))
	for _, fn := range p.listeners {
		out = append(out, fn)
	}
	return out
}
