package auth

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Status is the authoritative authentication state.
//
//	idle → loading → {authenticated | unauthenticated}
//
// Consumers must treat idle and loading identically (hydration in
// progress) and make no routing or data decisions until the status is
// terminal.
type Status int

const (
	// StatusIdle means Start has not been called yet.
	StatusIdle Status = iota
	// StatusLoading means hydration is in progress.
	StatusLoading
	// StatusAuthenticated means an identity is resolved.
	StatusAuthenticated
	// StatusUnauthenticated means the provider confirmed no session.
	StatusUnauthenticated
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Hydrating reports whether the status is still non-terminal.
func (s Status) Hydrating() bool {
	return s == StatusIdle || s == StatusLoading
}

// AuthenticatedHook runs on the transition to authenticated. The returned
// detach function, if non-nil, is invoked synchronously on sign-out or
// Close. Hook errors are logged and swallowed: the user stays
// authenticated even when post-login initialization fails.
type AuthenticatedHook func(ctx context.Context, ident Identity) (detach func(), err error)

// Config holds construction options for the Machine.
type Config struct {
	// HydrationTimeout bounds how long WaitReady blocks before releasing
	// the caller. The underlying resolution is not cancelled, it just
	// stops blocking. Zero means no watchdog.
	HydrationTimeout time.Duration

	// Logger for state transitions. Defaults to stderr when nil.
	Logger *log.Logger
}

// Machine is the authentication state machine.
//
// It is a session-scoped object: construct one per process, register its
// hooks, then Start it. The identity-change listener it attaches is the
// sole authority for the terminal states.
type Machine struct {
	provider Provider
	logger   *log.Logger
	timeout  time.Duration

	mu        sync.Mutex
	status    Status
	identity  *Identity
	alive     bool
	started   bool
	hooks     []AuthenticatedHook
	detaches  []func()
	observers map[int]func(Status, *Identity)
	nextObs   int
	unsubAuth Unsubscribe

	readyOnce sync.Once
	ready     chan struct{}
}

// New creates a Machine over the given provider.
func New(provider Provider, cfg Config) *Machine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[auth] ", log.LstdFlags)
	}
	return &Machine{
		provider:  provider,
		logger:    logger,
		timeout:   cfg.HydrationTimeout,
		status:    StatusIdle,
		alive:     true,
		observers: make(map[int]func(Status, *Identity)),
		ready:     make(chan struct{}),
	}
}

// OnAuthenticated registers a hook to run when an identity resolves.
// Must be called before Start.
func (m *Machine) OnAuthenticated(hook AuthenticatedHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Subscribe registers a status observer, invoked on every transition.
// The observer is called immediately with the current state.
func (m *Machine) Subscribe(fn func(Status, *Identity)) Unsubscribe {
	m.mu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	status, ident := m.status, m.identity
	m.mu.Unlock()

	fn(status, ident)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

// Start hydrates the session. In strict order: enter loading, resolve any
// pending redirect credential, then attach the persistent identity
// listener. The listener must not be attached earlier: an early "no
// session" callback would permanently misreport unauthenticated before
// the redirect credential is applied.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("auth machine already started")
	}
	m.started = true
	m.mu.Unlock()

	m.transition(ctx, StatusLoading, nil)

	// Step 1: resolve any pending redirect credential. Absence is not an
	// error; failures are logged and hydration continues.
	if _, err := m.provider.ResolveRedirect(ctx); err != nil {
		m.logger.Printf("WARNING: redirect resolution failed: %v", err)
	}

	// Step 2: attach exactly one persistent identity listener. It fires
	// immediately with the persisted session (or nil) and is the sole
	// authority for the terminal states.
	unsub := m.provider.OnIdentityChanged(func(ident *Identity) {
		m.mu.Lock()
		if !m.alive {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		if ident != nil {
			m.transition(ctx, StatusAuthenticated, ident)
		} else {
			m.transition(ctx, StatusUnauthenticated, nil)
		}
	})

	m.mu.Lock()
	m.unsubAuth = unsub
	alive := m.alive
	m.mu.Unlock()

	// Close raced with Start: detach the listener we just attached.
	if !alive {
		unsub()
	}
	return nil
}

// transition moves the machine to the given status, runs side effects,
// and notifies observers.
func (m *Machine) transition(ctx context.Context, status Status, ident *Identity) {
	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return
	}
	prev := m.status
	prevOwner := ""
	if m.identity != nil {
		prevOwner = m.identity.OwnerID
	}
	m.status = status
	m.identity = ident

	// A repeat authenticated callback for the same owner (a provider
	// re-fire, a token refresh) keeps the session's hooks as they are.
	// Anything else leaving an authenticated session takes its detaches.
	sameSession := status == StatusAuthenticated && prev == StatusAuthenticated &&
		ident != nil && ident.OwnerID == prevOwner

	var detaches []func()
	if status == StatusUnauthenticated || (prev == StatusAuthenticated && !sameSession) {
		detaches = m.takeDetachesLocked()
	}
	observers := make([]func(Status, *Identity), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	if prev != status {
		m.logger.Printf("Status: %s -> %s", prev, status)
	}

	// Dependent listeners detach synchronously, before any new attach can
	// race with a late-resolving teardown.
	for _, detach := range detaches {
		detach()
	}

	if status == StatusAuthenticated && ident != nil && !sameSession {
		m.runHooks(ctx, *ident)
	}

	for _, fn := range observers {
		fn(status, ident)
	}

	if !status.Hydrating() {
		m.readyOnce.Do(func() { close(m.ready) })
	}
}

// runHooks fires the authenticated hooks, collecting their detach
// functions. Hook failures are logged and swallowed.
func (m *Machine) runHooks(ctx context.Context, ident Identity) {
	m.mu.Lock()
	hooks := make([]AuthenticatedHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	for _, hook := range hooks {
		detach, err := hook(ctx, ident)
		if err != nil {
			m.logger.Printf("WARNING: post-login initialization failed for %s: %v", ident.OwnerID, err)
		}
		if detach != nil {
			m.mu.Lock()
			if m.alive && m.status == StatusAuthenticated {
				m.detaches = append(m.detaches, detach)
				detach = nil
			}
			m.mu.Unlock()
			// Signed out while the hook ran: tear down immediately.
			if detach != nil {
				detach()
			}
		}
	}
}

func (m *Machine) takeDetachesLocked() []func() {
	detaches := m.detaches
	m.detaches = nil
	return detaches
}

// Status returns the current authoritative status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Identity returns the resolved identity, or nil while hydrating or
// signed out.
func (m *Machine) Identity() *Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// WaitReady blocks until the status is terminal, the context is done, or
// the hydration watchdog expires. On watchdog expiry the caller is
// released (no infinite spinner) but the underlying resolution keeps
// running and will still transition the machine when it completes.
func (m *Machine) WaitReady(ctx context.Context) Status {
	var timeout <-chan time.Time
	if m.timeout > 0 {
		timer := time.NewTimer(m.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-m.ready:
	case <-ctx.Done():
	case <-timeout:
		m.logger.Printf("WARNING: hydration watchdog expired after %s", m.timeout)
	}
	return m.Status()
}

// Close tears the machine down: the identity listener and every dependent
// listener detach synchronously. Late provider callbacks after Close find
// the liveness flag cleared and mutate nothing.
func (m *Machine) Close() {
	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return
	}
	m.alive = false
	unsub := m.unsubAuth
	m.unsubAuth = nil
	detaches := m.takeDetachesLocked()
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	for _, detach := range detaches {
		detach()
	}
	m.readyOnce.Do(func() { close(m.ready) })
}
