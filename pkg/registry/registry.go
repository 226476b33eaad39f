// Package registry tracks worker identity and session-to-worker bindings.
package registry

import (
	"context"
	"time"

	"github.com/saverelay/saverelay/pkg/core"
	"github.com/saverelay/saverelay/pkg/security"
)

// Default timing: workers heartbeat every 15s and are considered offline
// after 45s (three missed heartbeats).
const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultOfflineTimeout    = 45 * time.Second
)

// AuthFunc reports whether the user is currently authenticated. A heartbeat
// arriving for a logged-out user clears the binding instead of refreshing
// it. The session layer is external; the default accepts every user.
type AuthFunc func(ctx context.Context, userID string) bool

// Registry tracks each client worker's identity, online state and
// last-heartbeat time, and binds a worker to a user session. None of its
// operations fail hard on missing state: a missing binding is the valid
// "no worker available" state.
type Registry struct {
	storage        core.Storage
	authed         AuthFunc
	offlineTimeout time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithOfflineTimeout sets the heartbeat timeout after which a worker is
// considered offline. Should be a small multiple of the heartbeat interval.
func WithOfflineTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.offlineTimeout = d
		}
	}
}

// WithAuthFunc sets the session-layer authentication check.
func WithAuthFunc(fn AuthFunc) Option {
	return func(r *Registry) {
		if fn != nil {
			r.authed = fn
		}
	}
}

// New creates a Registry over the given storage.
func New(s core.Storage, opts ...Option) *Registry {
	r := &Registry{
		storage:        s,
		authed:         func(context.Context, string) bool { return true },
		offlineTimeout: DefaultOfflineTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OfflineTimeout returns the configured heartbeat timeout window.
func (r *Registry) OfflineTimeout() time.Duration { return r.offlineTimeout }

// Bind sets or refreshes the user's worker binding. Idempotent. Called on
// worker registration and on frontend connection-check while the user is
// authenticated.
func (r *Registry) Bind(ctx context.Context, userID, clientID string) error {
	if err := security.ValidateUserID(userID); err != nil {
		return err
	}
	if err := security.ValidateClientID(clientID); err != nil {
		return err
	}
	if !r.authed(ctx, userID) {
		// Not an error: registration for a logged-out user is dropped.
		return nil
	}
	return r.storage.UpsertBinding(ctx, userID, clientID)
}

// Heartbeat refreshes last_seen for the user currently bound to clientID.
// If the owning user is no longer authenticated, the binding is cleared
// instead. A heartbeat for an unbound client id is a no-op.
func (r *Registry) Heartbeat(ctx context.Context, clientID string) error {
	if err := security.ValidateClientID(clientID); err != nil {
		return err
	}
	binding, err := r.storage.GetBindingByClient(ctx, clientID)
	if err != nil {
		return err
	}
	if binding == nil {
		return nil
	}
	if !r.authed(ctx, binding.UserID) {
		return r.storage.DeleteBinding(ctx, binding.UserID)
	}
	_, err = r.storage.TouchBinding(ctx, clientID)
	return err
}

// Binding returns the user's current worker binding, or nil if absent.
func (r *Registry) Binding(ctx context.Context, userID string) (*core.WorkerBinding, error) {
	return r.storage.GetBinding(ctx, userID)
}

// IsOnline reports whether clientID heartbeated within the timeout window.
func (r *Registry) IsOnline(ctx context.Context, clientID string) (bool, error) {
	binding, err := r.storage.GetBindingByClient(ctx, clientID)
	if err != nil {
		return false, err
	}
	return binding.Online(r.offlineTimeout), nil
}

// Unbind clears the user's worker binding immediately, independent of
// heartbeat state. Called on logout.
func (r *Registry) Unbind(ctx context.Context, userID string) error {
	return r.storage.DeleteBinding(ctx, userID)
}
