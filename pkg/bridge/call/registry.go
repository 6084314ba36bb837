package call

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leaseline/voicebridge/pkg/bridge/store"
)

const (
	sessionKeyPrefix = "call:"
	seenKeyPrefix    = "seen:"
)

// Registry owns the per-call sessions and the seen-call set on top of an
// injected store. Events for a single call are processed in order, so
// read-modify-write through Update is race-free per call id.
type Registry struct {
	store store.Store
}

// NewRegistry creates a Registry over the given store.
func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s}
}

// Accept marks a call id as seen. It reports false when the id was already
// accepted, which is how redelivered webhooks become no-ops.
func (r *Registry) Accept(ctx context.Context, callID string) (bool, error) {
	return r.store.SetNX(ctx, seenKeyPrefix+callID, []byte("1"))
}

// Seen reports whether a call id has been accepted and not yet torn down.
func (r *Registry) Seen(ctx context.Context, callID string) (bool, error) {
	_, ok, err := r.store.Get(ctx, seenKeyPrefix+callID)
	return ok, err
}

// Put stores a session, replacing any previous record for the call id.
func (r *Registry) Put(ctx context.Context, sess *Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.CallID, err)
	}
	return r.store.Set(ctx, sessionKeyPrefix+sess.CallID, payload)
}

// Get loads a session. ok is false when no session exists for the id.
func (r *Registry) Get(ctx context.Context, callID string) (*Session, bool, error) {
	payload, ok, err := r.store.Get(ctx, sessionKeyPrefix+callID)
	if err != nil || !ok {
		return nil, false, err
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, false, fmt.Errorf("decode session %s: %w", callID, err)
	}
	return &sess, true, nil
}

// Update applies mutate to the stored session and writes it back. A missing
// session is tolerated (ok=false, no error): events for torn-down calls are
// inert by construction.
func (r *Registry) Update(ctx context.Context, callID string, mutate func(*Session)) (bool, error) {
	sess, ok, err := r.Get(ctx, callID)
	if err != nil || !ok {
		return false, err
	}
	mutate(sess)
	return true, r.Put(ctx, sess)
}

// End removes the session and the seen marker, returning the final session
// snapshot. The second End for a call id reports ok=false, which is how
// the close-vs-ended-webhook race collapses to a single CRM call-end log.
func (r *Registry) End(ctx context.Context, callID string) (*Session, bool, error) {
	sess, ok, err := r.Get(ctx, callID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		// Still clear a stray seen marker so redelivery after teardown
		// cannot resurrect the call.
		_ = r.store.Delete(ctx, seenKeyPrefix+callID)
		return nil, false, nil
	}
	if err := r.store.Delete(ctx, sessionKeyPrefix+callID); err != nil {
		return nil, false, err
	}
	if err := r.store.Delete(ctx, seenKeyPrefix+callID); err != nil {
		return nil, false, err
	}
	sess.State = StateEnded
	return sess, true, nil
}
