// Package call holds the per-call state shared by the webhook ingress, the
// realtime connector and the tool dispatcher. All of it is ephemeral: a
// session exists from first sighting of an inbound event until whichever
// comes first of socket finalization or an explicit ended event.
package call

import (
	"time"

	"github.com/leaseline/voicebridge/pkg/bridge/crm"
)

// State is the call lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateAccepted  State = "accepted"
	StateStreaming State = "streaming"
	StateEnded     State = "ended"
)

// Session is the ephemeral record for one call.
type Session struct {
	CallID            string       `json:"call_id"`
	State             State        `json:"state"`
	StartedAt         time.Time    `json:"started_at"`
	CRMCallLogID      int64        `json:"crm_call_log_id,omitempty"`
	LastOfferedSlotID int64        `json:"last_offered_slot_id,omitempty"`
	CallerNumber      string       `json:"caller_number"`
	DialedNumber      string       `json:"dialed_number"`
	Listing           *crm.Listing `json:"listing,omitempty"`
}

// ListingID returns the resolved listing id, or 0 when the call has no
// listing context.
func (s *Session) ListingID() int64 {
	if s == nil || s.Listing == nil {
		return 0
	}
	return s.Listing.ID
}

// Duration returns the elapsed time since acceptance, or 0 when the start
// time was never recorded.
func (s *Session) Duration(now time.Time) time.Duration {
	if s == nil || s.StartedAt.IsZero() {
		return 0
	}
	d := now.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}
