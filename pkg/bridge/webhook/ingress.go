package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/leaseline/voicebridge/pkg/bridge/apierror"
	"github.com/leaseline/voicebridge/pkg/bridge/call"
	"github.com/leaseline/voicebridge/pkg/bridge/crm"
	"github.com/leaseline/voicebridge/pkg/bridge/mw"
	"github.com/leaseline/voicebridge/pkg/bridge/tools"
	"github.com/leaseline/voicebridge/pkg/core"
)

// Webhook signature headers.
const (
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderSignature = "X-Webhook-Signature"
)

// Webhook event kinds.
const (
	EventCallIncoming = "call.incoming"
	EventCallEnded    = "call.ended"
)

// Event is one provider webhook payload.
type Event struct {
	Type    string            `json:"type"`
	CallID  string            `json:"call_id"`
	From    string            `json:"from"`
	Headers map[string]string `json:"headers,omitempty"`
	Cause   string            `json:"cause,omitempty"`
}

// dialedNumberHeaders are scanned in priority order: carriers sometimes
// rewrite To, so forwarding and diversion headers act as fallbacks.
var dialedNumberHeaders = []string{"To", "X-Forwarded-To", "Diversion"}

// DialedNumber returns the first candidate header whose value normalizes to
// a plausible E.164 number.
func DialedNumber(headers map[string]string) string {
	for _, name := range dialedNumberHeaders {
		if e164 := tools.NormalizePhone(headers[name]); tools.PlausiblePhone(e164) {
			return e164
		}
	}
	return ""
}

// Provider accepts incoming calls.
type Provider interface {
	AcceptCall(ctx context.Context, req AcceptRequest) error
}

// CRMGateway is the slice of the CRM client the ingress needs.
type CRMGateway interface {
	ListingByNumber(ctx context.Context, e164 string) (*crm.Listing, error)
	LogCallStart(ctx context.Context, start crm.CallStart) (int64, error)
	LogCallEnd(ctx context.Context, end crm.CallEnd) error
}

// Attacher connects accepted calls to their AI session and media bridge
// after the webhook response has been sent.
type Attacher interface {
	Attach(callID string)
	Detach(callID string, cause string)
}

// Hooks are optional ingress observability callbacks.
type Hooks struct {
	Accepted  func()
	Duplicate func()
	Ended     func(duration time.Duration)
}

// Ingress handles POST /webhooks/call.
type Ingress struct {
	secret    string
	tolerance time.Duration
	model     string
	voice     string

	registry *call.Registry
	gateway  CRMGateway
	provider Provider
	attacher Attacher
	logger   *slog.Logger
	hooks    Hooks
	now      func() time.Time
}

// NewIngress builds the webhook handler. attacher may be nil in tests.
func NewIngress(secret, model, voice string, tolerance time.Duration, registry *call.Registry, gateway CRMGateway, provider Provider, attacher Attacher, logger *slog.Logger, hooks Hooks) *Ingress {
	if logger == nil {
		logger = slog.Default()
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Ingress{
		secret:    secret,
		tolerance: tolerance,
		model:     model,
		voice:     voice,
		registry:  registry,
		gateway:   gateway,
		provider:  provider,
		attacher:  attacher,
		logger:    logger,
		hooks:     hooks,
		now:       time.Now,
	}
}

func (in *Ingress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := mw.RequestIDFromContext(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		apierror.Write(w, core.NewInvalidRequestError("unreadable request body"), requestID)
		return
	}
	err = VerifySignature(in.secret, r.Header.Get(HeaderTimestamp), r.Header.Get(HeaderSignature), body, in.now(), in.tolerance)
	if err != nil {
		in.logger.Warn("webhook rejected", "request_id", requestID, "error", err)
		apierror.Write(w, core.NewInvalidRequestError("invalid webhook signature"), requestID)
		return
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		apierror.Write(w, core.NewInvalidRequestError("malformed webhook payload"), requestID)
		return
	}
	if event.CallID == "" || event.Type == "" {
		apierror.Write(w, core.NewInvalidRequestError("webhook payload missing type or call_id"), requestID)
		return
	}

	switch event.Type {
	case EventCallIncoming:
		in.handleIncoming(w, r, event, requestID)
	case EventCallEnded:
		in.handleEnded(w, r, event, requestID)
	default:
		// Unrecognized events are acknowledged and ignored.
		in.logger.Debug("ignoring webhook event", "type", event.Type, "call_id", event.CallID)
		writeOK(w, "ignored")
	}
}

func (in *Ingress) handleIncoming(w http.ResponseWriter, r *http.Request, event Event, requestID string) {
	ctx := r.Context()

	seen, err := in.registry.Seen(ctx, event.CallID)
	if err != nil {
		in.logger.Error("seen lookup failed", "call_id", event.CallID, "error", err)
		apierror.Write(w, err, requestID)
		return
	}
	if seen {
		in.logger.Info("duplicate call webhook", "call_id", event.CallID)
		if in.hooks.Duplicate != nil {
			in.hooks.Duplicate()
		}
		writeOK(w, "duplicate")
		return
	}

	caller := tools.NormalizePhone(event.From)
	dialed := DialedNumber(event.Headers)

	// A listing lookup failure is non-fatal; the call proceeds with an
	// empty listing context.
	var listing *crm.Listing
	if dialed != "" {
		listing, err = in.gateway.ListingByNumber(ctx, dialed)
		if err != nil {
			in.logger.Warn("listing lookup failed", "call_id", event.CallID, "dialed", dialed, "error", err)
			listing = nil
		}
	}

	accept := AcceptRequest{
		CallID:       event.CallID,
		Model:        in.model,
		Instructions: BuildInstructions(listing),
		Voice:        in.voice,
		Tools:        tools.Definitions(),
	}
	if err := in.provider.AcceptCall(ctx, accept); err != nil {
		in.logger.Error("accept-call rejected", "call_id", event.CallID, "error", err)
		apierror.Write(w, err, requestID)
		return
	}

	accepted, err := in.registry.Accept(ctx, event.CallID)
	if err != nil {
		in.logger.Error("accept gate failed", "call_id", event.CallID, "error", err)
		apierror.Write(w, err, requestID)
		return
	}
	if !accepted {
		// Lost a redelivery race after the provider call; treat as duplicate.
		in.logger.Info("duplicate call webhook", "call_id", event.CallID)
		if in.hooks.Duplicate != nil {
			in.hooks.Duplicate()
		}
		writeOK(w, "duplicate")
		return
	}

	sess := &call.Session{
		CallID:       event.CallID,
		State:        call.StateAccepted,
		StartedAt:    in.now(),
		CallerNumber: caller,
		DialedNumber: dialed,
		Listing:      listing,
	}
	if err := in.registry.Put(ctx, sess); err != nil {
		in.logger.Error("session create failed", "call_id", event.CallID, "error", err)
		apierror.Write(w, err, requestID)
		return
	}

	in.logger.Info("call accepted", "call_id", event.CallID, "caller", caller, "dialed", dialed,
		"listing_id", sess.ListingID())
	if in.hooks.Accepted != nil {
		in.hooks.Accepted()
	}

	// Fire-and-forget CRM logging; errors never reach the caller-facing
	// response.
	go in.logCallStart(event.CallID, caller, dialed, sess.ListingID())

	writeOK(w, "accepted")

	// Session attachment happens after the fast ack.
	if in.attacher != nil {
		go in.attacher.Attach(event.CallID)
	}
}

func (in *Ingress) logCallStart(callID, from, to string, listingID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logID, err := in.gateway.LogCallStart(ctx, crm.CallStart{
		CallID:    callID,
		From:      from,
		To:        to,
		ListingID: listingID,
	})
	if err != nil {
		in.logger.Warn("call-start log failed", "call_id", callID, "error", err)
		return
	}
	_, err = in.registry.Update(ctx, callID, func(s *call.Session) {
		s.CRMCallLogID = logID
	})
	if err != nil {
		in.logger.Warn("call log id update failed", "call_id", callID, "error", err)
	}
}

func (in *Ingress) handleEnded(w http.ResponseWriter, r *http.Request, event Event, requestID string) {
	ctx := r.Context()

	sess, ok, err := in.registry.End(ctx, event.CallID)
	if err != nil {
		in.logger.Error("call end failed", "call_id", event.CallID, "error", err)
		apierror.Write(w, err, requestID)
		return
	}
	if !ok {
		// Already finalized elsewhere, or never known. Idempotent.
		in.logger.Info("call already ended", "call_id", event.CallID)
		writeOK(w, "ended")
		return
	}

	duration := sess.Duration(in.now())
	in.logger.Info("call ended", "call_id", event.CallID, "duration_s", int64(duration.Seconds()), "cause", event.Cause)
	if in.hooks.Ended != nil {
		in.hooks.Ended(duration)
	}
	if in.attacher != nil {
		in.attacher.Detach(event.CallID, event.Cause)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := in.gateway.LogCallEnd(ctx, crm.CallEnd{
			CallID:          event.CallID,
			CallLogID:       sess.CRMCallLogID,
			DurationSeconds: int64(duration.Seconds()),
			Status:          crm.CallStatusCompleted,
			Cause:           event.Cause,
		})
		if err != nil {
			in.logger.Warn("call-end log failed", "call_id", event.CallID, "error", err)
		}
	}()

	writeOK(w, "ended")
}

func writeOK(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "{\"status\":%q}\n", status)
}

// BuildInstructions renders the session prompt: the agent's role plus a
// property-facts narrative for the resolved listing.
func BuildInstructions(listing *crm.Listing) string {
	var b strings.Builder
	b.WriteString("You are a friendly leasing assistant answering calls about rental properties. ")
	b.WriteString("Keep answers short and conversational. Use the booking tools to check availability, ")
	b.WriteString("save caller details, and manage viewing appointments. Never invent availability.")

	if listing == nil {
		b.WriteString("\n\nNo specific listing is linked to this number; ask the caller which property they mean.")
		return b.String()
	}

	b.WriteString("\n\nThe caller dialed the number for this listing:\n")
	fmt.Fprintf(&b, "- Title: %s\n", listing.Title)
	if listing.Address != "" {
		fmt.Fprintf(&b, "- Address: %s", listing.Address)
		if listing.City != "" {
			fmt.Fprintf(&b, ", %s", listing.City)
		}
		b.WriteString("\n")
	}
	if listing.MonthlyRent > 0 {
		fmt.Fprintf(&b, "- Monthly rent: %d\n", listing.MonthlyRent)
	}
	if listing.Bedrooms > 0 {
		fmt.Fprintf(&b, "- Bedrooms: %d\n", listing.Bedrooms)
	}
	if listing.Sqm > 0 {
		fmt.Fprintf(&b, "- Size: %d sqm\n", listing.Sqm)
	}
	if listing.Floor != "" {
		fmt.Fprintf(&b, "- Floor: %s\n", listing.Floor)
	}
	if listing.Available != "" {
		fmt.Fprintf(&b, "- Available from: %s\n", listing.Available)
	}
	if listing.Notes != "" {
		fmt.Fprintf(&b, "- Notes: %s\n", listing.Notes)
	}
	return b.String()
}
