package server

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/leaseline/voicebridge/pkg/bridge/call"
	"github.com/leaseline/voicebridge/pkg/bridge/config"
	"github.com/leaseline/voicebridge/pkg/bridge/crm"
	"github.com/leaseline/voicebridge/pkg/bridge/media"
	"github.com/leaseline/voicebridge/pkg/bridge/metrics"
	"github.com/leaseline/voicebridge/pkg/bridge/realtime"
	"github.com/leaseline/voicebridge/pkg/bridge/sessions"
	"github.com/leaseline/voicebridge/pkg/bridge/tools"
)

// Orchestrator attaches accepted calls to their AI session, media bridge,
// and tool dispatcher. It satisfies webhook.Attacher.
type Orchestrator struct {
	cfg      config.Config
	registry *call.Registry
	gateway  *crm.Client
	hub      *media.Hub
	tracker  *sessions.Tracker
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewOrchestrator builds the per-call wiring layer.
func NewOrchestrator(cfg config.Config, registry *call.Registry, gateway *crm.Client, hub *media.Hub, tracker *sessions.Tracker, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		gateway:  gateway,
		hub:      hub,
		tracker:  tracker,
		metrics:  m,
		logger:   logger,
	}
}

// Attach spins up the AI session for an accepted call. Runs after the
// webhook response has been sent; all failures are call-scoped.
func (o *Orchestrator) Attach(callID string) {
	ctx := context.Background()

	sess, ok, err := o.registry.Get(ctx, callID)
	if err != nil || !ok {
		o.logger.Warn("attach skipped, no session", "call_id", callID, "error", err)
		return
	}

	connCfg := realtime.Config{
		URL:         o.cfg.ProviderWSURL,
		APIKey:      o.cfg.ProviderAPIKey,
		Model:       o.cfg.Model,
		Voice:       o.cfg.Voice,
		SettleDelay: o.cfg.SettleDelay,
		Backoff: realtime.Backoff{
			MaxAttempts: o.cfg.ReconnectMax,
			Base:        o.cfg.ReconnectBase,
			Cap:         o.cfg.ReconnectCap,
		},
	}
	if id := sess.ListingID(); id != 0 {
		connCfg.ContextItem = listingContext(sess.Listing)
	}

	logger := o.logger.With("call_id", callID)

	// The dispatcher and bridge both need the connector, and the connector
	// needs them in its hooks; the closures bind late, before Run starts.
	var (
		dispatcher *tools.Dispatcher
		bridge     *media.Bridge
	)
	hooks := realtime.Hooks{
		Opened: func() {
			_, err := o.registry.Update(ctx, callID, func(s *call.Session) {
				s.State = call.StateStreaming
			})
			if err != nil {
				logger.Warn("state update failed", "error", err)
			}
		},
		AudioDelta: func(itemID, deltaB64 string) {
			bridge.HandleAudioDelta(itemID, deltaB64)
		},
		SpeechStarted: func(int64) {
			bridge.HandleSpeechStarted()
		},
		ToolCall: func(ctx context.Context, tc realtime.ToolCall) {
			dispatcher.Dispatch(ctx, tc.Name, tc.Args)
		},
		ReconnectAttempt: func(int) {
			o.metrics.RecordReconnectAttempt()
		},
		Closed: func(outcome realtime.Outcome) {
			o.finalizeConnection(callID, outcome)
		},
	}
	connector := realtime.NewConnector(connCfg, hooks, logger)

	dispatcher = tools.NewDispatcher(callID, o.gateway, o.registry, connector, logger, o.metrics.RecordToolDispatch)

	session := &countingSession{Connector: connector, metrics: o.metrics}
	bridge = media.NewBridge(callID, session, sess.Listing, logger, func(durationMS int64) {
		o.finalizeMedia(callID, durationMS)
	})
	o.hub.Register(callID, bridge)

	unregister := o.tracker.Register(callID, sessions.Handle{Cancel: connector.Close})

	go func() {
		defer unregister()
		connector.Run(ctx)
	}()
}

// Detach tears down the AI session for an ended call.
func (o *Orchestrator) Detach(callID string, cause string) {
	o.logger.Info("detaching call", "call_id", callID, "cause", cause)
	if !o.tracker.Cancel(callID) {
		o.hub.Remove(callID)
	}
}

// finalizeConnection handles the connector's final close: one CRM call-end,
// derived from whether the session ever opened cleanly. A call already
// ended through another path is left alone.
func (o *Orchestrator) finalizeConnection(callID string, outcome realtime.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	o.hub.Remove(callID)

	sess, ok, err := o.registry.End(ctx, callID)
	if err != nil {
		o.logger.Error("call teardown failed", "call_id", callID, "error", err)
		return
	}
	if !ok {
		return
	}

	status := crm.CallStatusFailed
	if outcome.Completed() {
		status = crm.CallStatusCompleted
	}
	duration := sess.Duration(time.Now())
	o.logger.Info("call finalized", "call_id", callID, "status", status,
		"duration_s", int64(duration.Seconds()), "error", outcome.Err)
	o.metrics.RecordCallEnded(duration)

	err = o.gateway.LogCallEnd(ctx, crm.CallEnd{
		CallID:          callID,
		CallLogID:       sess.CRMCallLogID,
		DurationSeconds: int64(duration.Seconds()),
		Status:          status,
	})
	if err != nil {
		o.logger.Warn("call-end log failed", "call_id", callID, "error", err)
	}
}

// finalizeMedia handles carrier stream teardown, using the accumulated
// media timestamp as the call duration. The provider connector is cancelled
// too; the carrier hanging up ends the whole call.
func (o *Orchestrator) finalizeMedia(callID string, durationMS int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	o.tracker.Cancel(callID)

	sess, ok, err := o.registry.End(ctx, callID)
	if err != nil {
		o.logger.Error("call teardown failed", "call_id", callID, "error", err)
		return
	}
	if !ok {
		return
	}

	duration := time.Duration(durationMS) * time.Millisecond
	o.logger.Info("call finalized", "call_id", callID, "status", crm.CallStatusCompleted,
		"duration_s", int64(duration.Seconds()))
	o.metrics.RecordCallEnded(duration)

	err = o.gateway.LogCallEnd(ctx, crm.CallEnd{
		CallID:          callID,
		CallLogID:       sess.CRMCallLogID,
		DurationSeconds: int64(duration.Seconds()),
		Status:          crm.CallStatusCompleted,
	})
	if err != nil {
		o.logger.Warn("call-end log failed", "call_id", callID, "error", err)
	}
}

// countingSession wraps the connector to count truncations actually sent.
type countingSession struct {
	*realtime.Connector
	metrics *metrics.Metrics
}

func (s *countingSession) SendTruncate(itemID string, audioEndMS int64) error {
	err := s.Connector.SendTruncate(itemID, audioEndMS)
	if err == nil {
		s.metrics.RecordBargeIn()
	}
	return err
}

// listingContext is the system message injected after the session settles.
func listingContext(listing *crm.Listing) string {
	if listing == nil {
		return ""
	}
	return "Active listing id: " + strconv.FormatInt(listing.ID, 10)
}
