package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leaseline/voicebridge/pkg/core"
)

const defaultConnectTimeout = 15 * time.Second

// State is the connector lifecycle phase.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config describes the provider session for one call.
type Config struct {
	URL          string
	APIKey       string
	Model        string
	Voice        string
	Instructions string

	// Greeting is the one-shot spoken opener requested after the session
	// settles. ContextItem, when non-empty, is injected as a system message
	// alongside it (e.g. the matched listing id).
	Greeting    string
	ContextItem string

	// SettleDelay is the wait after the socket opens before the greeting is
	// requested, giving the provider time to apply the session config.
	SettleDelay time.Duration

	Backoff Backoff
}

// Hooks receive decoded session events. Nil hooks are skipped. All hooks are
// invoked from the connector's read loop, one at a time.
type Hooks struct {
	Opened           func()
	AudioDelta       func(itemID, deltaB64 string)
	SpeechStarted    func(audioStartMS int64)
	ToolCall         func(ctx context.Context, call ToolCall)
	ReconnectAttempt func(attempt int)
	Closed           func(outcome Outcome)
}

// Outcome summarizes how the session ended. Opened reports whether any dial
// ever succeeded; Err is the terminal error for abnormal endings.
type Outcome struct {
	Opened bool
	Err    error
}

// Completed reports whether the session counts as a normal call.
func (o Outcome) Completed() bool {
	return o.Opened && o.Err == nil
}

// Connector maintains the provider websocket for one call: dial with bounded
// backoff, configure the session, and route events. Backoff applies only
// while the session has never opened; once open, any close is final.
type Connector struct {
	cfg    Config
	hooks  Hooks
	logger *slog.Logger
	dialer *websocket.Dialer

	reasm *Reassembler

	writeMu sync.Mutex
	connMu  sync.Mutex
	conn    *websocket.Conn

	state      atomic.Int32
	openedOnce atomic.Bool
	stopped    atomic.Bool
	closeOnce  sync.Once
	done       chan struct{}
}

// NewConnector builds a connector; Run starts it.
func NewConnector(cfg Config, hooks Hooks, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Backoff.MaxAttempts == 0 {
		cfg.Backoff = DefaultBackoff()
	}
	return &Connector{
		cfg:    cfg,
		hooks:  hooks,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: defaultConnectTimeout},
		reasm:  NewReassembler(),
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle phase.
func (c *Connector) State() State {
	if c == nil {
		return StateClosed
	}
	return State(c.state.Load())
}

// Done is closed once the session has fully ended.
func (c *Connector) Done() <-chan struct{} {
	if c == nil {
		return nil
	}
	return c.done
}

// Run drives the session until the call ends or the dial budget is spent.
// It blocks; callers run it in its own goroutine. The Closed hook fires
// exactly once, after the socket is gone.
func (c *Connector) Run(ctx context.Context) {
	if c == nil {
		return
	}
	var lastErr error

	conn, err := c.dialWithBackoff(ctx)
	if err != nil {
		lastErr = err
	} else {
		c.setConn(conn)
		c.state.Store(int32(StateOpen))
		c.openedOnce.Store(true)
		c.logger.Info("provider session open", "model", c.cfg.Model)
		if c.hooks.Opened != nil {
			c.hooks.Opened()
		}

		if err := c.configureSession(ctx); err != nil {
			c.logger.Warn("session configure failed", "error", err)
		}

		err = c.readLoop(ctx)
		c.setConn(nil)
		_ = conn.Close()

		// Once the session has opened, any close is final. Our own Close
		// and context cancellation end the call cleanly; an abnormal close
		// code marks it failed.
		switch {
		case c.stopped.Load() || ctx.Err() != nil:
		case err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		default:
			c.logger.Warn("provider socket dropped", "error", err)
			lastErr = err
		}
	}

	c.state.Store(int32(StateClosed))
	outcome := Outcome{Opened: c.openedOnce.Load(), Err: lastErr}
	c.closeOnce.Do(func() { close(c.done) })
	if c.hooks.Closed != nil {
		c.hooks.Closed(outcome)
	}
}

// Close ends the session from our side. The close counts as a normal ending
// regardless of how the socket reacts.
func (c *Connector) Close() {
	if c == nil {
		return
	}
	c.stopped.Store(true)
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
}

// SendAudio forwards one base64 caller audio frame.
func (c *Connector) SendAudio(audioB64 string) error {
	return c.sendJSON(AudioAppend{Type: TypeAudioAppend, Audio: audioB64})
}

// SendTruncate cuts the given output item at audioEndMS.
func (c *Connector) SendTruncate(itemID string, audioEndMS int64) error {
	return c.sendJSON(NewTruncate(itemID, audioEndMS))
}

// Speak asks the model to produce a response steered by instructions. The
// tool dispatcher uses it to voice results back to the caller.
func (c *Connector) Speak(instructions string) error {
	return c.sendJSON(NewSpokenInstruction(instructions))
}

func (c *Connector) sendJSON(v any) error {
	if c == nil {
		return core.NewInvalidRequestError("connector must not be nil")
	}
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil || c.State() != StateOpen {
		return core.NewProviderError("realtime", errors.New("session is not open"))
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Connector) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Connector) dialWithBackoff(ctx context.Context) (*websocket.Conn, error) {
	headers := make(http.Header)
	if c.cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Backoff.MaxAttempts; attempt++ {
		if c.stopped.Load() {
			return nil, errors.New("connector closed")
		}
		if attempt > 1 {
			if c.hooks.ReconnectAttempt != nil {
				c.hooks.ReconnectAttempt(attempt)
			}
			// Retry n waits Delay(n): the first retry at the base delay.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.Backoff.Delay(attempt - 1)):
			}
		}

		dialCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
		conn, resp, err := c.dialer.DialContext(dialCtx, c.cfg.URL, headers)
		cancel()
		if err == nil {
			return conn, nil
		}
		if resp != nil {
			lastErr = fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		} else {
			lastErr = err
		}
		c.logger.Warn("provider dial failed", "attempt", attempt, "error", lastErr)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("provider unreachable after %d attempts: %w", c.cfg.Backoff.MaxAttempts, lastErr)
}

// configureSession applies the session config, waits for the provider to
// settle, then requests the greeting and injects call context.
func (c *Connector) configureSession(ctx context.Context) error {
	update := SessionUpdate{
		Type: TypeSessionUpdate,
		Session: map[string]any{
			"model":        c.cfg.Model,
			"voice":        c.cfg.Voice,
			"instructions": c.cfg.Instructions,
		},
	}
	if err := c.sendJSON(update); err != nil {
		return err
	}

	if c.cfg.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.SettleDelay):
		}
	}

	if text := strings.TrimSpace(c.cfg.ContextItem); text != "" {
		if err := c.sendJSON(NewSystemContext(text)); err != nil {
			return err
		}
	}
	if greeting := strings.TrimSpace(c.cfg.Greeting); greeting != "" {
		return c.sendJSON(NewSpokenInstruction(greeting))
	}
	return nil
}

func (c *Connector) readLoop(ctx context.Context) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return errors.New("no connection")
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		event, err := DecodeServerEvent(data)
		if err != nil {
			c.logger.Warn("undecodable provider frame", "error", err)
			continue
		}
		c.route(ctx, event)
	}
}

func (c *Connector) route(ctx context.Context, event ServerEvent) {
	switch e := event.(type) {
	case AudioDeltaEvent:
		if c.hooks.AudioDelta != nil {
			c.hooks.AudioDelta(e.ItemID, e.Delta)
		}
	case SpeechStartedEvent:
		if c.hooks.SpeechStarted != nil {
			c.hooks.SpeechStarted(e.AudioStartMS)
		}
	case ArgumentsDeltaEvent:
		c.reasm.Delta(e.ItemID, e.Name, e.Delta)
	case ArgumentsDoneEvent:
		call, err := c.reasm.Done(e.ItemID, e.Name, e.Arguments)
		if err != nil {
			c.logger.Warn("tool call dropped", "item_id", e.ItemID, "error", err)
			return
		}
		if call == nil {
			c.logger.Warn("unnamed tool call dropped", "item_id", e.ItemID)
			return
		}
		if c.hooks.ToolCall != nil {
			c.hooks.ToolCall(ctx, *call)
		}
	case ErrorEvent:
		c.logger.Error("provider error", "code", e.Code, "message", e.Message)
	case SessionEvent, ResponseDoneEvent:
		// No action; kept for completeness of the decoded stream.
	case UnknownEvent:
		c.logger.Debug("unhandled provider frame", "type", e.Type)
	}
}
