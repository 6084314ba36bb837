package media

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/leaseline/voicebridge/pkg/bridge/crm"
)

// Narrowband audio runs at 8 kHz with one byte per sample, so payload bytes
// divide by 8 to give milliseconds of speech.
const bytesPerMillisecond = 8

// truncateGuardMS keeps the truncation point strictly inside the audio
// actually sent.
const truncateGuardMS = 10

// Session is the AI-side leg the bridge talks to. The realtime connector
// satisfies it.
type Session interface {
	SendAudio(audioB64 string) error
	SendTruncate(itemID string, audioEndMS int64) error
	Speak(instructions string) error
}

// CarrierLeg writes frames back to the carrier websocket.
type CarrierLeg interface {
	WriteFrame(f Frame) error
}

// Bridge shuttles audio for one call. All methods are safe for concurrent
// use; carrier frames and AI events arrive on different goroutines.
type Bridge struct {
	callID   string
	session  Session
	logger   *slog.Logger
	greeting string

	// onStop receives the accumulated stream duration in ms. Fired at most
	// once, from the first stop or disconnect.
	onStop func(durationMS int64)

	mu             sync.Mutex
	carrier        CarrierLeg
	streamID       string
	started        bool
	finalized      bool
	latestTS       int64
	lastItemID     string
	sentMS         int64
	utteranceStart int64
	marks          []string
	markSeq        int
}

// NewBridge builds the bridge for one call. onStop may be nil.
func NewBridge(callID string, session Session, listing *crm.Listing, logger *slog.Logger, onStop func(durationMS int64)) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		callID:         callID,
		session:        session,
		logger:         logger,
		greeting:       greetingFor(listing),
		onStop:         onStop,
		utteranceStart: -1,
	}
}

// greetingFor builds the deterministic opener for a resolved listing,
// falling back to a generic phrase when the listing has no usable title.
func greetingFor(listing *crm.Listing) string {
	if listing == nil {
		return "Greet the caller and ask which property they are calling about."
	}
	name := strings.TrimSpace(listing.Title)
	if name == "" {
		name = strings.TrimSpace(listing.Address)
	}
	if name == "" {
		return "Greet the caller and ask which property they are calling about."
	}
	return fmt.Sprintf("Greet the caller, mention you can help with the listing at %s, and ask how you can help.", name)
}

// Bind attaches the carrier websocket leg.
func (b *Bridge) Bind(leg CarrierLeg) {
	b.mu.Lock()
	b.carrier = leg
	b.mu.Unlock()
}

// HandleFrame processes one inbound carrier frame.
func (b *Bridge) HandleFrame(f Frame) {
	switch f.Event {
	case EventStart:
		b.handleStart(f)
	case EventMedia:
		b.handleMedia(f)
	case EventMark:
		b.handleMark(f)
	case EventStop:
		b.Finalize()
	default:
		b.logger.Debug("unhandled carrier frame", "call_id", b.callID, "event", f.Event)
	}
}

func (b *Bridge) handleStart(f Frame) {
	b.mu.Lock()
	if f.Start != nil {
		b.streamID = f.Start.StreamID
	}
	b.latestTS = 0
	b.resetUtteranceLocked()
	first := !b.started
	b.started = true
	b.mu.Unlock()

	b.logger.Info("media stream started", "call_id", b.callID, "stream_id", b.streamID)
	if first && b.greeting != "" {
		if err := b.session.Speak(b.greeting); err != nil {
			b.logger.Warn("greeting failed", "call_id", b.callID, "error", err)
		}
	}
}

func (b *Bridge) handleMedia(f Frame) {
	if f.Media == nil {
		return
	}
	b.mu.Lock()
	if f.Media.TimestampMS > b.latestTS {
		b.latestTS = f.Media.TimestampMS
	}
	b.mu.Unlock()

	if err := b.session.SendAudio(f.Media.Payload); err != nil {
		b.logger.Warn("audio forward failed", "call_id", b.callID, "error", err)
	}
}

func (b *Bridge) handleMark(f Frame) {
	if f.Mark == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, name := range b.marks {
		if name == f.Mark.Name {
			b.marks = append(b.marks[:i], b.marks[i+1:]...)
			return
		}
	}
}

// HandleAudioDelta forwards one AI audio chunk to the carrier. The first
// delta of a new output item starts a fresh utterance: its start timestamp
// is pinned to the carrier clock and a playback mark is emitted.
func (b *Bridge) HandleAudioDelta(itemID, deltaB64 string) {
	b.mu.Lock()
	leg := b.carrier
	streamID := b.streamID

	newUtterance := itemID != b.lastItemID || b.utteranceStart < 0
	if newUtterance {
		b.lastItemID = itemID
		b.utteranceStart = b.latestTS
		b.sentMS = 0
	}
	if n := decodedLen(deltaB64); n > 0 {
		b.sentMS += int64(n / bytesPerMillisecond)
	}
	var markName string
	if newUtterance {
		b.markSeq++
		markName = fmt.Sprintf("utt-%d", b.markSeq)
		b.marks = append(b.marks, markName)
	}
	b.mu.Unlock()

	if leg == nil {
		return
	}
	err := leg.WriteFrame(Frame{
		Event:    EventMedia,
		StreamID: streamID,
		Media:    &MediaMeta{Payload: deltaB64},
	})
	if err != nil {
		b.logger.Warn("carrier write failed", "call_id", b.callID, "error", err)
		return
	}
	if markName != "" {
		err := leg.WriteFrame(Frame{
			Event:    EventMark,
			StreamID: streamID,
			Mark:     &MarkMeta{Name: markName},
		})
		if err != nil {
			b.logger.Warn("mark write failed", "call_id", b.callID, "error", err)
		}
	}
}

// HandleSpeechStarted applies barge-in. Playback is truncated only when a
// mark is outstanding, the utterance start is known, and the amount of
// audio actually sent is known; the cut point never exceeds sent audio.
func (b *Bridge) HandleSpeechStarted() {
	b.mu.Lock()
	if len(b.marks) == 0 || b.utteranceStart < 0 {
		b.mu.Unlock()
		return
	}
	if b.sentMS <= 0 {
		// Duration unknown; never guess past actual audio sent.
		b.mu.Unlock()
		return
	}
	elapsed := b.latestTS - b.utteranceStart
	limit := b.sentMS - truncateGuardMS
	if limit < 0 {
		limit = 0
	}
	if elapsed > limit {
		elapsed = limit
	}
	if elapsed < 0 {
		elapsed = 0
	}
	itemID := b.lastItemID
	leg := b.carrier
	streamID := b.streamID
	b.resetUtteranceLocked()
	b.mu.Unlock()

	b.logger.Info("barge-in", "call_id", b.callID, "item_id", itemID, "audio_end_ms", elapsed)
	if err := b.session.SendTruncate(itemID, elapsed); err != nil {
		b.logger.Warn("truncate failed", "call_id", b.callID, "error", err)
	}
	if leg != nil {
		if err := leg.WriteFrame(Frame{Event: EventClear, StreamID: streamID}); err != nil {
			b.logger.Warn("clear write failed", "call_id", b.callID, "error", err)
		}
	}
}

func (b *Bridge) resetUtteranceLocked() {
	b.lastItemID = ""
	b.utteranceStart = -1
	b.sentMS = 0
	b.marks = nil
}

// Finalize ends the stream once; later calls are no-ops. The accumulated
// media timestamp is reported as the stream duration.
func (b *Bridge) Finalize() {
	b.mu.Lock()
	if b.finalized {
		b.mu.Unlock()
		return
	}
	b.finalized = true
	duration := b.latestTS
	b.mu.Unlock()

	b.logger.Info("media stream finished", "call_id", b.callID, "duration_ms", duration)
	if b.onStop != nil {
		b.onStop(duration)
	}
}

func decodedLen(payload string) int {
	n := base64.StdEncoding.DecodedLen(len(payload))
	// DecodedLen overestimates by the padding; trim it off.
	if strings.HasSuffix(payload, "==") {
		return n - 2
	}
	if strings.HasSuffix(payload, "=") {
		return n - 1
	}
	return n
}
