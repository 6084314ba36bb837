// Package media implements the carrier media-stream leg: the websocket
// endpoint the carrier connects to, the JSON frame envelope, and the
// per-call AudioBridge that shuttles audio between the carrier and the AI
// session, including barge-in truncation.
package media

// Carrier frame event kinds.
const (
	EventStart = "start"
	EventMedia = "media"
	EventMark  = "mark"
	EventStop  = "stop"
	EventClear = "clear"
)

// Frame is one carrier websocket envelope. Exactly one of the pointer
// fields is set, matching Event.
type Frame struct {
	Event    string     `json:"event"`
	StreamID string     `json:"stream_id,omitempty"`
	Start    *StartMeta `json:"start,omitempty"`
	Media    *MediaMeta `json:"media,omitempty"`
	Mark     *MarkMeta  `json:"mark,omitempty"`
}

// StartMeta opens a media stream and binds it to a call.
type StartMeta struct {
	StreamID string `json:"stream_id"`
	CallID   string `json:"call_id"`
}

// MediaMeta carries one base64 narrowband audio chunk. TimestampMS is
// monotonically increasing within a stream.
type MediaMeta struct {
	TimestampMS int64  `json:"timestamp_ms"`
	Payload     string `json:"payload"`
}

// MarkMeta acknowledges playback progress for a named mark.
type MarkMeta struct {
	Name string `json:"name"`
}
