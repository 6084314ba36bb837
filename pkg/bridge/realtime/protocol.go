// Package realtime implements the persistent JSON-message connection to the
// AI speech provider: frame types, streamed function-call reassembly, and
// the per-call session connector with bounded reconnect.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client→server frame types.
const (
	TypeResponseCreate = "response.create"
	TypeItemCreate     = "conversation.item.create"
	TypeItemTruncate   = "conversation.item.truncate"
	TypeSessionUpdate  = "session.update"
	TypeAudioAppend    = "input_audio_buffer.append"
)

// Server→client frame types.
const (
	TypeAudioDelta     = "response.output_audio.delta"
	TypeArgumentsDelta = "response.function_call_arguments.delta"
	TypeArgumentsDone  = "response.function_call_arguments.done"
	TypeSpeechStarted  = "input_audio_buffer.speech_started"
	TypeSessionCreated = "session.created"
	TypeSessionUpdated = "session.updated"
	TypeResponseDone   = "response.done"
	TypeError          = "error"
)

// ResponseCreate asks the model to produce a response, optionally steered
// by one-shot instructions ("tell the caller ...").
type ResponseCreate struct {
	Type     string          `json:"type"`
	Response *ResponseConfig `json:"response,omitempty"`
}

type ResponseConfig struct {
	Instructions string `json:"instructions,omitempty"`
}

// NewSpokenInstruction builds the frame the dispatcher uses to speak a tool
// outcome back to the caller.
func NewSpokenInstruction(instructions string) ResponseCreate {
	return ResponseCreate{
		Type:     TypeResponseCreate,
		Response: &ResponseConfig{Instructions: instructions},
	}
}

// ItemCreate injects a conversation item (e.g. a system context message).
type ItemCreate struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// NewSystemContext builds a system message item carrying call context such
// as the active listing id.
func NewSystemContext(text string) ItemCreate {
	return ItemCreate{
		Type: TypeItemCreate,
		Item: ConversationItem{
			Type:    "message",
			Role:    "system",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

// ItemTruncate cuts an already-played output item at audio_end_ms. Sent on
// barge-in so the model's transcript matches what the caller actually heard.
type ItemTruncate struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int64  `json:"audio_end_ms"`
}

// NewTruncate builds a truncate frame for the given output item.
func NewTruncate(itemID string, audioEndMS int64) ItemTruncate {
	return ItemTruncate{
		Type:       TypeItemTruncate,
		ItemID:     itemID,
		AudioEndMS: audioEndMS,
	}
}

// AudioAppend forwards one caller audio frame to the model.
type AudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// SessionUpdate reconfigures the live session.
type SessionUpdate struct {
	Type    string         `json:"type"`
	Session map[string]any `json:"session"`
}

// ServerEvent is a decoded provider frame.
type ServerEvent interface {
	eventType() string
}

// AudioDeltaEvent carries a base64 chunk of synthesized speech.
type AudioDeltaEvent struct {
	ItemID string
	Delta  string
}

func (e AudioDeltaEvent) eventType() string { return TypeAudioDelta }

// ArgumentsDeltaEvent carries one streamed fragment of function-call
// arguments for an item.
type ArgumentsDeltaEvent struct {
	ItemID string
	Name   string
	Delta  string
}

func (e ArgumentsDeltaEvent) eventType() string { return TypeArgumentsDelta }

// ArgumentsDoneEvent terminates a streamed function call. Name and
// Arguments may be empty; consumers fall back to the buffered fragments.
type ArgumentsDoneEvent struct {
	ItemID    string
	Name      string
	Arguments string
}

func (e ArgumentsDoneEvent) eventType() string { return TypeArgumentsDone }

// SpeechStartedEvent signals the caller began speaking (barge-in trigger).
type SpeechStartedEvent struct {
	AudioStartMS int64
}

func (e SpeechStartedEvent) eventType() string { return TypeSpeechStarted }

// SessionEvent covers session.created and session.updated.
type SessionEvent struct {
	Kind string
}

func (e SessionEvent) eventType() string { return e.Kind }

// ResponseDoneEvent marks a full model response as finished.
type ResponseDoneEvent struct{}

func (e ResponseDoneEvent) eventType() string { return TypeResponseDone }

// ErrorEvent is a provider-reported error.
type ErrorEvent struct {
	Code    string
	Message string
}

func (e ErrorEvent) eventType() string { return TypeError }

// UnknownEvent preserves frames this bridge does not act on.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) eventType() string { return e.Type }

// DecodeServerEvent decodes one provider frame by its type discriminator.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, fmt.Errorf("frame missing type")
	}

	switch typ {
	case TypeAudioDelta:
		var frame struct {
			ItemID string `json:"item_id"`
			Delta  string `json:"delta"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return AudioDeltaEvent{ItemID: frame.ItemID, Delta: frame.Delta}, nil
	case TypeArgumentsDelta:
		var frame struct {
			ItemID string `json:"item_id"`
			Name   string `json:"name"`
			Delta  string `json:"delta"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return ArgumentsDeltaEvent{ItemID: frame.ItemID, Name: frame.Name, Delta: frame.Delta}, nil
	case TypeArgumentsDone:
		var frame struct {
			ItemID    string `json:"item_id"`
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return ArgumentsDoneEvent{ItemID: frame.ItemID, Name: frame.Name, Arguments: frame.Arguments}, nil
	case TypeSpeechStarted:
		var frame struct {
			AudioStartMS int64 `json:"audio_start_ms"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return SpeechStartedEvent{AudioStartMS: frame.AudioStartMS}, nil
	case TypeSessionCreated, TypeSessionUpdated:
		return SessionEvent{Kind: typ}, nil
	case TypeResponseDone:
		return ResponseDoneEvent{}, nil
	case TypeError:
		var frame struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return ErrorEvent{Code: frame.Error.Code, Message: frame.Error.Message}, nil
	default:
		return UnknownEvent{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
