package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolCall is one fully reassembled function invocation.
type ToolCall struct {
	ItemID string
	Name   string
	Args   map[string]any
}

// Reassembler accumulates streamed function-call argument fragments keyed
// by item id until the matching done event arrives. It is not safe for
// concurrent use; the connector owns one per session and feeds it from a
// single read loop.
type Reassembler struct {
	pending map[string]*pendingCall
}

type pendingCall struct {
	name string
	args strings.Builder
}

// NewReassembler returns an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{pending: make(map[string]*pendingCall)}
}

// Delta buffers one argument fragment for an item. A delta carrying a name
// overwrites whatever name earlier fragments established.
func (r *Reassembler) Delta(itemID, name, fragment string) {
	if itemID == "" {
		return
	}
	call, ok := r.pending[itemID]
	if !ok {
		call = &pendingCall{}
		r.pending[itemID] = call
	}
	if name != "" {
		call.name = name
	}
	call.args.WriteString(fragment)
}

// Done finalizes the call for an item. Fields on the done event win over
// buffered state; buffered fragments fill whatever the done event omits.
// The item's buffer is discarded whether the call parses or not.
//
// Returns (nil, nil) when the call carries no name: such calls are dropped,
// not dispatched.
func (r *Reassembler) Done(itemID, name, arguments string) (*ToolCall, error) {
	call := r.pending[itemID]
	delete(r.pending, itemID)

	if name == "" && call != nil {
		name = call.name
	}
	if arguments == "" && call != nil {
		arguments = call.args.String()
	}
	if name == "" {
		return nil, nil
	}
	if arguments == "" {
		arguments = "{}"
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return nil, fmt.Errorf("tool %s: malformed arguments: %w", name, err)
	}
	return &ToolCall{ItemID: itemID, Name: name, Args: args}, nil
}

// Pending reports how many items have buffered fragments.
func (r *Reassembler) Pending() int {
	return len(r.pending)
}
