package tools

// Tool is one function definition sent on the accept-call request.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Tool names dispatched by this bridge.
const (
	ToolSaveLead          = "save_lead"
	ToolGetNextSlot       = "get_next_slot"
	ToolCreateAppointment = "create_appointment"
	ToolUpdateAppointment = "update_appointment"
	ToolCancelAppointment = "cancel_appointment"
)

// Definitions returns the fixed tool schema offered on every call.
func Definitions() []Tool {
	return []Tool{
		{
			Type:        "function",
			Name:        ToolSaveLead,
			Description: "Save the caller as a lead for the listing they asked about.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":  map[string]any{"type": "string", "description": "Caller's full name."},
					"phone": map[string]any{"type": "string", "description": "Callback number; omit to use the caller's own number."},
					"email": map[string]any{"type": "string"},
					"notes": map[string]any{"type": "string", "description": "Anything worth remembering about the caller's needs."},
					"status": map[string]any{
						"type": "string",
						"enum": []string{"new", "contacted", "qualified", "waitlist", "rejected"},
					},
				},
				"required": []string{"phone"},
			},
		},
		{
			Type:        "function",
			Name:        ToolGetNextSlot,
			Description: "Look up the next available viewing slot for a listing.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"listing_id": map[string]any{"type": "integer", "description": "Omit to use the listing for the dialed number."},
				},
			},
		},
		{
			Type:        "function",
			Name:        ToolCreateAppointment,
			Description: "Book a viewing appointment in a previously offered or explicit slot.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"slot_id":      map[string]any{"type": "integer", "description": "Slot to book; omit to use the most recently offered slot."},
					"time_slot_id": map[string]any{"type": "integer", "description": "Alias for slot_id."},
					"name":         map[string]any{"type": "string"},
					"phone":        map[string]any{"type": "string", "description": "Omit to use the caller's own number."},
					"email":        map[string]any{"type": "string"},
				},
				"required": []string{"name"},
			},
		},
		{
			Type:        "function",
			Name:        ToolUpdateAppointment,
			Description: "Change an existing appointment's slot or contact details.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"appointment_id": map[string]any{"type": "integer"},
					"slot_id":        map[string]any{"type": "integer"},
					"time_slot_id":   map[string]any{"type": "integer", "description": "Alias for slot_id."},
					"name":           map[string]any{"type": "string"},
					"phone":          map[string]any{"type": "string"},
					"email":          map[string]any{"type": "string"},
				},
				"required": []string{"appointment_id"},
			},
		},
		{
			Type:        "function",
			Name:        ToolCancelAppointment,
			Description: "Cancel an existing appointment.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"appointment_id": map[string]any{"type": "integer"},
				},
				"required": []string{"appointment_id"},
			},
		},
	}
}
