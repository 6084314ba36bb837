package crm

import "time"

// Listing is the active rental listing resolved for a dialed number.
type Listing struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Address     string `json:"address"`
	City        string `json:"city,omitempty"`
	MonthlyRent int    `json:"monthly_rent,omitempty"`
	Bedrooms    int    `json:"bedrooms,omitempty"`
	Sqm         int    `json:"sqm,omitempty"`
	Floor       string `json:"floor,omitempty"`
	Available   string `json:"available_from,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// Slot is a bookable viewing window with finite capacity.
type Slot struct {
	ID        int64     `json:"id"`
	ListingID int64     `json:"listing_id"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Capacity  int       `json:"capacity,omitempty"`
	Booked    int       `json:"booked,omitempty"`
}

// Lead is a prospective tenant captured during a call.
type Lead struct {
	ID        int64  `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Phone     string `json:"phone"`
	Email     string `json:"email,omitempty"`
	Notes     string `json:"notes,omitempty"`
	Status    string `json:"status"`
	CallLogID int64  `json:"call_log_id,omitempty"`
}

// Lead status values accepted by the gateway.
const (
	LeadStatusNew       = "new"
	LeadStatusContacted = "contacted"
	LeadStatusQualified = "qualified"
	LeadStatusWaitlist  = "waitlist"
	LeadStatusRejected  = "rejected"
)

// ValidLeadStatus reports whether s is one of the accepted lead statuses.
func ValidLeadStatus(s string) bool {
	switch s {
	case LeadStatusNew, LeadStatusContacted, LeadStatusQualified, LeadStatusWaitlist, LeadStatusRejected:
		return true
	default:
		return false
	}
}

// AppointmentRequest books a viewing slot.
type AppointmentRequest struct {
	SlotID int64  `json:"slot_id"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Email  string `json:"email,omitempty"`
}

// AppointmentUpdate carries partial changes to an existing appointment.
// Nil fields are left untouched by the gateway.
type AppointmentUpdate struct {
	SlotID *int64  `json:"slot_id,omitempty"`
	Name   *string `json:"name,omitempty"`
	Phone  *string `json:"phone,omitempty"`
	Email  *string `json:"email,omitempty"`
}

// Appointment is a confirmed viewing.
type Appointment struct {
	ID        int64     `json:"id"`
	Reference string    `json:"reference"`
	SlotID    int64     `json:"slot_id"`
	ListingID int64     `json:"listing_id,omitempty"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email,omitempty"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
}

// CallStart is the start-of-call log entry.
type CallStart struct {
	CallID    string `json:"call_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	ListingID int64  `json:"listing_id,omitempty"`
}

// CallLog is the gateway's acknowledgement of a call-start log.
type CallLog struct {
	ID int64 `json:"id"`
}

// CallEnd is the end-of-call log entry.
type CallEnd struct {
	CallID          string `json:"call_id"`
	CallLogID       int64  `json:"call_log_id,omitempty"`
	DurationSeconds int64  `json:"duration_seconds"`
	Status          string `json:"status"`
	Cause           string `json:"cause,omitempty"`
}

// Terminal call statuses reported to the gateway.
const (
	CallStatusCompleted = "completed"
	CallStatusFailed    = "failed"
)
