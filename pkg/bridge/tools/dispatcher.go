package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/leaseline/voicebridge/pkg/bridge/call"
	"github.com/leaseline/voicebridge/pkg/bridge/crm"
	"github.com/leaseline/voicebridge/pkg/core"
)

// Speaker voices a result back to the caller. The realtime connector
// satisfies it.
type Speaker interface {
	Speak(instructions string) error
}

// Gateway is the slice of the CRM client the dispatcher needs.
type Gateway interface {
	NextSlot(ctx context.Context, listingID int64) (*crm.Slot, error)
	CreateLead(ctx context.Context, lead crm.Lead) (*crm.Lead, error)
	CreateAppointment(ctx context.Context, req crm.AppointmentRequest) (*crm.Appointment, error)
	UpdateAppointment(ctx context.Context, id int64, upd crm.AppointmentUpdate) (*crm.Appointment, error)
	CancelAppointment(ctx context.Context, id int64) error
}

// Dispatch outcomes reported to the observe hook.
const (
	OutcomeOK       = "ok"
	OutcomeInvalid  = "invalid"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// Dispatcher executes tool calls for one phone call. Missing required
// arguments are a silent no-op so the model can retry with corrected input;
// CRM failures are spoken as apologies, never propagated.
type Dispatcher struct {
	callID   string
	gateway  Gateway
	registry *call.Registry
	speaker  Speaker
	logger   *slog.Logger
	observe  func(tool, outcome string)
}

// NewDispatcher builds a dispatcher for one call. observe may be nil.
func NewDispatcher(callID string, gateway Gateway, registry *call.Registry, speaker Speaker, logger *slog.Logger, observe func(tool, outcome string)) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if observe == nil {
		observe = func(string, string) {}
	}
	return &Dispatcher{
		callID:   callID,
		gateway:  gateway,
		registry: registry,
		speaker:  speaker,
		logger:   logger,
		observe:  observe,
	}
}

// Dispatch runs one named tool call. Unknown names are logged and dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) {
	if d == nil {
		return
	}
	switch name {
	case ToolSaveLead:
		d.saveLead(ctx, args)
	case ToolGetNextSlot:
		d.getNextSlot(ctx, args)
	case ToolCreateAppointment:
		d.createAppointment(ctx, args)
	case ToolUpdateAppointment:
		d.updateAppointment(ctx, args)
	case ToolCancelAppointment:
		d.cancelAppointment(ctx, args)
	default:
		d.logger.Warn("unknown tool", "call_id", d.callID, "tool", name)
		d.observe(name, OutcomeInvalid)
	}
}

func (d *Dispatcher) saveLead(ctx context.Context, args map[string]any) {
	sess := d.session(ctx)

	// Only a usable phone is required; a nameless lead is still worth saving.
	name := argString(args, "name")
	phone := NormalizePhone(argString(args, "phone"))
	if phone == "" && sess != nil {
		phone = NormalizePhone(sess.CallerNumber)
	}
	if !PlausiblePhone(phone) {
		d.logger.Warn("save_lead missing usable phone", "call_id", d.callID)
		d.observe(ToolSaveLead, OutcomeInvalid)
		return
	}

	status := argString(args, "status")
	if !crm.ValidLeadStatus(status) {
		status = crm.LeadStatusNew
	}
	lead := crm.Lead{
		Name:   name,
		Phone:  phone,
		Email:  argString(args, "email"),
		Notes:  argString(args, "notes"),
		Status: status,
	}
	if sess != nil {
		lead.CallLogID = sess.CRMCallLogID
	}

	if _, err := d.gateway.CreateLead(ctx, lead); err != nil {
		d.logger.Error("save_lead failed", "call_id", d.callID, "error", err)
		d.observe(ToolSaveLead, OutcomeError)
		d.say("Apologize briefly: you could not save their details right now, but the team will follow up.")
		return
	}
	d.observe(ToolSaveLead, OutcomeOK)
	if name != "" {
		d.say(fmt.Sprintf("Confirm to the caller that you saved %s's details and the leasing team will be in touch.", name))
	} else {
		d.say("Confirm to the caller that you saved their details and the leasing team will be in touch.")
	}
}

func (d *Dispatcher) getNextSlot(ctx context.Context, args map[string]any) {
	sess := d.session(ctx)

	listingID, _ := argInt64(args, "listing_id")
	if listingID == 0 && sess != nil {
		listingID = sess.ListingID()
	}
	if listingID == 0 {
		d.logger.Warn("get_next_slot has no listing", "call_id", d.callID)
		d.observe(ToolGetNextSlot, OutcomeInvalid)
		return
	}

	slot, err := d.gateway.NextSlot(ctx, listingID)
	if err != nil {
		d.logger.Error("get_next_slot failed", "call_id", d.callID, "error", err)
		d.observe(ToolGetNextSlot, OutcomeError)
		d.say("Apologize briefly: you could not check availability just now.")
		return
	}
	if slot == nil {
		d.observe(ToolGetNextSlot, OutcomeOK)
		d.say("Tell the caller no viewing slots are open right now and offer to add them to the waitlist.")
		return
	}

	d.rememberSlot(ctx, slot.ID)
	d.observe(ToolGetNextSlot, OutcomeOK)
	d.say(fmt.Sprintf("Offer the caller a viewing on %s and ask if that works for them.", speakWindow(slot)))
}

func (d *Dispatcher) createAppointment(ctx context.Context, args map[string]any) {
	sess := d.session(ctx)

	slotID := slotFromArgs(args)
	if slotID == 0 && sess != nil {
		slotID = sess.LastOfferedSlotID
	}
	name := argString(args, "name")
	phone := NormalizePhone(argString(args, "phone"))
	if phone == "" && sess != nil {
		phone = NormalizePhone(sess.CallerNumber)
	}
	if slotID == 0 || name == "" || !PlausiblePhone(phone) {
		d.logger.Warn("create_appointment missing required data",
			"call_id", d.callID, "slot_id", slotID, "has_name", name != "")
		d.observe(ToolCreateAppointment, OutcomeInvalid)
		return
	}

	appt, err := d.gateway.CreateAppointment(ctx, crm.AppointmentRequest{
		SlotID: slotID,
		Name:   name,
		Phone:  phone,
		Email:  argString(args, "email"),
	})
	switch {
	case err == nil:
		d.rememberSlot(ctx, 0)
		d.observe(ToolCreateAppointment, OutcomeOK)
		d.say(fmt.Sprintf("Confirm the viewing for %s on %s. Give them reference %s.", name, speakTime(appt.StartsAt), appt.Reference))
	case core.IsConflict(err):
		d.observe(ToolCreateAppointment, OutcomeConflict)
		d.offerAlternate(ctx, sess)
	default:
		d.logger.Error("create_appointment failed", "call_id", d.callID, "error", err)
		d.observe(ToolCreateAppointment, OutcomeError)
		d.say("Apologize briefly: the booking did not go through, and offer to have someone call them back.")
	}
}

// offerAlternate handles a slot-taken conflict: the stale offer is cleared
// and the next open slot, if any, is proposed instead.
func (d *Dispatcher) offerAlternate(ctx context.Context, sess *call.Session) {
	d.rememberSlot(ctx, 0)

	var listingID int64
	if sess != nil {
		listingID = sess.ListingID()
	}
	if listingID == 0 {
		d.say("Tell the caller that slot was just taken and offer to put them on the waitlist.")
		return
	}
	slot, err := d.gateway.NextSlot(ctx, listingID)
	if err != nil || slot == nil {
		d.say("Tell the caller that slot was just taken and no other slots are open; offer the waitlist.")
		return
	}
	d.rememberSlot(ctx, slot.ID)
	d.say(fmt.Sprintf("Tell the caller that slot was just taken, and offer %s instead.", speakWindow(slot)))
}

func (d *Dispatcher) updateAppointment(ctx context.Context, args map[string]any) {
	sess := d.session(ctx)

	apptID, ok := argInt64(args, "appointment_id")
	if !ok || apptID == 0 {
		d.logger.Warn("update_appointment missing appointment_id", "call_id", d.callID)
		d.observe(ToolUpdateAppointment, OutcomeInvalid)
		return
	}

	var upd crm.AppointmentUpdate
	slotID := slotFromArgs(args)
	if slotID == 0 && sess != nil {
		slotID = sess.LastOfferedSlotID
	}
	if slotID != 0 {
		upd.SlotID = &slotID
	}
	if name := argString(args, "name"); name != "" {
		upd.Name = &name
	}
	if phone := NormalizePhone(argString(args, "phone")); phone != "" {
		upd.Phone = &phone
	}
	if email := argString(args, "email"); email != "" {
		upd.Email = &email
	}

	appt, err := d.gateway.UpdateAppointment(ctx, apptID, upd)
	if err != nil {
		d.logger.Error("update_appointment failed", "call_id", d.callID, "appointment_id", apptID, "error", err)
		d.observe(ToolUpdateAppointment, OutcomeError)
		d.say("Apologize briefly: you could not change the appointment just now.")
		return
	}
	d.rememberSlot(ctx, 0)
	d.observe(ToolUpdateAppointment, OutcomeOK)
	d.say(fmt.Sprintf("Confirm the appointment is now on %s.", speakTime(appt.StartsAt)))
}

func (d *Dispatcher) cancelAppointment(ctx context.Context, args map[string]any) {
	apptID, ok := argInt64(args, "appointment_id")
	if !ok || apptID == 0 {
		d.logger.Warn("cancel_appointment missing appointment_id", "call_id", d.callID)
		d.observe(ToolCancelAppointment, OutcomeInvalid)
		return
	}

	if err := d.gateway.CancelAppointment(ctx, apptID); err != nil {
		d.logger.Error("cancel_appointment failed", "call_id", d.callID, "appointment_id", apptID, "error", err)
		d.observe(ToolCancelAppointment, OutcomeError)
		d.say("Apologize briefly: you could not cancel the appointment just now.")
		return
	}
	d.rememberSlot(ctx, 0)
	d.observe(ToolCancelAppointment, OutcomeOK)
	d.say("Confirm the appointment is cancelled and ask if there is anything else you can help with.")
}

func (d *Dispatcher) session(ctx context.Context) *call.Session {
	if d.registry == nil {
		return nil
	}
	sess, ok, err := d.registry.Get(ctx, d.callID)
	if err != nil {
		d.logger.Warn("session lookup failed", "call_id", d.callID, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return sess
}

func (d *Dispatcher) rememberSlot(ctx context.Context, slotID int64) {
	if d.registry == nil {
		return
	}
	_, err := d.registry.Update(ctx, d.callID, func(s *call.Session) {
		s.LastOfferedSlotID = slotID
	})
	if err != nil {
		d.logger.Warn("slot update failed", "call_id", d.callID, "error", err)
	}
}

func (d *Dispatcher) say(instructions string) {
	if d.speaker == nil {
		return
	}
	if err := d.speaker.Speak(instructions); err != nil {
		d.logger.Warn("speak failed", "call_id", d.callID, "error", err)
	}
}

// slotFromArgs accepts both slot argument spellings the model produces.
func slotFromArgs(args map[string]any) int64 {
	if id, ok := argInt64(args, "slot_id"); ok && id != 0 {
		return id
	}
	if id, ok := argInt64(args, "time_slot_id"); ok && id != 0 {
		return id
	}
	return 0
}

func argString(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func argInt64(args map[string]any, key string) (int64, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func speakWindow(slot *crm.Slot) string {
	start := speakTime(slot.StartsAt)
	if slot.EndsAt.IsZero() {
		return start
	}
	return fmt.Sprintf("%s until %s", start, slot.EndsAt.Format("3:04 PM"))
}

func speakTime(t time.Time) string {
	if t.IsZero() {
		return "the scheduled time"
	}
	return t.Format("Monday, January 2 at 3:04 PM")
}
