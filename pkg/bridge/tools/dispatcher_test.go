package tools

import (
	"context"
	"testing"
	"time"

	"github.com/leaseline/voicebridge/pkg/bridge/call"
	"github.com/leaseline/voicebridge/pkg/bridge/crm"
	"github.com/leaseline/voicebridge/pkg/bridge/store"
	"github.com/leaseline/voicebridge/pkg/core"
)

type fakeGateway struct {
	nextSlot     *crm.Slot
	nextSlotErr  error
	leads        []crm.Lead
	appointments []crm.AppointmentRequest
	createErr    error
	updates      []crm.AppointmentUpdate
	cancelled    []int64
}

func (g *fakeGateway) NextSlot(ctx context.Context, listingID int64) (*crm.Slot, error) {
	return g.nextSlot, g.nextSlotErr
}

func (g *fakeGateway) CreateLead(ctx context.Context, lead crm.Lead) (*crm.Lead, error) {
	g.leads = append(g.leads, lead)
	out := lead
	out.ID = 1
	return &out, nil
}

func (g *fakeGateway) CreateAppointment(ctx context.Context, req crm.AppointmentRequest) (*crm.Appointment, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.appointments = append(g.appointments, req)
	return &crm.Appointment{
		ID:        100,
		Reference: "VB-100",
		SlotID:    req.SlotID,
		Name:      req.Name,
		Phone:     req.Phone,
		StartsAt:  time.Date(2026, 9, 3, 14, 0, 0, 0, time.UTC),
	}, nil
}

func (g *fakeGateway) UpdateAppointment(ctx context.Context, id int64, upd crm.AppointmentUpdate) (*crm.Appointment, error) {
	g.updates = append(g.updates, upd)
	return &crm.Appointment{ID: id, StartsAt: time.Date(2026, 9, 4, 10, 0, 0, 0, time.UTC)}, nil
}

func (g *fakeGateway) CancelAppointment(ctx context.Context, id int64) error {
	g.cancelled = append(g.cancelled, id)
	return nil
}

type fakeSpeaker struct {
	spoken []string
}

func (s *fakeSpeaker) Speak(instructions string) error {
	s.spoken = append(s.spoken, instructions)
	return nil
}

func newTestDispatcher(t *testing.T, gw Gateway) (*Dispatcher, *call.Registry, *fakeSpeaker) {
	t.Helper()
	reg := call.NewRegistry(store.NewMemory())
	sess := &call.Session{
		CallID:       "CA1",
		State:        call.StateStreaming,
		StartedAt:    time.Now(),
		CallerNumber: "+15550100100",
		CRMCallLogID: 77,
		Listing:      &crm.Listing{ID: 42, Title: "Elm Street Loft"},
	}
	if err := reg.Put(context.Background(), sess); err != nil {
		t.Fatalf("Put: %v", err)
	}
	speaker := &fakeSpeaker{}
	return NewDispatcher("CA1", gw, reg, speaker, nil, nil), reg, speaker
}

func TestSlotOfferThenImplicitBooking(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{nextSlot: &crm.Slot{ID: 17, ListingID: 42, StartsAt: time.Date(2026, 9, 3, 14, 0, 0, 0, time.UTC)}}
	d, reg, speaker := newTestDispatcher(t, gw)

	d.Dispatch(ctx, ToolGetNextSlot, map[string]any{})
	sess, _, _ := reg.Get(ctx, "CA1")
	if sess.LastOfferedSlotID != 17 {
		t.Fatalf("last offered slot = %d, want 17", sess.LastOfferedSlotID)
	}

	d.Dispatch(ctx, ToolCreateAppointment, map[string]any{"name": "Ana"})
	if len(gw.appointments) != 1 {
		t.Fatalf("appointments = %d, want 1", len(gw.appointments))
	}
	if gw.appointments[0].SlotID != 17 {
		t.Fatalf("booked slot = %d, want 17", gw.appointments[0].SlotID)
	}
	if gw.appointments[0].Phone != "+15550100100" {
		t.Fatalf("phone = %q, want caller's own number", gw.appointments[0].Phone)
	}

	// The offer is consumed by the booking.
	sess, _, _ = reg.Get(ctx, "CA1")
	if sess.LastOfferedSlotID != 0 {
		t.Fatalf("last offered slot = %d after booking, want 0", sess.LastOfferedSlotID)
	}

	// Without a fresh offer a slotless booking is a no-op.
	d.Dispatch(ctx, ToolCreateAppointment, map[string]any{"name": "Ana"})
	if len(gw.appointments) != 1 {
		t.Fatalf("appointments = %d after slotless retry, want 1", len(gw.appointments))
	}
	if len(speaker.spoken) < 2 {
		t.Fatalf("spoken = %d, want offer and confirmation", len(speaker.spoken))
	}
}

func TestCreateAppointmentAcceptsAliasedSlotName(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	d, _, _ := newTestDispatcher(t, gw)

	d.Dispatch(ctx, ToolCreateAppointment, map[string]any{"time_slot_id": float64(23), "name": "Bo"})
	if len(gw.appointments) != 1 || gw.appointments[0].SlotID != 23 {
		t.Fatalf("appointments = %+v, want one booking of slot 23", gw.appointments)
	}
}

func TestCreateAppointmentConflictOffersAlternate(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{
		createErr: core.NewConflictError("slot is full"),
		nextSlot:  &crm.Slot{ID: 18, ListingID: 42, StartsAt: time.Date(2026, 9, 5, 16, 0, 0, 0, time.UTC)},
	}
	d, reg, speaker := newTestDispatcher(t, gw)

	d.Dispatch(ctx, ToolCreateAppointment, map[string]any{"slot_id": float64(17), "name": "Ana"})

	sess, _, _ := reg.Get(ctx, "CA1")
	if sess.LastOfferedSlotID != 18 {
		t.Fatalf("last offered slot = %d, want alternate 18", sess.LastOfferedSlotID)
	}
	if len(speaker.spoken) != 1 {
		t.Fatalf("spoken = %v, want one alternate offer", speaker.spoken)
	}
}

func TestSaveLeadFallsBackToCallerNumber(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	d, _, _ := newTestDispatcher(t, gw)

	d.Dispatch(ctx, ToolSaveLead, map[string]any{"name": "Ana", "status": "bogus"})
	if len(gw.leads) != 1 {
		t.Fatalf("leads = %d, want 1", len(gw.leads))
	}
	lead := gw.leads[0]
	if lead.Phone != "+15550100100" {
		t.Fatalf("phone = %q, want caller's number", lead.Phone)
	}
	if lead.Status != crm.LeadStatusNew {
		t.Fatalf("status = %q, want %q for unrecognized input", lead.Status, crm.LeadStatusNew)
	}
	if lead.CallLogID != 77 {
		t.Fatalf("call log id = %d, want 77", lead.CallLogID)
	}
}

func TestSaveLeadWithoutNameStillSaves(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	d, _, speaker := newTestDispatcher(t, gw)

	d.Dispatch(ctx, ToolSaveLead, map[string]any{"phone": "+15550100200"})
	if len(gw.leads) != 1 {
		t.Fatalf("leads = %d, want 1; a phone alone is enough", len(gw.leads))
	}
	if gw.leads[0].Name != "" {
		t.Fatalf("name = %q, want empty", gw.leads[0].Name)
	}
	if gw.leads[0].Phone != "+15550100200" {
		t.Fatalf("phone = %q", gw.leads[0].Phone)
	}
	if len(speaker.spoken) != 1 {
		t.Fatalf("spoken = %v, want one confirmation", speaker.spoken)
	}
}

func TestSaveLeadWithoutUsablePhoneIsSilent(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	reg := call.NewRegistry(store.NewMemory())
	sess := &call.Session{CallID: "CA2", State: call.StateStreaming, StartedAt: time.Now()}
	if err := reg.Put(ctx, sess); err != nil {
		t.Fatalf("Put: %v", err)
	}
	speaker := &fakeSpeaker{}
	d := NewDispatcher("CA2", gw, reg, speaker, nil, nil)

	d.Dispatch(ctx, ToolSaveLead, map[string]any{"name": "Ana"})
	if len(gw.leads) != 0 {
		t.Fatalf("leads = %d, want 0 without any phone", len(gw.leads))
	}
	if len(speaker.spoken) != 0 {
		t.Fatalf("spoken = %v, want silence on missing required data", speaker.spoken)
	}
}

func TestGetNextSlotNoAvailabilityOffersWaitlist(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	d, reg, speaker := newTestDispatcher(t, gw)

	d.Dispatch(ctx, ToolGetNextSlot, map[string]any{})
	sess, _, _ := reg.Get(ctx, "CA1")
	if sess.LastOfferedSlotID != 0 {
		t.Fatalf("last offered slot = %d, want 0", sess.LastOfferedSlotID)
	}
	if len(speaker.spoken) != 1 {
		t.Fatalf("spoken = %v, want one waitlist offer", speaker.spoken)
	}
}

func TestCancelAppointmentRequiresID(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	d, _, speaker := newTestDispatcher(t, gw)

	d.Dispatch(ctx, ToolCancelAppointment, map[string]any{})
	if len(gw.cancelled) != 0 || len(speaker.spoken) != 0 {
		t.Fatal("missing appointment_id must be a silent no-op")
	}

	d.Dispatch(ctx, ToolCancelAppointment, map[string]any{"appointment_id": float64(9)})
	if len(gw.cancelled) != 1 || gw.cancelled[0] != 9 {
		t.Fatalf("cancelled = %v, want [9]", gw.cancelled)
	}
}

func TestUpdateAppointmentUsesOfferedSlot(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{nextSlot: &crm.Slot{ID: 31, ListingID: 42, StartsAt: time.Date(2026, 9, 6, 11, 0, 0, 0, time.UTC)}}
	d, _, _ := newTestDispatcher(t, gw)

	d.Dispatch(ctx, ToolGetNextSlot, map[string]any{})
	d.Dispatch(ctx, ToolUpdateAppointment, map[string]any{"appointment_id": float64(100)})

	if len(gw.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(gw.updates))
	}
	if gw.updates[0].SlotID == nil || *gw.updates[0].SlotID != 31 {
		t.Fatalf("update slot = %v, want 31", gw.updates[0].SlotID)
	}
}
