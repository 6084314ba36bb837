package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leaseline/voicebridge/pkg/bridge/call"
	"github.com/leaseline/voicebridge/pkg/bridge/crm"
	"github.com/leaseline/voicebridge/pkg/bridge/store"
	"github.com/leaseline/voicebridge/pkg/core"
)

const testSecret = "wh_secret"

type fakeCRM struct {
	mu       sync.Mutex
	listing  *crm.Listing
	starts   []crm.CallStart
	ends     []crm.CallEnd
	startSig chan struct{}
}

func newFakeCRM(listing *crm.Listing) *fakeCRM {
	return &fakeCRM{listing: listing, startSig: make(chan struct{}, 8)}
}

func (f *fakeCRM) ListingByNumber(ctx context.Context, e164 string) (*crm.Listing, error) {
	return f.listing, nil
}

func (f *fakeCRM) LogCallStart(ctx context.Context, start crm.CallStart) (int64, error) {
	f.mu.Lock()
	f.starts = append(f.starts, start)
	f.mu.Unlock()
	f.startSig <- struct{}{}
	return 77, nil
}

func (f *fakeCRM) LogCallEnd(ctx context.Context, end crm.CallEnd) error {
	f.mu.Lock()
	f.ends = append(f.ends, end)
	f.mu.Unlock()
	return nil
}

func (f *fakeCRM) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func (f *fakeCRM) endCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ends)
}

type fakeProvider struct {
	mu      sync.Mutex
	accepts []AcceptRequest
	err     error
}

func (p *fakeProvider) AcceptCall(ctx context.Context, req AcceptRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.accepts = append(p.accepts, req)
	return nil
}

func (p *fakeProvider) acceptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accepts)
}

type fakeAttacher struct {
	mu       sync.Mutex
	attached []string
	detached []string
}

func (a *fakeAttacher) Attach(callID string) {
	a.mu.Lock()
	a.attached = append(a.attached, callID)
	a.mu.Unlock()
}

func (a *fakeAttacher) Detach(callID, cause string) {
	a.mu.Lock()
	a.detached = append(a.detached, callID)
	a.mu.Unlock()
}

func (a *fakeAttacher) attachedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.attached)
}

func signedRequest(t *testing.T, event Event) *http.Request {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/call", bytes.NewReader(body))
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, Sign(testSecret, ts, body))
	return req
}

func newTestIngress(gateway CRMGateway, provider Provider, attacher Attacher) (*Ingress, *call.Registry) {
	registry := call.NewRegistry(store.NewMemory())
	in := NewIngress(testSecret, "voice-1", "verse", time.Minute, registry, gateway, provider, attacher, nil, Hooks{})
	return in, registry
}

func incoming() Event {
	return Event{
		Type:   EventCallIncoming,
		CallID: "CA1",
		From:   "+1 (555) 010-0100",
		Headers: map[string]string{
			"To": "+1 (555) 020-0200",
		},
	}
}

func TestIncomingAcceptsCall(t *testing.T) {
	gateway := newFakeCRM(&crm.Listing{ID: 42, Title: "Elm Street Loft"})
	provider := &fakeProvider{}
	attacher := &fakeAttacher{}
	in, registry := newTestIngress(gateway, provider, attacher)

	rec := httptest.NewRecorder()
	in.ServeHTTP(rec, signedRequest(t, incoming()))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if provider.acceptCount() != 1 {
		t.Fatalf("accepts = %d, want 1", provider.acceptCount())
	}
	req := provider.accepts[0]
	if req.Model != "voice-1" || req.Voice != "verse" || len(req.Tools) != 5 {
		t.Fatalf("accept request = %+v", req)
	}
	if !strings.Contains(req.Instructions, "Elm Street Loft") {
		t.Fatalf("instructions = %q, want listing facts included", req.Instructions)
	}

	sess, ok, _ := registry.Get(context.Background(), "CA1")
	if !ok {
		t.Fatal("no session created")
	}
	if sess.State != call.StateAccepted {
		t.Fatalf("state = %q, want accepted", sess.State)
	}
	if sess.StartedAt.IsZero() {
		t.Fatal("session started_at not set")
	}
	if sess.CallerNumber != "+15550100100" {
		t.Fatalf("caller = %q", sess.CallerNumber)
	}
	if sess.DialedNumber != "+15550200200" {
		t.Fatalf("dialed = %q", sess.DialedNumber)
	}
	if sess.ListingID() != 42 {
		t.Fatalf("listing id = %d", sess.ListingID())
	}

	select {
	case <-gateway.startSig:
	case <-time.After(3 * time.Second):
		t.Fatal("call-start log never fired")
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		sess, _, _ = registry.Get(context.Background(), "CA1")
		if sess != nil && sess.CRMCallLogID == 77 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("crm call log id never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Attachment is fired after the ack, asynchronously.
	for attacher.attachedCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("attached = %d, want 1", attacher.attachedCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDuplicateDeliveryIsNoOp(t *testing.T) {
	gateway := newFakeCRM(nil)
	provider := &fakeProvider{}
	in, _ := newTestIngress(gateway, provider, &fakeAttacher{})

	first := httptest.NewRecorder()
	in.ServeHTTP(first, signedRequest(t, incoming()))
	if first.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d", first.Code)
	}
	select {
	case <-gateway.startSig:
	case <-time.After(3 * time.Second):
		t.Fatal("call-start log never fired")
	}

	second := httptest.NewRecorder()
	in.ServeHTTP(second, signedRequest(t, incoming()))
	if second.Code != http.StatusOK {
		t.Fatalf("duplicate delivery status = %d, want 200", second.Code)
	}

	if provider.acceptCount() != 1 {
		t.Fatalf("accept-call requests = %d, want exactly 1", provider.acceptCount())
	}
	if gateway.startCount() != 1 {
		t.Fatalf("crm call-start logs = %d, want exactly 1", gateway.startCount())
	}
}

func TestIncomingRejectedWhenProviderDeclines(t *testing.T) {
	gateway := newFakeCRM(nil)
	provider := &fakeProvider{err: core.NewProviderError("provider", context.DeadlineExceeded)}
	in, registry := newTestIngress(gateway, provider, &fakeAttacher{})

	rec := httptest.NewRecorder()
	in.ServeHTTP(rec, signedRequest(t, incoming()))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if _, ok, _ := registry.Get(context.Background(), "CA1"); ok {
		t.Fatal("no session must exist after a declined accept")
	}
	// The call id stays unseen so a redelivery can retry.
	if seen, _ := registry.Seen(context.Background(), "CA1"); seen {
		t.Fatal("declined call must not be marked seen")
	}
}

func TestInvalidSignatureIs400(t *testing.T) {
	in, _ := newTestIngress(newFakeCRM(nil), &fakeProvider{}, &fakeAttacher{})

	body, _ := json.Marshal(incoming())
	req := httptest.NewRequest(http.MethodPost, "/webhooks/call", bytes.NewReader(body))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set(HeaderSignature, "deadbeef")

	rec := httptest.NewRecorder()
	in.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEndedTearsDownOnce(t *testing.T) {
	gateway := newFakeCRM(nil)
	provider := &fakeProvider{}
	attacher := &fakeAttacher{}
	in, _ := newTestIngress(gateway, provider, attacher)

	in.ServeHTTP(httptest.NewRecorder(), signedRequest(t, incoming()))
	<-gateway.startSig

	ended := Event{Type: EventCallEnded, CallID: "CA1", Cause: "caller-hangup"}
	first := httptest.NewRecorder()
	in.ServeHTTP(first, signedRequest(t, ended))
	if first.Code != http.StatusOK {
		t.Fatalf("first ended status = %d", first.Code)
	}

	deadline := time.Now().Add(3 * time.Second)
	for gateway.endCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("call-end log never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A second ended delivery after teardown must not log again.
	second := httptest.NewRecorder()
	in.ServeHTTP(second, signedRequest(t, ended))
	if second.Code != http.StatusOK {
		t.Fatalf("second ended status = %d, want 200", second.Code)
	}
	time.Sleep(50 * time.Millisecond)
	if gateway.endCount() != 1 {
		t.Fatalf("crm call-end logs = %d, want exactly 1", gateway.endCount())
	}

	attacher.mu.Lock()
	defer attacher.mu.Unlock()
	if len(attacher.detached) != 1 || attacher.detached[0] != "CA1" {
		t.Fatalf("detached = %v, want [CA1]", attacher.detached)
	}
}

func TestEndedForUnknownCallIsTolerated(t *testing.T) {
	in, _ := newTestIngress(newFakeCRM(nil), &fakeProvider{}, &fakeAttacher{})

	rec := httptest.NewRecorder()
	in.ServeHTTP(rec, signedRequest(t, Event{Type: EventCallEnded, CallID: "ghost"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestDialedNumberHeaderPriority(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"to wins", map[string]string{"To": "+15550200200", "Diversion": "+15550300300"}, "+15550200200"},
		{"rewritten to falls through", map[string]string{"To": "sip:anonymous", "X-Forwarded-To": "+1 555 020 0200"}, "+15550200200"},
		{"diversion last", map[string]string{"Diversion": "+15550300300"}, "+15550300300"},
		{"none plausible", map[string]string{"To": "abc"}, ""},
	}
	for _, tc := range cases {
		if got := DialedNumber(tc.headers); got != tc.want {
			t.Errorf("%s: DialedNumber = %q, want %q", tc.name, got, tc.want)
		}
	}
}
