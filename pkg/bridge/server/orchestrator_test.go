package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leaseline/voicebridge/pkg/bridge/call"
	"github.com/leaseline/voicebridge/pkg/bridge/crm"
	"github.com/leaseline/voicebridge/pkg/bridge/media"
	"github.com/leaseline/voicebridge/pkg/bridge/metrics"
	"github.com/leaseline/voicebridge/pkg/bridge/sessions"
	"github.com/leaseline/voicebridge/pkg/bridge/store"
)

func TestFinalizeMediaCancelsProviderSession(t *testing.T) {
	crmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{}`)
	}))
	defer crmSrv.Close()

	ctx := context.Background()
	registry := call.NewRegistry(store.NewMemory())
	if _, err := registry.Accept(ctx, "CA9"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	sess := &call.Session{CallID: "CA9", State: call.StateAccepted, StartedAt: time.Now()}
	if err := registry.Put(ctx, sess); err != nil {
		t.Fatalf("Put: %v", err)
	}

	tracker := sessions.NewTracker()
	o := NewOrchestrator(testConfig(), registry, crm.New(crmSrv.URL, "key", nil, time.Second),
		media.NewHub(), tracker, metrics.New("voicebridge"), testLogger(t))

	cancelled := make(chan struct{})
	unregister := tracker.Register("CA9", sessions.Handle{Cancel: func() { close(cancelled) }})
	defer unregister()

	o.finalizeMedia("CA9", 42000)

	select {
	case <-cancelled:
	default:
		t.Fatal("carrier stop must cancel the provider session")
	}

	if _, ok, _ := registry.Get(ctx, "CA9"); ok {
		t.Fatal("call should be ended in the registry")
	}
}
