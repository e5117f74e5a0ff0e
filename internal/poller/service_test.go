package poller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/alertstore"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/feed"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/tenant"
	logx "github.com/TheGrinnerWx/Eas-Discord-posting-bot/pkg/logx"
)

type stubFetcher struct {
	alerts  []feed.Alert
	fetches atomic.Int64
	block   chan struct{} // non-nil: block until closed
}

func (f *stubFetcher) FetchActiveAlerts(context.Context) []feed.Alert {
	f.fetches.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.alerts
}

type stubDeliverer struct {
	batches [][]feed.Alert
	commit  func(a feed.Alert)
}

func (d *stubDeliverer) DeliverBatch(_ context.Context, alerts []feed.Alert) int {
	d.batches = append(d.batches, alerts)
	if d.commit != nil {
		for _, a := range alerts {
			d.commit(a)
		}
	}
	return len(alerts)
}

type tenantStore struct{ tenants map[string]alertstore.TenantConfig }

func (s *tenantStore) LoadDelivered() (map[string]struct{}, error) { return nil, nil }
func (s *tenantStore) SaveDelivered(map[string]struct{}) error     { return nil }
func (s *tenantStore) LoadTenants() (map[string]alertstore.TenantConfig, error) {
	return s.tenants, nil
}
func (s *tenantStore) SaveTenants(t map[string]alertstore.TenantConfig) error {
	s.tenants = t
	return nil
}
func (s *tenantStore) Close() error { return nil }

func newRegistry(t *testing.T, guilds ...string) *tenant.Registry {
	t.Helper()
	reg := tenant.NewRegistry(&tenantStore{tenants: map[string]alertstore.TenantConfig{}}, logx.Nop())
	for _, g := range guilds {
		if err := reg.Set(g, alertstore.TenantConfig{AlertChannelID: "c-" + g}); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func TestTriggerNowDelivers(t *testing.T) {
	fetcher := &stubFetcher{alerts: []feed.Alert{{Hash: "h1"}, {Hash: "h2"}}}
	del := &stubDeliverer{}
	set := alertstore.NewDeliveredSet(map[string]struct{}{"h2": {}})
	s := New(time.Minute, fetcher, del, newRegistry(t, "g1"), set, logx.Nop())

	if err := s.TriggerNow(context.Background()); err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	if len(del.batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(del.batches))
	}
	if len(del.batches[0]) != 1 || del.batches[0][0].Hash != "h1" {
		t.Fatalf("batch = %+v, want only h1", del.batches[0])
	}
}

func TestEmptyRegistrySkipsFetch(t *testing.T) {
	fetcher := &stubFetcher{alerts: []feed.Alert{{Hash: "h1"}}}
	del := &stubDeliverer{}
	s := New(time.Minute, fetcher, del, newRegistry(t), alertstore.NewDeliveredSet(nil), logx.Nop())

	if err := s.TriggerNow(context.Background()); err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	if got := fetcher.fetches.Load(); got != 0 {
		t.Fatalf("fetches = %d, want 0 with no tenants", got)
	}
	if len(del.batches) != 0 {
		t.Fatal("nothing should be delivered")
	}
}

func TestTriggerNowBusy(t *testing.T) {
	block := make(chan struct{})
	fetcher := &stubFetcher{alerts: []feed.Alert{{Hash: "h1"}}, block: block}
	del := &stubDeliverer{}
	s := New(time.Minute, fetcher, del, newRegistry(t, "g1"), alertstore.NewDeliveredSet(nil), logx.Nop())

	done := make(chan error, 1)
	go func() { done <- s.TriggerNow(context.Background()) }()

	// Wait for the first cycle to be inside the fetch.
	deadline := time.After(2 * time.Second)
	for fetcher.fetches.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("first cycle never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := s.TriggerNow(context.Background()); err != ErrBusy {
		t.Fatalf("second trigger = %v, want ErrBusy", err)
	}
	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first trigger: %v", err)
	}
}

func TestSecondCycleIsNoOp(t *testing.T) {
	set := alertstore.NewDeliveredSet(nil)
	fetcher := &stubFetcher{alerts: []feed.Alert{{Hash: "h1"}}}
	del := &stubDeliverer{commit: func(a feed.Alert) { set.Add(a.Identifier()) }}
	s := New(time.Minute, fetcher, del, newRegistry(t, "g1"), set, logx.Nop())

	if err := s.TriggerNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.TriggerNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(del.batches) != 1 {
		t.Fatalf("batches = %d, want 1: second cycle must deliver nothing", len(del.batches))
	}
}

func TestStats(t *testing.T) {
	fetcher := &stubFetcher{alerts: []feed.Alert{{Hash: "h1"}}}
	del := &stubDeliverer{}
	set := alertstore.NewDeliveredSet(map[string]struct{}{"old": {}})
	s := New(time.Minute, fetcher, del, newRegistry(t, "g1"), set, logx.Nop())

	if err := s.TriggerNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	st := s.Stats()
	if st.Cycles != 1 || st.LastCycleNew != 1 || st.DeliveredSize != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if st.LastCycleAt.IsZero() {
		t.Fatal("LastCycleAt not set")
	}
}
