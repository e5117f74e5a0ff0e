package fanout

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/alertstore"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/feed"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/tenant"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/transport"
	logx "github.com/TheGrinnerWx/Eas-Discord-posting-bot/pkg/logx"
)

type fakeAdapter struct {
	sendErr    map[string]error // channel ID -> error for SendNotice
	missing    map[string]bool  // channel IDs that fail to resolve
	textErr    map[string]error // channel ID -> error for SendText
	notices    []string         // channel IDs that received a notice
	texts      map[string][]string
	noticeSeen []*transport.Notice
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		sendErr: map[string]error{},
		missing: map[string]bool{},
		textErr: map[string]error{},
		texts:   map[string][]string{},
	}
}

func (f *fakeAdapter) Start(context.Context) error          { return nil }
func (f *fakeAdapter) Stop(context.Context) error           { return nil }
func (f *fakeAdapter) RegisterCommands([]transport.Command) {}

func (f *fakeAdapter) ResolveTarget(_ context.Context, channelID string) (transport.Target, error) {
	if f.missing[channelID] {
		return transport.Target{}, transport.ErrTargetNotFound
	}
	return transport.Target{ChannelID: channelID, Name: "chan-" + channelID}, nil
}

func (f *fakeAdapter) SendNotice(_ context.Context, to transport.Target, n *transport.Notice) error {
	if err := f.sendErr[to.ChannelID]; err != nil {
		return err
	}
	f.notices = append(f.notices, to.ChannelID)
	f.noticeSeen = append(f.noticeSeen, n)
	return nil
}

func (f *fakeAdapter) SendText(_ context.Context, to transport.Target, text string) error {
	if err := f.textErr[to.ChannelID]; err != nil {
		return err
	}
	f.texts[to.ChannelID] = append(f.texts[to.ChannelID], text)
	return nil
}

type fakeAudio struct {
	data []byte
	err  error
}

func (f fakeAudio) DownloadAudio(context.Context, string) ([]byte, error) { return f.data, f.err }

type fixture struct {
	adapter   *fakeAdapter
	registry  *tenant.Registry
	delivered *alertstore.DeliveredSet
	store     *memStore
	d         *Deliverer
}

type memStore struct {
	saved   []map[string]struct{}
	saveErr error
	tenants map[string]alertstore.TenantConfig
}

func (m *memStore) LoadDelivered() (map[string]struct{}, error) { return map[string]struct{}{}, nil }
func (m *memStore) SaveDelivered(ids map[string]struct{}) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := make(map[string]struct{}, len(ids))
	for k := range ids {
		cp[k] = struct{}{}
	}
	m.saved = append(m.saved, cp)
	return nil
}
func (m *memStore) LoadTenants() (map[string]alertstore.TenantConfig, error) { return m.tenants, nil }
func (m *memStore) SaveTenants(t map[string]alertstore.TenantConfig) error {
	m.tenants = t
	return nil
}
func (m *memStore) Close() error { return nil }

func newFixture(t *testing.T, audio fakeAudio, tenants map[string]alertstore.TenantConfig) *fixture {
	t.Helper()
	st := &memStore{tenants: map[string]alertstore.TenantConfig{}}
	reg := tenant.NewRegistry(st, logx.Nop())
	for g, tc := range tenants {
		if err := reg.Set(g, tc); err != nil {
			t.Fatal(err)
		}
	}
	ad := newFakeAdapter()
	set := alertstore.NewDeliveredSet(nil)
	return &fixture{
		adapter:   ad,
		registry:  reg,
		delivered: set,
		store:     st,
		d:         NewDeliverer(ad, audio, reg, set, st, logx.Nop()),
	}
}

func TestDeliverBatchFanOut(t *testing.T) {
	fx := newFixture(t, fakeAudio{}, map[string]alertstore.TenantConfig{
		"g1": {AlertChannelID: "a1"},
		"g2": {AlertChannelID: "a2"},
		"g3": {AlertChannelID: "a3"},
	})

	posted := fx.d.DeliverBatch(context.Background(), []feed.Alert{{Hash: "h1", Type: "RWT"}})
	if posted != 1 {
		t.Fatalf("posted = %d, want 1", posted)
	}
	if len(fx.adapter.notices) != 3 {
		t.Fatalf("notices sent = %d, want 3", len(fx.adapter.notices))
	}
	if !fx.delivered.Contains("h1") {
		t.Fatal("identifier not committed")
	}
	if len(fx.store.saved) != 1 {
		t.Fatalf("SaveDelivered calls = %d, want 1", len(fx.store.saved))
	}
	if fx.d.SessionPosted() != 1 {
		t.Fatalf("SessionPosted = %d", fx.d.SessionPosted())
	}
}

func TestPartialFailureStillCommits(t *testing.T) {
	fx := newFixture(t, fakeAudio{}, map[string]alertstore.TenantConfig{
		"g1": {AlertChannelID: "a1"},
		"g2": {AlertChannelID: "a2"},
		"g3": {AlertChannelID: "a3"},
	})
	fx.adapter.sendErr["a2"] = fmt.Errorf("%w: missing permissions", transport.ErrPermissionDenied)

	posted := fx.d.DeliverBatch(context.Background(), []feed.Alert{{Hash: "h1"}})
	if posted != 1 {
		t.Fatalf("posted = %d, want 1", posted)
	}
	if len(fx.adapter.notices) != 2 {
		t.Fatalf("notices sent = %d, want 2", len(fx.adapter.notices))
	}
	if !fx.delivered.Contains("h1") {
		t.Fatal("one success must commit the alert")
	}
}

func TestZeroSuccessDoesNotCommit(t *testing.T) {
	fx := newFixture(t, fakeAudio{}, map[string]alertstore.TenantConfig{
		"g1": {AlertChannelID: "a1"},
		"g2": {AlertChannelID: "a2"},
	})
	fx.adapter.sendErr["a1"] = errors.New("http 500")
	fx.adapter.sendErr["a2"] = fmt.Errorf("%w", transport.ErrPermissionDenied)

	posted := fx.d.DeliverBatch(context.Background(), []feed.Alert{{Hash: "h1"}})
	if posted != 0 {
		t.Fatalf("posted = %d, want 0", posted)
	}
	if fx.delivered.Contains("h1") {
		t.Fatal("alert must stay uncommitted for retry")
	}
	if len(fx.store.saved) != 0 {
		t.Fatal("delivered set must not be persisted")
	}
}

func TestUnresolvableChannelSkipsTenant(t *testing.T) {
	fx := newFixture(t, fakeAudio{}, map[string]alertstore.TenantConfig{
		"g1": {AlertChannelID: "gone"},
		"g2": {AlertChannelID: "a2"},
	})
	fx.adapter.missing["gone"] = true

	posted := fx.d.DeliverBatch(context.Background(), []feed.Alert{{Hash: "h1"}})
	if posted != 1 {
		t.Fatalf("posted = %d, want 1", posted)
	}
	if len(fx.adapter.notices) != 1 || fx.adapter.notices[0] != "a2" {
		t.Fatalf("notices = %v", fx.adapter.notices)
	}
}

func TestLogChannelFailureDoesNotBlockDelivery(t *testing.T) {
	fx := newFixture(t, fakeAudio{}, map[string]alertstore.TenantConfig{
		"g1": {AlertChannelID: "a1", LogChannelID: "l1"},
	})
	fx.adapter.textErr["l1"] = errors.New("cannot send")

	posted := fx.d.DeliverBatch(context.Background(), []feed.Alert{{Hash: "h1"}})
	if posted != 1 {
		t.Fatalf("posted = %d, want 1", posted)
	}
	if !fx.delivered.Contains("h1") {
		t.Fatal("audit failure must not affect commit")
	}
}

func TestLogChannelNarration(t *testing.T) {
	fx := newFixture(t, fakeAudio{}, map[string]alertstore.TenantConfig{
		"g1": {AlertChannelID: "a1", LogChannelID: "l1"},
	})

	fx.d.DeliverBatch(context.Background(), []feed.Alert{{Hash: "h1", Type: "TOR"}})
	msgs := fx.adapter.texts["l1"]
	if len(msgs) != 2 {
		t.Fatalf("log messages = %d, want processing + posted", len(msgs))
	}
	if msgs[0] != "ℹ️ Processing alert: `TOR` (ID: `h1`)" {
		t.Fatalf("processing line = %q", msgs[0])
	}
	if msgs[1] != "✅ Posted: `TOR` (ID: `h1`) to #chan-a1" {
		t.Fatalf("posted line = %q", msgs[1])
	}
}

func TestAudioFailurePostsWithoutAudio(t *testing.T) {
	fx := newFixture(t, fakeAudio{err: errors.New("404")}, map[string]alertstore.TenantConfig{
		"g1": {AlertChannelID: "a1"},
	})

	posted := fx.d.DeliverBatch(context.Background(), []feed.Alert{
		{Hash: "h1", AudioURL: "https://cdn.example.com/a.mp3"},
	})
	if posted != 1 {
		t.Fatalf("posted = %d, want 1", posted)
	}
	if len(fx.adapter.noticeSeen) != 1 || fx.adapter.noticeSeen[0].Audio != nil {
		t.Fatal("notice must go out without audio")
	}
}

func TestAudioAttached(t *testing.T) {
	fx := newFixture(t, fakeAudio{data: []byte("mp3")}, map[string]alertstore.TenantConfig{
		"g1": {AlertChannelID: "a1"},
	})

	fx.d.DeliverBatch(context.Background(), []feed.Alert{
		{Hash: "h1", AudioURL: "https://cdn.example.com/siren.mp3"},
	})
	if len(fx.adapter.noticeSeen) != 1 {
		t.Fatal("expected one notice")
	}
	n := fx.adapter.noticeSeen[0]
	if string(n.Audio) != "mp3" || n.AudioName != "siren.mp3" {
		t.Fatalf("audio = %q name = %q", n.Audio, n.AudioName)
	}
}

func TestNoTenantsNothingCommits(t *testing.T) {
	fx := newFixture(t, fakeAudio{}, nil)
	posted := fx.d.DeliverBatch(context.Background(), []feed.Alert{{Hash: "h1"}})
	if posted != 0 {
		t.Fatalf("posted = %d, want 0", posted)
	}
	if fx.delivered.Contains("h1") {
		t.Fatal("nothing should commit with zero tenants")
	}
}
