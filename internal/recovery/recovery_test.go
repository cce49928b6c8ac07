package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/WaRyXx06/astro-relay/internal/mapper"
	"github.com/WaRyXx06/astro-relay/internal/store"
)

type fakeChannelStore struct {
	mapping *store.ChannelMapping
}

func (f *fakeChannelStore) Get(_ context.Context, id, server string) (*store.ChannelMapping, error) {
	if f.mapping != nil && f.mapping.SourceChannelID == id && f.mapping.ServerID == server {
		m := *f.mapping
		return &m, nil
	}
	return nil, nil
}

func (f *fakeChannelStore) GetByMirror(context.Context, string) (*store.ChannelMapping, error) {
	return nil, nil
}

func (f *fakeChannelStore) ListByServer(context.Context, string) ([]store.ChannelMapping, error) {
	return nil, nil
}

func (f *fakeChannelStore) ListScraped(context.Context, string) ([]store.ChannelMapping, error) {
	return nil, nil
}

func (f *fakeChannelStore) Upsert(_ context.Context, m *store.ChannelMapping) error {
	f.mapping = m
	return nil
}

func (f *fakeChannelStore) SetMirror(_ context.Context, _, _, mirrorID string) error {
	if f.mapping != nil {
		f.mapping.MirrorChannelID = mirrorID
	}
	return nil
}

func (f *fakeChannelStore) Blacklist(context.Context, string, string, time.Time) error {
	return nil
}

func (f *fakeChannelStore) ClearExpiredBlacklists(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeChannelStore) TouchActivity(context.Context, string, string, time.Time) error {
	return nil
}

func (f *fakeChannelStore) CountMirrorChannels(context.Context, string) (int64, error) {
	return 0, nil
}

func (f *fakeChannelStore) Delete(context.Context, string, string) error { return nil }

func TestStepFor(t *testing.T) {
	want := map[int]step{1: stepSyncResolve, 2: stepCreate, 3: stepSyncResolve}
	for attempt, s := range want {
		if got := stepFor(attempt); got != s {
			t.Errorf("stepFor(%d) = %v, want %v", attempt, got, s)
		}
	}
}

func TestSyncAndResolve_ForcesSyncBeforeResolving(t *testing.T) {
	channels := &fakeChannelStore{mapping: &store.ChannelMapping{
		SourceChannelID: "src",
		ServerID:        "guild",
		Name:            "general",
		MirrorChannelID: store.PendingMirrorID,
		Kind:            store.KindText,
	}}
	mp := mapper.New(channels, nil, nil, map[string]string{"guild": "mir"})

	synced := 0
	m := &Manager{
		mapper:   mp,
		channels: channels,
		ForceSync: func(_ context.Context, serverID string) error {
			synced++
			if serverID != "guild" {
				t.Errorf("synced server %q, want guild", serverID)
			}
			// The sync repaired the mapping.
			channels.mapping.MirrorChannelID = "mir-chan"
			return nil
		},
	}

	snapshot := *channels.mapping
	err := m.syncAndResolve(context.Background(), &snapshot, 1)
	if err != nil {
		t.Fatalf("syncAndResolve: %v", err)
	}
	if synced != 1 {
		t.Errorf("forced syncs = %d, want 1", synced)
	}
}

func TestSyncAndResolve_StillPendingFails(t *testing.T) {
	channels := &fakeChannelStore{mapping: &store.ChannelMapping{
		SourceChannelID: "src",
		ServerID:        "guild",
		MirrorChannelID: store.PendingMirrorID,
		Kind:            store.KindText,
	}}
	mp := mapper.New(channels, nil, nil, map[string]string{"guild": "mir"})

	m := &Manager{
		mapper:    mp,
		channels:  channels,
		ForceSync: func(context.Context, string) error { return nil },
	}

	snapshot := *channels.mapping
	if err := m.syncAndResolve(context.Background(), &snapshot, 1); err == nil {
		t.Fatal("expected an error while the mapping is still pending")
	}
}

func TestBlacklistUntil(t *testing.T) {
	tests := []struct {
		name string
		now  string
		want string
	}{
		{"evening rolls to next morning", "2026-08-03T22:15:00Z", "2026-08-04T03:30:00Z"},
		{"just before boundary", "2026-08-04T03:29:59Z", "2026-08-04T03:30:00Z"},
		{"exactly at boundary", "2026-08-04T03:30:00Z", "2026-08-05T03:30:00Z"},
		{"just after boundary", "2026-08-04T03:30:01Z", "2026-08-05T03:30:00Z"},
		{"midnight", "2026-08-04T00:00:00Z", "2026-08-04T03:30:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now, err := time.Parse(time.RFC3339, tt.now)
			if err != nil {
				t.Fatal(err)
			}
			want, err := time.Parse(time.RFC3339, tt.want)
			if err != nil {
				t.Fatal(err)
			}
			got := BlacklistUntil(now)
			if !got.Equal(want) {
				t.Errorf("BlacklistUntil(%s) = %s, want %s", tt.now, got, want)
			}
		})
	}
}

func TestBlacklistUntil_AlwaysFuture(t *testing.T) {
	now := time.Now()
	until := BlacklistUntil(now)
	if !until.After(now) {
		t.Errorf("boundary %s not after %s", until, now)
	}
	if until.Sub(now) > 24*time.Hour {
		t.Errorf("boundary %s more than a day out", until)
	}
}
