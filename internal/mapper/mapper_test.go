package mapper

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/WaRyXx06/astro-relay/internal/store"
)

type fakeChannelStore struct {
	rows map[string]*store.ChannelMapping // sourceChannelID|serverID
	gets int
}

func newFakeChannelStore() *fakeChannelStore {
	return &fakeChannelStore{rows: make(map[string]*store.ChannelMapping)}
}

func (f *fakeChannelStore) put(m *store.ChannelMapping) {
	f.rows[m.SourceChannelID+"|"+m.ServerID] = m
}

func (f *fakeChannelStore) Get(_ context.Context, sourceChannelID, serverID string) (*store.ChannelMapping, error) {
	f.gets++
	return f.rows[sourceChannelID+"|"+serverID], nil
}

func (f *fakeChannelStore) GetByMirror(_ context.Context, mirrorChannelID string) (*store.ChannelMapping, error) {
	for _, m := range f.rows {
		if m.MirrorChannelID == mirrorChannelID {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeChannelStore) ListByServer(context.Context, string) ([]store.ChannelMapping, error) {
	return nil, nil
}

func (f *fakeChannelStore) ListScraped(context.Context, string) ([]store.ChannelMapping, error) {
	return nil, nil
}

func (f *fakeChannelStore) Upsert(_ context.Context, m *store.ChannelMapping) error {
	f.put(m)
	return nil
}

func (f *fakeChannelStore) SetMirror(_ context.Context, sourceChannelID, serverID, mirrorChannelID string) error {
	if m := f.rows[sourceChannelID+"|"+serverID]; m != nil {
		m.MirrorChannelID = mirrorChannelID
	}
	return nil
}

func (f *fakeChannelStore) Blacklist(context.Context, string, string, time.Time) error { return nil }

func (f *fakeChannelStore) ClearExpiredBlacklists(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeChannelStore) TouchActivity(context.Context, string, string, time.Time) error {
	return nil
}

func (f *fakeChannelStore) CountMirrorChannels(context.Context, string) (int64, error) {
	return 0, nil
}

func (f *fakeChannelStore) Delete(_ context.Context, sourceChannelID, serverID string) error {
	delete(f.rows, sourceChannelID+"|"+serverID)
	return nil
}

type fakeRoleStore struct {
	rows map[string]*store.RoleMapping
}

func (f *fakeRoleStore) Get(_ context.Context, sourceRoleID, serverID string) (*store.RoleMapping, error) {
	return f.rows[sourceRoleID+"|"+serverID], nil
}

func (f *fakeRoleStore) ListByServer(context.Context, string) ([]store.RoleMapping, error) {
	return nil, nil
}

func (f *fakeRoleStore) Upsert(_ context.Context, m *store.RoleMapping) error {
	f.rows[m.SourceRoleID+"|"+m.ServerID] = m
	return nil
}

func newTestManager(channels store.ChannelStore) *Manager {
	return New(channels, &fakeRoleStore{rows: make(map[string]*store.RoleMapping)}, nil, map[string]string{"src": "mir"})
}

func TestChannel_CachesResolvedMappings(t *testing.T) {
	st := newFakeChannelStore()
	st.put(&store.ChannelMapping{
		SourceChannelID: "c1", ServerID: "src",
		Name: "general", MirrorChannelID: "m1", Scraped: true,
	})
	m := newTestManager(st)

	for i := 0; i < 3; i++ {
		got, err := m.Channel(context.Background(), "c1", "src")
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || got.MirrorChannelID != "m1" {
			t.Fatalf("resolve %d returned %+v", i, got)
		}
	}
	if st.gets != 1 {
		t.Errorf("store queried %d times, want 1", st.gets)
	}
}

func TestChannel_MissingMappingNotCached(t *testing.T) {
	st := newFakeChannelStore()
	m := newTestManager(st)

	got, err := m.Channel(context.Background(), "c1", "src")
	if err != nil || got != nil {
		t.Fatalf("resolve = (%+v, %v)", got, err)
	}

	// The mapping appears later; the miss must not have been cached.
	st.put(&store.ChannelMapping{SourceChannelID: "c1", ServerID: "src", MirrorChannelID: "m1"})
	got, err = m.Channel(context.Background(), "c1", "src")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("late mapping not visible")
	}
}

func TestInvalidate_ForcesStoreReread(t *testing.T) {
	st := newFakeChannelStore()
	st.put(&store.ChannelMapping{SourceChannelID: "c1", ServerID: "src", MirrorChannelID: "m1"})
	m := newTestManager(st)

	if _, err := m.Channel(context.Background(), "c1", "src"); err != nil {
		t.Fatal(err)
	}
	st.put(&store.ChannelMapping{SourceChannelID: "c1", ServerID: "src", MirrorChannelID: "m2"})
	m.Invalidate("c1", "src")

	got, err := m.Channel(context.Background(), "c1", "src")
	if err != nil {
		t.Fatal(err)
	}
	if got.MirrorChannelID != "m2" {
		t.Errorf("after invalidate mirror = %q, want m2", got.MirrorChannelID)
	}
	if st.gets != 2 {
		t.Errorf("store queried %d times, want 2", st.gets)
	}
}

func TestCacheChannel_DropsWholeCacheAtCap(t *testing.T) {
	m := newTestManager(newFakeChannelStore())

	for i := 0; i < channelCacheMax; i++ {
		m.cacheChannel(fmt.Sprintf("c%d|src", i), &store.ChannelMapping{})
	}
	if len(m.chanCache) != channelCacheMax {
		t.Fatalf("cache holds %d entries before overflow", len(m.chanCache))
	}
	m.cacheChannel("overflow|src", &store.ChannelMapping{})
	if len(m.chanCache) != 1 {
		t.Errorf("cache holds %d entries after overflow, want 1", len(m.chanCache))
	}
}

func TestRole_CachesMirrorID(t *testing.T) {
	roles := &fakeRoleStore{rows: make(map[string]*store.RoleMapping)}
	roles.rows["r1|src"] = &store.RoleMapping{
		SourceRoleID: "r1", ServerID: "src", MirrorRoleID: "mr1", Synced: true,
	}
	m := New(newFakeChannelStore(), roles, nil, map[string]string{"src": "mir"})

	id, err := m.Role(context.Background(), "r1", "src")
	if err != nil || id != "mr1" {
		t.Fatalf("Role = (%q, %v)", id, err)
	}
	delete(roles.rows, "r1|src")
	id, err = m.Role(context.Background(), "r1", "src")
	if err != nil || id != "mr1" {
		t.Errorf("cached Role = (%q, %v)", id, err)
	}
}

func TestMirrorServerFor(t *testing.T) {
	m := newTestManager(newFakeChannelStore())
	if id, ok := m.MirrorServerFor("src"); !ok || id != "mir" {
		t.Errorf("MirrorServerFor(src) = (%q, %v)", id, ok)
	}
	if _, ok := m.MirrorServerFor("unknown"); ok {
		t.Error("unknown source server resolved")
	}
}

func TestRefuseCapOnce_FiresOncePerMirror(t *testing.T) {
	m := newTestManager(newFakeChannelStore())

	var fired []string
	m.OnCapRefused = func(mirrorID string, count int64) {
		fired = append(fired, mirrorID)
		if count != 500 {
			t.Errorf("refusal count = %d, want 500", count)
		}
	}

	m.refuseCapOnce("mir", 500)
	m.refuseCapOnce("mir", 500)
	m.refuseCapOnce("mir", 500)
	if len(fired) != 1 || fired[0] != "mir" {
		t.Errorf("refusals = %v, want [mir]", fired)
	}

	m.refuseCapOnce("other", 500)
	if len(fired) != 2 || fired[1] != "other" {
		t.Errorf("refusals = %v, want a separate one per mirror", fired)
	}
}
