package members

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/WaRyXx06/astro-relay/internal/source"
	"github.com/WaRyXx06/astro-relay/internal/store"
)

type fakeMemberStore struct {
	upserted []store.MemberDetail
	touched  int
}

func (f *fakeMemberStore) BulkUpsert(_ context.Context, details []store.MemberDetail) (int64, error) {
	f.upserted = append(f.upserted, details...)
	return int64(len(details)), nil
}

func (f *fakeMemberStore) Touch(_ context.Context, _, _, _ string, _ time.Time) error {
	f.touched++
	return nil
}

func (f *fakeMemberStore) Get(context.Context, string, string) (*store.MemberDetail, error) {
	return nil, nil
}

func (f *fakeMemberStore) RecordCount(context.Context, *store.MemberCount) error { return nil }

func (f *fakeMemberStore) RecomputeDanger(context.Context) (int64, error) { return 0, nil }

func (f *fakeMemberStore) PurgeAll(context.Context) (int64, error) { return 0, nil }

func member(id, name string) *discordgo.Member {
	return &discordgo.Member{User: &discordgo.User{ID: id, Username: name}}
}

func TestAbsorb_DedupesAndTags(t *testing.T) {
	tr := NewTracker("g1", &fakeMemberStore{}, nil, nil, nil)

	fresh := tr.absorb([]*discordgo.Member{
		member("u1", "alice"),
		member("u2", "bob"),
		nil,
		{User: nil},
	}, "gateway")
	if fresh != 2 {
		t.Errorf("first batch fresh = %d, want 2", fresh)
	}

	fresh = tr.absorb([]*discordgo.Member{
		member("u1", "alice"),
		member("u3", "carol"),
	}, "bruteforce")
	if fresh != 1 {
		t.Errorf("second batch fresh = %d, want 1", fresh)
	}
	if got := tr.collected(); got != 3 {
		t.Errorf("collected = %d, want 3", got)
	}

	d := tr.seen["u3"]
	if d == nil {
		t.Fatal("u3 missing from working set")
	}
	if len(d.History) != 1 || d.History[0].Method != "bruteforce" {
		t.Errorf("u3 history = %+v", d.History)
	}
	if d.GuildID != "g1" {
		t.Errorf("guild = %q", d.GuildID)
	}
}

func TestFlush_PersistsAndResets(t *testing.T) {
	st := &fakeMemberStore{}
	tr := NewTracker("g1", st, nil, nil, nil)
	tr.absorb([]*discordgo.Member{member("u1", "alice"), member("u2", "bob")}, "cache")

	n, err := tr.flush(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("flushed = %d, want 2", n)
	}
	if len(st.upserted) != 2 {
		t.Errorf("store received %d rows", len(st.upserted))
	}
	if got := tr.collected(); got != 0 {
		t.Errorf("working set not reset, collected = %d", got)
	}

	// Empty flush is a no-op, not an error.
	n, err = tr.flush(context.Background())
	if err != nil || n != 0 {
		t.Errorf("empty flush = (%d, %v)", n, err)
	}
}

func TestDrainQueued_AbsorbsBufferedChunks(t *testing.T) {
	tr := NewTracker("g1", &fakeMemberStore{}, nil, nil, nil)

	tr.OnMembersChunk(context.Background(), source.MembersChunk{
		Members: []*discordgo.Member{member("u1", "alice"), member("u2", "bob")},
	})
	tr.OnMembersChunk(context.Background(), source.MembersChunk{
		Members: []*discordgo.Member{member("u2", "bob"), member("u3", "carol")},
	})

	if fresh := tr.drainQueued(); fresh != 3 {
		t.Errorf("drained fresh = %d, want 3", fresh)
	}
	if d := tr.seen["u1"]; d == nil || d.History[0].Method != "cache" {
		t.Errorf("u1 = %+v", d)
	}
	// Queue is empty now.
	if fresh := tr.drainQueued(); fresh != 0 {
		t.Errorf("second drain = %d, want 0", fresh)
	}
}

func TestOnAuthorSeen_IgnoresOtherGuilds(t *testing.T) {
	st := &fakeMemberStore{}
	tr := NewTracker("g1", st, nil, nil, nil)

	tr.OnAuthorSeen("g2", "u1", "alice")
	if st.touched != 0 {
		t.Error("author from another guild touched the store")
	}
	tr.OnAuthorSeen("g1", "u1", "alice")
	if st.touched != 1 {
		t.Errorf("touched = %d, want 1", st.touched)
	}
}
