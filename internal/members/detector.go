package members

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/WaRyXx06/astro-relay/internal/store"
)

// coverageTarget is the fraction of the advertised member count a pass
// aims for before declaring the census good enough.
const coverageTarget = 0.9

// bruteforcePrefixes drives the last-resort name-prefix sweep.
const bruteforcePrefixes = "abcdefghijklmnopqrstuvwxyz0123456789_."

const (
	lazyListStep    = 100
	lazyListWait    = 5 * time.Second
	gatewayWait     = 10 * time.Second
	lazyListMaxIdle = 3 // consecutive scroll steps with no fresh members
)

// ListChannelProvider names a channel whose member list can be scrolled.
type ListChannelProvider func(ctx context.Context) (string, error)

// Run loops detection passes at the given interval until ctx cancels.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, listChannel ListChannelProvider) {
	for {
		if err := t.Detect(ctx, listChannel); err != nil && ctx.Err() == nil {
			slog.Error("members: detection pass failed", "guild", t.guildID, "error", err)
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Detect runs one census pass: cheapest method first, stopping as soon as
// coverage against the advertised count is reached.
func (t *Tracker) Detect(ctx context.Context, listChannel ListChannelProvider) error {
	target, err := t.rest.FetchGuildMemberCount(ctx, t.guildID)
	if err != nil {
		return fmt.Errorf("member count for %s: %w", t.guildID, err)
	}
	goal := int(float64(target) * coverageTarget)
	yields := make(map[string]int, 4)

	yields["cache"] = t.drainQueued()

	if t.collected() < goal {
		yields["lazylist"] = t.scrollLazyList(ctx, listChannel, target)
	}
	if t.collected() < goal {
		yields["gateway"] = t.requestChunks(ctx)
	}
	if t.collected() < goal {
		yields["bruteforce"] = t.bruteForce(ctx, goal)
	}

	collected := t.collected()
	written, err := t.flush(ctx)
	if err != nil {
		return fmt.Errorf("persist census: %w", err)
	}
	if err := t.members.RecordCount(ctx, &store.MemberCount{
		GuildID: t.guildID,
		Count:   target,
		At:      time.Now(),
	}); err != nil {
		slog.Debug("members: count not recorded", "guild", t.guildID, "error", err)
	}

	detail := fmt.Sprintf("target=%d collected=%d written=%d cache=%d lazylist=%d gateway=%d bruteforce=%d",
		target, collected, written,
		yields["cache"], yields["lazylist"], yields["gateway"], yields["bruteforce"])
	slog.Info("members: detection pass complete", "guild", t.guildID, "detail", detail)
	t.ship.Members(ctx, t.guildID, "census pass", detail)
	return nil
}

// drainQueued absorbs frames that arrived passively since the last pass.
func (t *Tracker) drainQueued() int {
	fresh := 0
	for {
		select {
		case chunk := <-t.chunks:
			fresh += t.absorb(chunk.Members, "cache")
		default:
			return fresh
		}
	}
}

// scrollLazyList walks the member sidebar of one channel in index ranges,
// absorbing the sync frames the server sends back.
func (t *Tracker) scrollLazyList(ctx context.Context, listChannel ListChannelProvider, target int) int {
	if listChannel == nil {
		return 0
	}
	channelID, err := listChannel(ctx)
	if err != nil || channelID == "" {
		slog.Debug("members: no channel for lazy list", "guild", t.guildID, "error", err)
		return 0
	}

	fresh := 0
	idle := 0
	for offset := 0; offset < target && idle < lazyListMaxIdle; offset += 3 * lazyListStep {
		ranges := [][2]int{
			{offset, offset + lazyListStep - 1},
			{offset + lazyListStep, offset + 2*lazyListStep - 1},
			{offset + 2*lazyListStep, offset + 3*lazyListStep - 1},
		}
		if err := t.gateway.SubscribeMemberList(channelID, ranges); err != nil {
			slog.Debug("members: lazy list subscribe failed", "guild", t.guildID, "error", err)
			return fresh
		}
		got := t.drainFor(ctx, lazyListWait, "lazylist", "")
		fresh += got
		if got == 0 {
			idle++
		} else {
			idle = 0
		}
	}
	return fresh
}

// requestChunks issues the bulk member opcode and absorbs the responses.
func (t *Tracker) requestChunks(ctx context.Context) int {
	nonce := uuid.NewString()
	if err := t.gateway.RequestGuildMembers("", 0, nonce); err != nil {
		slog.Debug("members: chunk request failed", "guild", t.guildID, "error", err)
		return 0
	}
	return t.drainFor(ctx, gatewayWait, "gateway", nonce)
}

// drainFor absorbs matching chunk frames until the window closes.
func (t *Tracker) drainFor(ctx context.Context, window time.Duration, method, nonce string) int {
	fresh := 0
	deadline := time.NewTimer(window)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return fresh
		case <-deadline.C:
			return fresh
		case chunk := <-t.chunks:
			if nonce != "" && chunk.Nonce != nonce && chunk.Nonce != "lazylist" {
				continue
			}
			fresh += t.absorb(chunk.Members, method)
			if nonce != "" && chunk.Nonce == nonce && chunk.ChunkCount > 0 && chunk.ChunkIndex == chunk.ChunkCount-1 {
				return fresh
			}
		}
	}
}

// bruteForce sweeps name prefixes through member search until the goal is
// met or the alphabet runs out.
func (t *Tracker) bruteForce(ctx context.Context, goal int) int {
	fresh := 0
	for _, r := range bruteforcePrefixes {
		if ctx.Err() != nil || t.collected() >= goal {
			return fresh
		}
		batch, err := t.rest.SearchGuildMembers(ctx, t.guildID, string(r), 1000)
		if err != nil {
			slog.Debug("members: prefix search failed", "prefix", string(r), "error", err)
			continue
		}
		fresh += t.absorb(batch, "bruteforce")
	}
	return fresh
}
