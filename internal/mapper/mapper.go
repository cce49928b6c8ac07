// Package mapper owns the correspondence between source-side and
// mirror-side objects. It layers an RWMutex-guarded cache over the channel
// and role stores and creates missing mirror counterparts on demand, so
// the rest of the engine asks one question: "where does this source object
// land on the mirror".
package mapper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/WaRyXx06/astro-relay/internal/mirror"
	"github.com/WaRyXx06/astro-relay/internal/store"
)

// channelCacheMax bounds the in-memory channel cache. Exceeding it drops
// the whole cache; entries repopulate lazily from the store.
const channelCacheMax = 4096

// ChannelDesc describes a source channel well enough to create its mirror
// counterpart: identity plus the parent category, if any.
type ChannelDesc struct {
	SourceChannelID string
	ServerID        string // source server id
	Name            string
	Kind            store.ChannelKind
	ParentSourceID  string
	ParentName      string
}

// Manager resolves and creates correspondences.
type Manager struct {
	channels store.ChannelStore
	roles    store.RoleStore
	client   *mirror.Client

	// mirrorFor maps source server id to its mirror server id.
	mirrorFor map[string]string

	// OnCapWarning fires once per mirror server per process when the
	// channel count crosses the warning line.
	OnCapWarning func(mirrorServerID string, count int64)

	// OnCapRefused fires once per mirror server per process when a
	// creation is refused at the hard channel ceiling.
	OnCapRefused func(mirrorServerID string, count int64)

	// OnMirrorCreated fires after a mirror channel is created for a
	// source channel (not for categories).
	OnMirrorCreated func(sourceServerID, name, mirrorChannelID string)

	mu         sync.RWMutex
	chanCache  map[string]*store.ChannelMapping
	roleCache  map[string]string
	capWarned  map[string]bool
	capRefused map[string]bool
}

// New creates a Manager. mirrorFor maps source server ids to mirror ids.
func New(channels store.ChannelStore, roles store.RoleStore, client *mirror.Client, mirrorFor map[string]string) *Manager {
	return &Manager{
		channels:  channels,
		roles:     roles,
		client:    client,
		mirrorFor: mirrorFor,
		chanCache:  make(map[string]*store.ChannelMapping),
		roleCache:  make(map[string]string),
		capWarned:  make(map[string]bool),
		capRefused: make(map[string]bool),
	}
}

// MirrorServerFor returns the mirror server paired with a source server.
func (m *Manager) MirrorServerFor(sourceServerID string) (string, bool) {
	id, ok := m.mirrorFor[sourceServerID]
	return id, ok
}

func chanKey(sourceChannelID, serverID string) string {
	return sourceChannelID + "|" + serverID
}

// Channel resolves a mapping from cache or store without creating anything.
// Returns nil when no mapping exists.
func (m *Manager) Channel(ctx context.Context, sourceChannelID, serverID string) (*store.ChannelMapping, error) {
	key := chanKey(sourceChannelID, serverID)
	m.mu.RLock()
	cached, ok := m.chanCache[key]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}
	mapping, err := m.channels.Get(ctx, sourceChannelID, serverID)
	if err != nil {
		return nil, fmt.Errorf("resolve channel %s: %w", sourceChannelID, err)
	}
	if mapping != nil {
		m.cacheChannel(key, mapping)
	}
	return mapping, nil
}

// ChannelByMirror resolves a mapping from its mirror-side id (webhook edits
// and log sinks walk this direction). Uncached; the call is rare.
func (m *Manager) ChannelByMirror(ctx context.Context, mirrorChannelID string) (*store.ChannelMapping, error) {
	return m.channels.GetByMirror(ctx, mirrorChannelID)
}

func (m *Manager) cacheChannel(key string, mapping *store.ChannelMapping) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.chanCache) >= channelCacheMax {
		m.chanCache = make(map[string]*store.ChannelMapping)
	}
	m.chanCache[key] = mapping
}

// Invalidate drops a channel from the cache so the next resolve re-reads
// the store. Called after blacklisting or mirror-side deletion.
func (m *Manager) Invalidate(sourceChannelID, serverID string) {
	m.mu.Lock()
	delete(m.chanCache, chanKey(sourceChannelID, serverID))
	m.mu.Unlock()
}

// EnsureChannel resolves a mapping and creates the mirror-side object when
// it is missing or still pending. Parent categories are created first, one
// level deep. Creation is serialized per mirror server.
func (m *Manager) EnsureChannel(ctx context.Context, desc ChannelDesc) (*store.ChannelMapping, error) {
	mapping, err := m.Channel(ctx, desc.SourceChannelID, desc.ServerID)
	if err != nil {
		return nil, err
	}
	if mapping != nil && mapping.Blacklisted {
		return mapping, nil
	}
	if mapping != nil && mapping.HasMirror() {
		return mapping, nil
	}

	mirrorGuild, ok := m.MirrorServerFor(desc.ServerID)
	if !ok {
		return nil, fmt.Errorf("no mirror server paired with %s", desc.ServerID)
	}

	lock := m.client.LockGuild(mirrorGuild)
	lock.Lock()
	defer lock.Unlock()

	// Re-check under the lock: a concurrent caller may have created it.
	fresh, err := m.channels.Get(ctx, desc.SourceChannelID, desc.ServerID)
	if err != nil {
		return nil, err
	}
	if fresh != nil && fresh.HasMirror() {
		m.cacheChannel(chanKey(desc.SourceChannelID, desc.ServerID), fresh)
		return fresh, nil
	}

	if desc.Kind.CountsTowardCap() {
		count, err := m.client.CheckCap(ctx, m.channels, desc.ServerID)
		if err != nil {
			if errors.Is(err, mirror.ErrChannelCapReached) {
				m.refuseCapOnce(mirrorGuild, count)
			}
			return nil, err
		}
		if count >= mirror.ChannelCapWarn {
			m.warnCapOnce(mirrorGuild, count)
		}
	}

	parentMirrorID, err := m.ensureParentLocked(ctx, desc, mirrorGuild)
	if err != nil {
		return nil, err
	}

	created, err := m.client.CreateChannel(mirrorGuild, desc.Name, desc.Kind, parentMirrorID)
	if err != nil {
		return nil, fmt.Errorf("ensure channel %q: %w", desc.Name, err)
	}

	mapping = &store.ChannelMapping{
		SourceChannelID: desc.SourceChannelID,
		ServerID:        desc.ServerID,
		Name:            desc.Name,
		MirrorChannelID: created.ID,
		Kind:            desc.Kind,
		ParentSourceID:  desc.ParentSourceID,
		Scraped:         true,
	}
	if err := m.channels.Upsert(ctx, mapping); err != nil {
		return nil, fmt.Errorf("persist channel mapping %q: %w", desc.Name, err)
	}
	m.cacheChannel(chanKey(desc.SourceChannelID, desc.ServerID), mapping)
	slog.Info("mapper: mirror channel created",
		"source", desc.SourceChannelID, "mirror", created.ID, "name", desc.Name)
	if m.OnMirrorCreated != nil && desc.Kind != store.KindCategory {
		m.OnMirrorCreated(desc.ServerID, desc.Name, created.ID)
	}
	return mapping, nil
}

// ensureParentLocked creates the parent category when the source channel
// has one and it is not mirrored yet. Caller holds the guild lock.
func (m *Manager) ensureParentLocked(ctx context.Context, desc ChannelDesc, mirrorGuild string) (string, error) {
	if desc.ParentSourceID == "" {
		return "", nil
	}
	parent, err := m.channels.Get(ctx, desc.ParentSourceID, desc.ServerID)
	if err != nil {
		return "", err
	}
	if parent != nil && parent.HasMirror() {
		return parent.MirrorChannelID, nil
	}
	name := desc.ParentName
	if name == "" {
		name = "imported"
	}
	created, err := m.client.CreateCategory(mirrorGuild, name)
	if err != nil {
		return "", fmt.Errorf("ensure parent category %q: %w", name, err)
	}
	parent = &store.ChannelMapping{
		SourceChannelID: desc.ParentSourceID,
		ServerID:        desc.ServerID,
		Name:            name,
		MirrorChannelID: created.ID,
		Kind:            store.KindCategory,
	}
	if err := m.channels.Upsert(ctx, parent); err != nil {
		return "", fmt.Errorf("persist parent mapping %q: %w", name, err)
	}
	m.cacheChannel(chanKey(desc.ParentSourceID, desc.ServerID), parent)
	return created.ID, nil
}

func (m *Manager) warnCapOnce(mirrorGuild string, count int64) {
	m.mu.Lock()
	warned := m.capWarned[mirrorGuild]
	m.capWarned[mirrorGuild] = true
	m.mu.Unlock()
	if warned || m.OnCapWarning == nil {
		return
	}
	m.OnCapWarning(mirrorGuild, count)
}

// refuseCapOnce logs the hard-ceiling refusal once per mirror server per
// process. Every creation still fails with the cap error; only the noise
// is suppressed.
func (m *Manager) refuseCapOnce(mirrorGuild string, count int64) {
	m.mu.Lock()
	refused := m.capRefused[mirrorGuild]
	m.capRefused[mirrorGuild] = true
	m.mu.Unlock()
	if refused {
		return
	}
	slog.Error("mapper: channel cap reached, creation refused",
		"mirror", mirrorGuild, "count", count)
	if m.OnCapRefused != nil {
		m.OnCapRefused(mirrorGuild, count)
	}
}

// Register stores and caches a mapping for a mirror object created outside
// the manager (threads, forum posts, recovered channels).
func (m *Manager) Register(ctx context.Context, mapping *store.ChannelMapping) error {
	if err := m.channels.Upsert(ctx, mapping); err != nil {
		return fmt.Errorf("register mapping %s: %w", mapping.SourceChannelID, err)
	}
	m.cacheChannel(chanKey(mapping.SourceChannelID, mapping.ServerID), mapping)
	return nil
}

func roleKey(sourceRoleID, serverID string) string {
	return sourceRoleID + "|" + serverID
}

// Role resolves a source role to its mirror role id without creating one.
func (m *Manager) Role(ctx context.Context, sourceRoleID, serverID string) (string, error) {
	key := roleKey(sourceRoleID, serverID)
	m.mu.RLock()
	cached, ok := m.roleCache[key]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}
	mapping, err := m.roles.Get(ctx, sourceRoleID, serverID)
	if err != nil {
		return "", fmt.Errorf("resolve role %s: %w", sourceRoleID, err)
	}
	if mapping == nil || mapping.MirrorRoleID == "" {
		return "", nil
	}
	m.mu.Lock()
	m.roleCache[key] = mapping.MirrorRoleID
	m.mu.Unlock()
	return mapping.MirrorRoleID, nil
}

// EnsureRole resolves a source role, creating the mirror role with a
// filtered permission bitmap when missing. @everyone is never mirrored;
// callers must not pass it.
func (m *Manager) EnsureRole(ctx context.Context, serverID string, src *discordgo.Role) (string, error) {
	if id, err := m.Role(ctx, src.ID, serverID); err != nil || id != "" {
		return id, err
	}

	mirrorGuild, ok := m.MirrorServerFor(serverID)
	if !ok {
		return "", fmt.Errorf("no mirror server paired with %s", serverID)
	}
	created, err := m.client.CreateRole(mirrorGuild, src.Name, src.Permissions, src.Color, src.Hoist, src.Mentionable)
	if err != nil {
		return "", fmt.Errorf("ensure role %q: %w", src.Name, err)
	}
	mapping := &store.RoleMapping{
		SourceRoleID: src.ID,
		ServerID:     serverID,
		Name:         src.Name,
		MirrorRoleID: created.ID,
		Synced:       true,
	}
	if err := m.roles.Upsert(ctx, mapping); err != nil {
		return "", fmt.Errorf("persist role mapping %q: %w", src.Name, err)
	}
	m.mu.Lock()
	m.roleCache[roleKey(src.ID, serverID)] = created.ID
	m.mu.Unlock()
	slog.Info("mapper: mirror role created", "source", src.ID, "mirror", created.ID, "name", src.Name)
	return created.ID, nil
}
