// Package pipeline is the replication hot path: it drains the source event
// stream, renders each message for the mirror and commits it through the
// channel's impersonation endpoint. Events for one source channel are
// processed strictly in order by a dedicated worker; channels proceed
// independently of each other.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/WaRyXx06/astro-relay/internal/activity"
	"github.com/WaRyXx06/astro-relay/internal/config"
	"github.com/WaRyXx06/astro-relay/internal/mapper"
	"github.com/WaRyXx06/astro-relay/internal/mirror"
	"github.com/WaRyXx06/astro-relay/internal/source"
	"github.com/WaRyXx06/astro-relay/internal/store"
	"github.com/WaRyXx06/astro-relay/internal/ttlcache"
	"github.com/WaRyXx06/astro-relay/internal/webhook"
)

const (
	workerQueueLen = 64
	// dedupeWindow suppresses gateway redeliveries of the same message id.
	dedupeWindow = 10 * time.Minute
	// reactionWindow bounds per-emoji reaction replication per message.
	reactionWindow = time.Hour
	// deferredEditDeadline bounds the in-place fixup after a mentioned
	// channel had to be created first.
	deferredEditDeadline = 2 * time.Second
)

// Hooks let the topology and census layers observe structural events
// without the pipeline importing them.
type Hooks struct {
	OnThreadCreated  func(ctx context.Context, ch *discordgo.Channel)
	OnChannelCreated func(ctx context.Context, ch *discordgo.Channel)
	OnMembersChunk   func(ctx context.Context, chunk source.MembersChunk)
	OnAuthorSeen     func(guildID, userID, username string)
	// OnRoleMention fires once per role ping that passed the blacklist,
	// after the row is persisted.
	OnRoleMention func(sourceServerID, channelName, roleID, messageURL string)
	// OnDeliveryFailed fires when a send through a channel's endpoint
	// fails after retries; the recovery layer decides what to rebuild.
	OnDeliveryFailed func(mapping *store.ChannelMapping, err error)
}

// Engine replicates one source event stream.
type Engine struct {
	stores  *store.Stores
	mapper  *mapper.Manager
	sender  *webhook.Sender
	rest    *source.RESTClient
	client  *mirror.Client
	monitor *activity.Monitor
	hooks   Hooks

	allowBotMentions bool
	ignore           map[string]map[string]bool // source server -> channel id -> ignored

	commands *commandTracker
	embeds   *embedBuffer
	dedupe   *ttlcache.Cache
	reacted  *ttlcache.Cache
	httpc    *http.Client

	emojiMu sync.Mutex
	emoji   map[string]map[string]string // mirror guild -> emoji name -> id

	mu      sync.Mutex
	workers map[string]chan source.Event
	wg      sync.WaitGroup
}

// New assembles an engine.
func New(stores *store.Stores, mp *mapper.Manager, sender *webhook.Sender, rest *source.RESTClient, client *mirror.Client, monitor *activity.Monitor, cfg *config.Config, hooks Hooks) *Engine {
	ignore := make(map[string]map[string]bool, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		set := make(map[string]bool, len(p.IgnoreChannels))
		for _, id := range p.IgnoreChannels {
			set[id] = true
		}
		ignore[p.SourceServerID] = set
	}
	return &Engine{
		stores:           stores,
		mapper:           mp,
		sender:           sender,
		rest:             rest,
		client:           client,
		monitor:          monitor,
		hooks:            hooks,
		allowBotMentions: cfg.Engine.AllowBotMentions,
		ignore:           ignore,
		commands:         newCommandTracker(commandPendingTTL),
		embeds:           newEmbedBuffer(),
		dedupe:           ttlcache.New(dedupeWindow, 8192),
		reacted:          ttlcache.New(reactionWindow, 8192),
		httpc:            &http.Client{},
		emoji:            make(map[string]map[string]string),
		workers:          make(map[string]chan source.Event),
	}
}

// Run drains events until the stream closes or ctx cancels, then waits for
// the per-channel workers to finish their queues.
func (e *Engine) Run(ctx context.Context, events <-chan source.Event) {
	for {
		select {
		case <-ctx.Done():
			e.drain()
			return
		case ev, ok := <-events:
			if !ok {
				e.drain()
				return
			}
			e.route(ctx, ev)
		}
	}
}

func (e *Engine) drain() {
	e.mu.Lock()
	for _, ch := range e.workers {
		close(ch)
	}
	e.workers = make(map[string]chan source.Event)
	e.mu.Unlock()
	e.wg.Wait()
}

// route fans events out to per-channel workers. Structural and census
// events skip the workers entirely.
func (e *Engine) route(ctx context.Context, ev source.Event) {
	switch v := ev.(type) {
	case source.MessageCreated:
		if v.Message == nil || e.dedupe.MarkOnce("m:"+v.Message.ID) {
			return
		}
		e.enqueue(ctx, v.Message.ChannelID, ev)
	case source.MessageUpdated:
		if v.Message == nil {
			return
		}
		// An update that completes a buffered unfurl is absorbed here and
		// ships with the original commit.
		if e.embeds.offer(v.Message.ID, v.Message.Embeds) {
			return
		}
		e.enqueue(ctx, v.Message.ChannelID, ev)
	case source.MessageDeleted:
		e.enqueue(ctx, v.ChannelID, ev)
	case source.ReactionAdded:
		e.enqueue(ctx, v.ChannelID, ev)
	case source.ThreadCreated:
		if e.hooks.OnThreadCreated != nil {
			e.hooks.OnThreadCreated(ctx, v.Channel)
		}
	case source.ChannelCreated:
		if e.hooks.OnChannelCreated != nil {
			e.hooks.OnChannelCreated(ctx, v.Channel)
		}
	case source.MembersChunk:
		if e.hooks.OnMembersChunk != nil {
			e.hooks.OnMembersChunk(ctx, v)
		}
	}
}

func (e *Engine) enqueue(ctx context.Context, channelID string, ev source.Event) {
	e.mu.Lock()
	ch, ok := e.workers[channelID]
	if !ok {
		ch = make(chan source.Event, workerQueueLen)
		e.workers[channelID] = ch
		e.wg.Add(1)
		go e.worker(ctx, ch)
	}
	e.mu.Unlock()

	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}

func (e *Engine) worker(ctx context.Context, ch <-chan source.Event) {
	defer e.wg.Done()
	for ev := range ch {
		switch v := ev.(type) {
		case source.MessageCreated:
			e.handleCreate(ctx, v.Message)
		case source.MessageUpdated:
			e.handleUpdate(ctx, v.Message)
		case source.MessageDeleted:
			e.handleDelete(ctx, v)
		case source.ReactionAdded:
			e.handleReaction(ctx, v)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// target is where a source message lands on the mirror.
type target struct {
	mapping  *store.ChannelMapping
	threadID string // mirror thread id when the source channel is a thread
	sendTo   string // mirror channel the webhook belongs to
}

// resolveTarget maps a source channel (or thread) to its mirror delivery
// point, creating missing mirror objects on demand.
func (e *Engine) resolveTarget(ctx context.Context, guildID, channelID string) (*target, error) {
	if set, ok := e.ignore[guildID]; ok && set[channelID] {
		return nil, nil
	}
	mapping, err := e.mapper.Channel(ctx, channelID, guildID)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return e.adoptUnknownChannel(ctx, guildID, channelID)
	}
	if mapping.Blacklisted || mapping.ManuallyDeleted {
		return nil, nil
	}
	if !mapping.Scraped && !mapping.Kind.IsThread() {
		return nil, nil
	}
	if mapping.Kind.IsThread() {
		return e.threadTarget(ctx, guildID, mapping)
	}
	if !mapping.HasMirror() {
		mapping, err = e.mapper.EnsureChannel(ctx, mapper.ChannelDesc{
			SourceChannelID: channelID,
			ServerID:        guildID,
			Name:            mapping.Name,
			Kind:            mapping.Kind,
			ParentSourceID:  mapping.ParentSourceID,
		})
		if err != nil {
			return nil, err
		}
	}
	if mapping == nil || !mapping.HasMirror() {
		return nil, nil
	}
	return &target{mapping: mapping, sendTo: mapping.MirrorChannelID}, nil
}

func (e *Engine) threadTarget(ctx context.Context, guildID string, mapping *store.ChannelMapping) (*target, error) {
	if !mapping.HasMirror() || mapping.ParentSourceID == "" {
		return nil, nil
	}
	parent, err := e.mapper.Channel(ctx, mapping.ParentSourceID, guildID)
	if err != nil || parent == nil || !parent.HasMirror() {
		return nil, err
	}
	return &target{mapping: mapping, threadID: mapping.MirrorChannelID, sendTo: parent.MirrorChannelID}, nil
}

// adoptUnknownChannel handles first contact with a source channel the sync
// pass has not seen: threads get a mirror thread under their parent,
// regular channels get a full mapping.
func (e *Engine) adoptUnknownChannel(ctx context.Context, guildID, channelID string) (*target, error) {
	ch, err := e.rest.FetchThreadByID(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("inspect channel %s: %w", channelID, err)
	}
	kind := store.ChannelKind(ch.Type)
	if kind == store.KindVoice || kind == store.KindStage || kind == store.KindCategory {
		return nil, nil
	}
	if kind.IsThread() {
		return e.adoptThread(ctx, guildID, ch)
	}

	desc := mapper.ChannelDesc{
		SourceChannelID: channelID,
		ServerID:        guildID,
		Name:            ch.Name,
		Kind:            kind,
		ParentSourceID:  ch.ParentID,
	}
	if ch.ParentID != "" {
		if parent, err := e.rest.FetchThreadByID(ctx, ch.ParentID); err == nil {
			desc.ParentName = parent.Name
		}
	}
	mapping, err := e.mapper.EnsureChannel(ctx, desc)
	if err != nil || mapping == nil || !mapping.HasMirror() {
		return nil, err
	}
	return &target{mapping: mapping, sendTo: mapping.MirrorChannelID}, nil
}

func (e *Engine) adoptThread(ctx context.Context, guildID string, th *discordgo.Channel) (*target, error) {
	parentCh, err := e.rest.FetchThreadByID(ctx, th.ParentID)
	if err != nil {
		return nil, fmt.Errorf("inspect thread parent %s: %w", th.ParentID, err)
	}
	parent, err := e.mapper.EnsureChannel(ctx, mapper.ChannelDesc{
		SourceChannelID: parentCh.ID,
		ServerID:        guildID,
		Name:            parentCh.Name,
		Kind:            store.ChannelKind(parentCh.Type),
		ParentSourceID:  parentCh.ParentID,
	})
	if err != nil || parent == nil || !parent.HasMirror() {
		return nil, err
	}

	var created *discordgo.Channel
	if parent.Kind == store.KindForum {
		created, err = e.client.CreateForumPost(parent.MirrorChannelID, th.Name, "")
	} else {
		created, err = e.client.StartStandaloneThread(parent.MirrorChannelID, th.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("mirror thread %q: %w", th.Name, err)
	}
	mapping := &store.ChannelMapping{
		SourceChannelID: th.ID,
		ServerID:        guildID,
		Name:            th.Name,
		MirrorChannelID: created.ID,
		Kind:            store.ChannelKind(th.Type),
		ParentSourceID:  th.ParentID,
		Scraped:         true,
	}
	if err := e.mapper.Register(ctx, mapping); err != nil {
		return nil, err
	}
	return &target{mapping: mapping, threadID: created.ID, sendTo: parent.MirrorChannelID}, nil
}

// EnsureThread pre-creates the mirror counterpart of a source thread. Used
// by auto-configure when a thread appears before its first message.
func (e *Engine) EnsureThread(ctx context.Context, th *discordgo.Channel) (*store.ChannelMapping, error) {
	if existing, err := e.mapper.Channel(ctx, th.ID, th.GuildID); err != nil || existing != nil {
		return existing, err
	}
	tgt, err := e.adoptThread(ctx, th.GuildID, th)
	if err != nil || tgt == nil {
		return nil, err
	}
	return tgt.mapping, nil
}

// handleCreate replicates one new source message.
func (e *Engine) handleCreate(ctx context.Context, msg *discordgo.Message) {
	if existing, err := e.stores.Messages.Get(ctx, msg.ID); err == nil && existing != nil {
		return
	}
	if err := e.ProcessMessage(ctx, msg); err != nil {
		slog.Error("pipeline: message not replicated",
			"message", msg.ID, "channel", msg.ChannelID, "error", err)
	}
}

// noiseAuthors drops known spammy automata before any other work. These
// bots repost level-up and giveaway chatter that has no value mirrored.
var noiseAuthors = map[string]bool{
	"MEE6":      true,
	"Dyno":      true,
	"ProBot ✨": true,
	"Arcane":    true,
}

// ProcessMessage renders and commits one source message. Shared by the
// live path and backfill; the caller owns pacing and idempotence checks
// beyond the processed-message unique index.
func (e *Engine) ProcessMessage(ctx context.Context, msg *discordgo.Message) error {
	if msg.Author != nil && msg.Author.Bot && noiseAuthors[msg.Author.Username] {
		return nil
	}
	e.commands.observe(msg)

	tgt, err := e.resolveTarget(ctx, msg.GuildID, msg.ChannelID)
	if err != nil {
		return err
	}
	if tgt == nil {
		return nil
	}

	allowPings := e.allowBotMentions || msg.Author == nil || !msg.Author.Bot
	res := Rewrite(msg.Content, msg, e.resolver(ctx, msg.GuildID), allowPings)
	content := res.Content
	if cmd, ok := e.commands.lookup(msg); ok {
		content = commandHeader(msg, cmd) + content
	}

	embeds := msg.Embeds
	if len(embeds) == 0 && hasLink(msg.Content) {
		embeds = e.embeds.wait(ctx, msg.ID)
	}
	embeds = TrimEmbeds(embeds)

	files, links := fetchAttachments(ctx, e.httpc, msg.Attachments)
	if len(links) > 0 {
		content = ClampContent(strings.TrimSpace(content + "\n" + strings.Join(links, "\n")))
	}
	groups := splitFiles(files)

	params := &discordgo.WebhookParams{
		Username:        displayName(msg.Author),
		AvatarURL:       avatarURL(msg.Author),
		Content:         content,
		Embeds:          embeds,
		AllowedMentions: allowedMentions(res.MentionedRoles),
	}
	if len(groups) > 0 {
		params.Files = toUploads(groups[0])
	}

	sent, ep, err := e.sender.Send(ctx, tgt.sendTo, tgt.threadID, params)
	if err != nil {
		if e.hooks.OnDeliveryFailed != nil && ctx.Err() == nil {
			e.hooks.OnDeliveryFailed(tgt.mapping, err)
		}
		return err
	}
	for _, group := range groups[1:] {
		if _, _, err := e.sender.Send(ctx, tgt.sendTo, tgt.threadID, &discordgo.WebhookParams{
			Username:  displayName(msg.Author),
			AvatarURL: avatarURL(msg.Author),
			Files:     toUploads(group),
		}); err != nil {
			slog.Error("pipeline: attachment group not delivered", "message", msg.ID, "error", err)
		}
	}

	mirrorServer, _ := e.mapper.MirrorServerFor(msg.GuildID)
	record := &store.ProcessedMessage{
		SourceMessageID: msg.ID,
		SourceChannelID: msg.ChannelID,
		MirrorMessageID: sent.ID,
		MirrorChannelID: tgt.sendTo,
		MirrorServerID:  mirrorServer,
		WebhookID:       ep.ID,
		WebhookToken:    ep.Token,
		ThreadID:        tgt.threadID,
		AwaitingEmbed:   len(embeds) == 0 && hasLink(msg.Content),
		RenderedContent: content,
		ProcessedAt:     time.Now(),
	}
	if err := e.stores.Messages.Insert(ctx, record); err != nil {
		return fmt.Errorf("commit message record: %w", err)
	}

	if len(res.PendingChannels) > 0 {
		e.fixupDeferredMentions(ctx, msg, record, ep, res.PendingChannels)
	}
	e.afterCommit(ctx, msg, tgt, res)
	return nil
}

// fixupDeferredMentions creates mirrors for channels that were mentioned
// before existing, then edits the committed message so the bolded
// placeholders become live references. Best effort within a short
// deadline.
func (e *Engine) fixupDeferredMentions(ctx context.Context, msg *discordgo.Message, record *store.ProcessedMessage, ep webhook.Endpoint, pending []PendingChannel) {
	edCtx, cancel := context.WithTimeout(ctx, deferredEditDeadline)
	defer cancel()

	content := record.RenderedContent
	changed := false
	seen := map[string]bool{}
	for _, p := range pending {
		if seen[p.SourceID] {
			continue
		}
		seen[p.SourceID] = true
		tgt, err := e.resolveTarget(edCtx, msg.GuildID, p.SourceID)
		if err != nil || tgt == nil || tgt.mapping == nil || !tgt.mapping.HasMirror() {
			continue
		}
		next := strings.ReplaceAll(content, p.Placeholder, "<#"+tgt.mapping.MirrorChannelID+">")
		if next != content {
			content = next
			changed = true
		}
	}
	if !changed {
		return
	}
	if err := e.sender.Edit(edCtx, ep, record.MirrorChannelID, record.MirrorMessageID, &discordgo.WebhookEdit{
		Content: &content,
	}); err != nil {
		slog.Warn("pipeline: deferred mention fixup failed", "message", msg.ID, "error", err)
		return
	}
	record.RenderedContent = content
	if err := e.stores.Messages.Update(ctx, record); err != nil {
		slog.Warn("pipeline: record not updated after fixup", "message", msg.ID, "error", err)
	}
}

func (e *Engine) afterCommit(ctx context.Context, msg *discordgo.Message, tgt *target, res RewriteResult) {
	now := time.Now()
	if err := e.stores.Channels.TouchActivity(ctx, tgt.mapping.SourceChannelID, msg.GuildID, now); err != nil {
		slog.Debug("pipeline: activity touch failed", "channel", msg.ChannelID, "error", err)
	}
	if e.monitor != nil {
		e.monitor.Record(msg.GuildID)
	}
	if e.hooks.OnAuthorSeen != nil && msg.Author != nil && !msg.Author.Bot {
		e.hooks.OnAuthorSeen(msg.GuildID, msg.Author.ID, msg.Author.Username)
	}
	if len(msg.MentionRoles) > 0 {
		e.recordRoleMentions(ctx, msg, tgt)
	}
}

func (e *Engine) recordRoleMentions(ctx context.Context, msg *discordgo.Message, tgt *target) {
	blocked, err := e.stores.Blacklists.IsMentionBlacklisted(ctx, msg.GuildID, tgt.mapping.Name)
	if err != nil || blocked {
		return
	}
	for _, roleID := range msg.MentionRoles {
		rm := &store.RoleMention{
			SourceGuildID: msg.GuildID,
			ChannelName:   tgt.mapping.Name,
			RoleID:        roleID,
			MessageURL:    fmt.Sprintf("https://discord.com/channels/%s/%s/%s", msg.GuildID, msg.ChannelID, msg.ID),
			Timestamp:     time.Now(),
		}
		if err := e.stores.Logs.RecordRoleMention(ctx, rm); err != nil {
			slog.Debug("pipeline: role mention not recorded", "role", roleID, "error", err)
		}
		if e.hooks.OnRoleMention != nil {
			e.hooks.OnRoleMention(rm.SourceGuildID, rm.ChannelName, rm.RoleID, rm.MessageURL)
		}
	}
}

// handleUpdate re-renders an edited source message onto its mirror copy.
// Updates for unknown messages are dropped; partial frames keep the prior
// rendering when the provider omits content.
func (e *Engine) handleUpdate(ctx context.Context, msg *discordgo.Message) {
	record, err := e.stores.Messages.Get(ctx, msg.ID)
	if err != nil || record == nil {
		return
	}
	ep := webhook.Endpoint{ID: record.WebhookID, Token: record.WebhookToken}

	edit := &discordgo.WebhookEdit{}
	if msg.Content != "" {
		allowPings := e.allowBotMentions || msg.Author == nil || !msg.Author.Bot
		res := Rewrite(msg.Content, msg, e.resolver(ctx, msg.GuildID), allowPings)
		// Unchanged rendering means the edit only touched something we do
		// not replicate; skip the content field.
		if res.Content != record.RenderedContent {
			edit.Content = &res.Content
			record.RenderedContent = res.Content
		}
	}
	if len(msg.Embeds) > 0 {
		trimmed := TrimEmbeds(msg.Embeds)
		edit.Embeds = &trimmed
		record.AwaitingEmbed = false
	}
	if edit.Content == nil && edit.Embeds == nil {
		return
	}
	if err := e.sender.Edit(ctx, ep, record.MirrorChannelID, record.MirrorMessageID, edit); err != nil {
		slog.Error("pipeline: edit not replicated", "message", msg.ID, "error", err)
		return
	}
	if err := e.stores.Messages.Update(ctx, record); err != nil {
		slog.Debug("pipeline: record not updated after edit", "message", msg.ID, "error", err)
	}
}

// handleDelete removes the mirror copy of a deleted source message.
// Forum starter posts stay; deleting them would tear down the whole post.
func (e *Engine) handleDelete(ctx context.Context, ev source.MessageDeleted) {
	record, err := e.stores.Messages.Get(ctx, ev.MessageID)
	if err != nil || record == nil {
		return
	}
	if record.ThreadID != "" && record.MirrorMessageID == record.ThreadID {
		return
	}
	ep := webhook.Endpoint{ID: record.WebhookID, Token: record.WebhookToken}
	if err := e.sender.Delete(ctx, ep, record.MirrorChannelID, record.MirrorMessageID); err != nil {
		slog.Error("pipeline: delete not replicated", "message", ev.MessageID, "error", err)
	}
}

// handleReaction mirrors the first occurrence of each emoji per message.
// Custom emoji replicate only when the mirror has one with the same name.
func (e *Engine) handleReaction(ctx context.Context, ev source.ReactionAdded) {
	if e.reacted.MarkOnce("r:" + ev.MessageID + "|" + ev.Emoji.APIName()) {
		return
	}
	record, err := e.stores.Messages.Get(ctx, ev.MessageID)
	if err != nil || record == nil {
		return
	}

	apiName := ev.Emoji.APIName()
	if ev.Emoji.ID != "" {
		mirrorServer, ok := e.mapper.MirrorServerFor(ev.GuildID)
		if !ok {
			return
		}
		id, ok := e.mirrorEmoji(mirrorServer, ev.Emoji.Name)
		if !ok {
			return
		}
		apiName = ev.Emoji.Name + ":" + id
	}

	targetChannel := record.MirrorChannelID
	if record.ThreadID != "" {
		targetChannel = record.ThreadID
	}
	if err := e.client.AddReaction(targetChannel, record.MirrorMessageID, apiName); err != nil {
		slog.Debug("pipeline: reaction not replicated", "message", ev.MessageID, "emoji", apiName, "error", err)
	}
}

func (e *Engine) mirrorEmoji(mirrorGuild, name string) (string, bool) {
	e.emojiMu.Lock()
	defer e.emojiMu.Unlock()
	m, ok := e.emoji[mirrorGuild]
	if !ok {
		fetched, err := e.client.GuildEmojiNames(mirrorGuild)
		if err != nil {
			return "", false
		}
		m = fetched
		e.emoji[mirrorGuild] = m
	}
	id, ok := m[name]
	return id, ok
}

// resolver adapts the mapper to the pure rewrite layer for one server.
func (e *Engine) resolver(ctx context.Context, guildID string) MentionResolver {
	return mapperResolver{
		ctx:     ctx,
		m:       e.mapper,
		msgs:    e.stores.Messages,
		roles:   e.stores.Roles,
		rest:    e.rest,
		guildID: guildID,
	}
}

type mapperResolver struct {
	ctx     context.Context
	m       *mapper.Manager
	msgs    store.MessageStore
	roles   store.RoleStore
	rest    *source.RESTClient
	guildID string
}

func (r mapperResolver) MirrorChannel(sourceChannelID string) (string, bool) {
	mapping, err := r.m.Channel(r.ctx, sourceChannelID, r.guildID)
	if err != nil || mapping == nil || !mapping.HasMirror() {
		return "", false
	}
	return mapping.MirrorChannelID, true
}

func (r mapperResolver) MirrorRole(sourceRoleID string) (string, bool) {
	id, err := r.m.Role(r.ctx, sourceRoleID, r.guildID)
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

func (r mapperResolver) MirrorMessage(sourceMessageID string) (string, string, bool) {
	rec, err := r.msgs.Get(r.ctx, sourceMessageID)
	if err != nil || rec == nil || rec.MirrorMessageID == "" {
		return "", "", false
	}
	return rec.MirrorChannelID, rec.MirrorMessageID, true
}

func (r mapperResolver) MirrorGuildID() (string, bool) {
	return r.m.MirrorServerFor(r.guildID)
}

// SourceChannelName prefers the mapping table; an unknown channel falls
// back to one source-side fetch so the placeholder carries a real name.
func (r mapperResolver) SourceChannelName(sourceChannelID string) (string, bool) {
	if mapping, err := r.m.Channel(r.ctx, sourceChannelID, r.guildID); err == nil && mapping != nil && mapping.Name != "" {
		return mapping.Name, true
	}
	if r.rest != nil {
		if ch, err := r.rest.FetchThreadByID(r.ctx, sourceChannelID); err == nil && ch != nil && ch.Name != "" {
			return ch.Name, true
		}
	}
	return "", false
}

func (r mapperResolver) SourceRoleName(sourceRoleID string) (string, bool) {
	if r.roles == nil {
		return "", false
	}
	rm, err := r.roles.Get(r.ctx, sourceRoleID, r.guildID)
	if err != nil || rm == nil || rm.Name == "" {
		return "", false
	}
	return rm.Name, true
}

func displayName(u *discordgo.User) string {
	if u == nil {
		return "unknown"
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func avatarURL(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	return u.AvatarURL("")
}

// allowedMentions restricts pings to exactly the mirror roles the rewrite
// decided to keep. Everything else renders as plain text.
func allowedMentions(roleIDs []string) *discordgo.MessageAllowedMentions {
	if len(roleIDs) == 0 {
		return &discordgo.MessageAllowedMentions{}
	}
	return &discordgo.MessageAllowedMentions{Roles: roleIDs}
}
