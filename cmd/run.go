package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/WaRyXx06/astro-relay/internal/activity"
	"github.com/WaRyXx06/astro-relay/internal/config"
	"github.com/WaRyXx06/astro-relay/internal/janitor"
	"github.com/WaRyXx06/astro-relay/internal/logship"
	"github.com/WaRyXx06/astro-relay/internal/mapper"
	"github.com/WaRyXx06/astro-relay/internal/members"
	"github.com/WaRyXx06/astro-relay/internal/mirror"
	"github.com/WaRyXx06/astro-relay/internal/pipeline"
	"github.com/WaRyXx06/astro-relay/internal/ratelimit"
	"github.com/WaRyXx06/astro-relay/internal/recovery"
	"github.com/WaRyXx06/astro-relay/internal/source"
	"github.com/WaRyXx06/astro-relay/internal/store"
	storemongo "github.com/WaRyXx06/astro-relay/internal/store/mongo"
	"github.com/WaRyXx06/astro-relay/internal/topology"
	"github.com/WaRyXx06/astro-relay/internal/webhook"
)

const (
	shutdownGrace   = 10 * time.Second
	censusInterval  = 12 * time.Hour
	gatewayEventBuf = 256
	// activitySweep is how often the silence monitor re-checks its
	// thresholds; the thresholds themselves start at 45 minutes.
	activitySweep = time.Minute
)

func runEngine() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storemongo.Open(ctx, cfg.Database.URI, cfg.Database.Database)
	if err != nil {
		slog.Error("database unreachable", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		db.Close(closeCtx)
	}()

	stores, err := storemongo.NewStores(ctx, db)
	if err != nil {
		slog.Error("store initialization failed", "error", err)
		os.Exit(1)
	}

	client, err := mirror.New(cfg.Discord.BotToken)
	if err != nil {
		slog.Error("bot session setup failed", "error", err)
		os.Exit(1)
	}
	if err := client.Open(); err != nil {
		slog.Error("bot session connect failed", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	limiter := ratelimit.New()
	defer limiter.Stop()
	sender := webhook.NewSender(client.Session(), limiter)
	rest := source.NewRESTClient(cfg.Discord.UserToken)

	mirrorFor := make(map[string]string, len(cfg.Pairs))
	sourceFor := make(map[string]string, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		mirrorFor[p.SourceServerID] = p.MirrorServerID
		sourceFor[p.MirrorServerID] = p.SourceServerID
	}
	mp := mapper.New(stores.Channels, stores.Roles, client, mirrorFor)
	ship := logship.NewShipper(client, stores.Logs, cfg.Pairs)
	mp.OnCapWarning = ship.CapWarning
	mp.OnCapRefused = func(mirrorID string, count int64) {
		if src, ok := sourceFor[mirrorID]; ok {
			ship.Error(context.Background(), src, "channel cap reached",
				fmt.Errorf("mirror holds %d of %d channels; creation refused", count, mirror.ChannelCap))
		}
	}
	mp.OnMirrorCreated = func(serverID, name, mirrorID string) {
		ship.Newroom(context.Background(), serverID, name, mirrorID)
	}

	monitor := activity.NewMonitor(client, cfg.Pairs, activitySweep)
	rec := recovery.NewManager(rest, mp, sender, stores.Channels, client, ship)
	defer rec.Stop()

	// topo and trackers are bound after the engine exists; the hook
	// closures capture the variables, not the values.
	var topo *topology.Manager
	trackers := make(map[string]*members.Tracker, len(cfg.Pairs))

	hooks := pipeline.Hooks{
		OnThreadCreated: func(ctx context.Context, ch *discordgo.Channel) {
			topo.HandleThreadCreated(ctx, ch)
		},
		OnChannelCreated: func(ctx context.Context, ch *discordgo.Channel) {
			topo.HandleChannelCreated(ctx, ch)
		},
		OnMembersChunk: func(ctx context.Context, chunk source.MembersChunk) {
			if t, ok := trackers[chunk.GuildID]; ok {
				t.OnMembersChunk(ctx, chunk)
			}
		},
		OnAuthorSeen: func(guildID, userID, username string) {
			if t, ok := trackers[guildID]; ok {
				t.OnAuthorSeen(guildID, userID, username)
			}
		},
		OnRoleMention: func(sourceServerID, channelName, roleID, messageURL string) {
			ship.Roles(context.Background(), sourceServerID, channelName, roleID, messageURL)
		},
		OnDeliveryFailed: func(mapping *store.ChannelMapping, err error) {
			rec.Trigger(mapping)
		},
	}
	engine := pipeline.New(stores, mp, sender, rest, client, monitor, cfg, hooks)
	topo = topology.NewManager(rest, mp, client, stores, ship, engine, cfg)
	rec.Backfill = topo.Backfill
	rec.ForceSync = topo.SyncServer

	for _, pair := range cfg.Pairs {
		if err := client.EnsureSystemRoles(pair.MirrorServerID); err != nil {
			slog.Warn("system roles not ensured", "mirror", pair.MirrorServerID, "error", err)
		}
		if err := stores.Config.UpsertServerConfig(ctx, &store.ServerConfig{
			SourceServerID: pair.SourceServerID,
			MirrorServerID: pair.MirrorServerID,
			UpdatedAt:      time.Now(),
		}); err != nil {
			slog.Warn("pair config not persisted", "source", pair.SourceServerID, "error", err)
		}
		ship.AutoStart(ctx, pair.SourceServerID, "version "+Version)
	}

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { monitor.Run(runCtx); return nil })
	g.Go(func() error { topo.Run(runCtx); return nil })
	g.Go(func() error { topo.RunMonitor(runCtx); return nil })

	jan := janitor.New(stores.Channels, stores.Members, mp, ship, cfg.Pairs, cfg.Engine.InactiveThresholdDays)
	g.Go(func() error { jan.Run(runCtx); return nil })

	for _, pair := range cfg.Pairs {
		pair := pair
		gw := source.NewGateway(cfg.Discord.UserToken, pair.SourceServerID, gatewayEventBuf)
		gw.Sessions = &sessionCache{auth: stores.Auth, guildID: pair.SourceServerID}
		tracker := members.NewTracker(pair.SourceServerID, stores.Members, rest, gw, ship)
		trackers[pair.SourceServerID] = tracker

		g.Go(func() error { gw.Run(runCtx); return nil })
		g.Go(func() error { engine.Run(runCtx, gw.Events()); return nil })
		g.Go(func() error {
			tracker.Run(runCtx, censusInterval, listChannelProvider(stores.Channels, pair.SourceServerID))
			return nil
		})
	}

	slog.Info("engine running", "pairs", len(cfg.Pairs), "version", Version)
	<-ctx.Done()
	slog.Info("graceful shutdown initiated")

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("shutdown complete")
	case <-time.After(shutdownGrace):
		slog.Warn("shutdown grace period expired, exiting")
	}
}

// sessionCache adapts the auth store to the gateway's handshake cache.
// Persistence failures only cost a fresh identify, so they log at debug.
type sessionCache struct {
	auth    store.AuthCacheStore
	guildID string
}

func (c *sessionCache) Load(ctx context.Context) (string, string, int64, bool) {
	s, err := c.auth.GetSession(ctx, c.guildID)
	if err != nil || s == nil || s.SessionID == "" {
		if err != nil {
			slog.Debug("auth cache read failed", "guild", c.guildID, "error", err)
		}
		return "", "", 0, false
	}
	return s.SessionID, s.ResumeURL, s.Sequence, true
}

func (c *sessionCache) Save(_ context.Context, sessionID, resumeURL string, seq int64) {
	// Detached from the caller so a shutdown still persists the sequence.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.auth.PutSession(ctx, &store.AuthSession{
		GuildID:   c.guildID,
		SessionID: sessionID,
		ResumeURL: resumeURL,
		Sequence:  seq,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		slog.Debug("auth cache write failed", "guild", c.guildID, "error", err)
	}
}

func (c *sessionCache) Clear(ctx context.Context) {
	if err := c.auth.DeleteSession(ctx, c.guildID); err != nil {
		slog.Debug("auth cache clear failed", "guild", c.guildID, "error", err)
	}
}

// listChannelProvider picks a channel whose member sidebar the census can
// scroll: the first active non-thread mapping of the server.
func listChannelProvider(channels store.ChannelStore, serverID string) members.ListChannelProvider {
	return func(ctx context.Context) (string, error) {
		mappings, err := channels.ListScraped(ctx, serverID)
		if err != nil {
			return "", err
		}
		for _, m := range mappings {
			if !m.Kind.IsThread() && !m.Blacklisted {
				return m.SourceChannelID, nil
			}
		}
		return "", nil
	}
}
