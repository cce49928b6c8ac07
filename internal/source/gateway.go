package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
)

const gatewayURL = "wss://gateway.discord.gg/?v=9&encoding=json"

// Gateway opcodes.
const (
	opDispatch            = 0
	opHeartbeat           = 1
	opIdentify            = 2
	opResume              = 6
	opReconnect           = 7
	opRequestGuildMembers = 8
	opInvalidSession      = 9
	opHello               = 10
	opHeartbeatAck        = 11
	opGuildSubscriptions  = 14
)

type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  int64           `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type outPayload struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

// SessionCache persists the gateway handshake across restarts. Optional;
// without one every start identifies fresh.
type SessionCache interface {
	Load(ctx context.Context) (sessionID, resumeURL string, seq int64, ok bool)
	Save(ctx context.Context, sessionID, resumeURL string, seq int64)
	Clear(ctx context.Context)
}

// Gateway maintains the source-side user session socket and turns dispatch
// frames into Events. One Gateway serves one source server pair; events are
// delivered on a bounded channel so mirror-side backpressure reaches the
// socket reader instead of growing an unbounded queue.
type Gateway struct {
	token    string
	guildID  string
	events   chan Event

	// Sessions, when set, lets a restarted process resume the previous
	// session instead of identifying again. Set before Run.
	Sessions SessionCache
	dialer   *websocket.Dialer
	writeMu  sync.Mutex
	conn     *websocket.Conn
	seq      int64
	session  string
	resume   string
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewGateway creates a gateway session for one source server.
// eventBuffer bounds the in-flight dispatch queue.
func NewGateway(token, guildID string, eventBuffer int) *Gateway {
	if eventBuffer <= 0 {
		eventBuffer = 256
	}
	return &Gateway{
		token:   token,
		guildID: guildID,
		events:  make(chan Event, eventBuffer),
		dialer:  websocket.DefaultDialer,
		stopped: make(chan struct{}),
	}
}

// Events returns the bounded dispatch stream. Closed when Run returns.
func (g *Gateway) Events() <-chan Event { return g.events }

// Run connects and pumps events until ctx is cancelled. Connection drops
// reconnect with jittered backoff; the caller only sees the event stream.
func (g *Gateway) Run(ctx context.Context) {
	defer close(g.events)
	if g.Sessions != nil {
		if session, resume, seq, ok := g.Sessions.Load(ctx); ok {
			g.session, g.resume, g.seq = session, resume, seq
			slog.Info("source gateway: resuming cached session", "guild", g.guildID)
		}
	}
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		err := g.runSession(ctx)
		if g.Sessions != nil && g.session != "" {
			g.Sessions.Save(ctx, g.session, g.resume, g.seq)
		}
		if ctx.Err() != nil {
			return
		}
		slog.Warn("source gateway: session ended, reconnecting",
			"guild", g.guildID, "backoff", backoff, "error", err)
		jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
		timer := time.NewTimer(backoff + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if backoff < 60*time.Second {
			backoff *= 2
		}
	}
}

func (g *Gateway) runSession(ctx context.Context) error {
	url := gatewayURL
	if g.resume != "" {
		url = g.resume + "/?v=9&encoding=json"
	}
	conn, _, err := g.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	g.conn = conn
	defer conn.Close()

	// Hello: first frame carries the heartbeat interval.
	var hello struct {
		HeartbeatInterval int `json:"heartbeat_interval"`
	}
	p, err := g.read()
	if err != nil {
		return err
	}
	if p.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", p.Op)
	}
	if err := json.Unmarshal(p.D, &hello); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}

	if g.session != "" {
		err = g.write(outPayload{Op: opResume, D: map[string]any{
			"token":      g.token,
			"session_id": g.session,
			"seq":        g.seq,
		}})
	} else {
		err = g.write(outPayload{Op: opIdentify, D: map[string]any{
			"token": g.token,
			"properties": map[string]string{
				"os":      "linux",
				"browser": "chrome",
				"device":  "",
			},
		}})
	}
	if err != nil {
		return err
	}

	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	go g.heartbeatLoop(hbCtx, time.Duration(hello.HeartbeatInterval)*time.Millisecond)

	// Close the socket when ctx cancels so the blocking read returns.
	go func() {
		<-hbCtx.Done()
		conn.Close()
	}()

	for {
		p, err := g.read()
		if err != nil {
			return err
		}
		switch p.Op {
		case opDispatch:
			if p.S > g.seq {
				g.seq = p.S
			}
			g.dispatch(ctx, p)
		case opHeartbeat:
			_ = g.write(outPayload{Op: opHeartbeat, D: g.seq})
		case opReconnect:
			return fmt.Errorf("server requested reconnect")
		case opInvalidSession:
			g.session = ""
			g.resume = ""
			if g.Sessions != nil {
				g.Sessions.Clear(ctx)
			}
			return fmt.Errorf("invalid session")
		case opHeartbeatAck:
			// nothing to do
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, p payload) {
	var ev Event
	switch p.T {
	case "READY":
		var ready struct {
			SessionID        string `json:"session_id"`
			ResumeGatewayURL string `json:"resume_gateway_url"`
		}
		if err := json.Unmarshal(p.D, &ready); err == nil {
			g.session = ready.SessionID
			g.resume = ready.ResumeGatewayURL
			if g.Sessions != nil {
				g.Sessions.Save(ctx, g.session, g.resume, g.seq)
			}
		}
		slog.Info("source gateway: ready", "guild", g.guildID)
		return
	case "MESSAGE_CREATE":
		var m discordgo.Message
		if json.Unmarshal(p.D, &m) != nil || m.GuildID != g.guildID {
			return
		}
		ev = MessageCreated{Message: &m}
	case "MESSAGE_UPDATE":
		var m discordgo.Message
		if json.Unmarshal(p.D, &m) != nil || m.GuildID != g.guildID {
			return
		}
		ev = MessageUpdated{Message: &m}
	case "MESSAGE_DELETE":
		var d struct {
			ID        string `json:"id"`
			ChannelID string `json:"channel_id"`
			GuildID   string `json:"guild_id"`
		}
		if json.Unmarshal(p.D, &d) != nil || d.GuildID != g.guildID {
			return
		}
		ev = MessageDeleted{ChannelID: d.ChannelID, MessageID: d.ID, GuildID: d.GuildID}
	case "MESSAGE_REACTION_ADD":
		var r struct {
			UserID    string         `json:"user_id"`
			ChannelID string         `json:"channel_id"`
			MessageID string         `json:"message_id"`
			GuildID   string         `json:"guild_id"`
			Emoji     discordgo.Emoji `json:"emoji"`
		}
		if json.Unmarshal(p.D, &r) != nil || r.GuildID != g.guildID {
			return
		}
		ev = ReactionAdded{ChannelID: r.ChannelID, MessageID: r.MessageID, GuildID: r.GuildID, UserID: r.UserID, Emoji: r.Emoji}
	case "THREAD_CREATE":
		var ch discordgo.Channel
		if json.Unmarshal(p.D, &ch) != nil || ch.GuildID != g.guildID {
			return
		}
		ev = ThreadCreated{Channel: &ch}
	case "CHANNEL_CREATE":
		var ch discordgo.Channel
		if json.Unmarshal(p.D, &ch) != nil || ch.GuildID != g.guildID {
			return
		}
		ev = ChannelCreated{Channel: &ch}
	case "GUILD_MEMBER_LIST_UPDATE":
		var list struct {
			GuildID string `json:"guild_id"`
			Ops     []struct {
				Op    string `json:"op"`
				Items []struct {
					Member *discordgo.Member `json:"member"`
				} `json:"items"`
			} `json:"ops"`
		}
		if json.Unmarshal(p.D, &list) != nil || list.GuildID != g.guildID {
			return
		}
		var members []*discordgo.Member
		for _, op := range list.Ops {
			if op.Op != "SYNC" && op.Op != "UPDATE" {
				continue
			}
			for _, item := range op.Items {
				if item.Member != nil {
					members = append(members, item.Member)
				}
			}
		}
		if len(members) == 0 {
			return
		}
		ev = MembersChunk{GuildID: list.GuildID, Members: members, Nonce: "lazylist"}
	case "GUILD_MEMBERS_CHUNK":
		var chunk struct {
			GuildID    string              `json:"guild_id"`
			Members    []*discordgo.Member `json:"members"`
			ChunkIndex int                 `json:"chunk_index"`
			ChunkCount int                 `json:"chunk_count"`
			Nonce      string              `json:"nonce"`
		}
		if json.Unmarshal(p.D, &chunk) != nil || chunk.GuildID != g.guildID {
			return
		}
		ev = MembersChunk{GuildID: chunk.GuildID, Members: chunk.Members, ChunkIndex: chunk.ChunkIndex, ChunkCount: chunk.ChunkCount, Nonce: chunk.Nonce}
	default:
		return
	}

	// Blocking send: pipeline backpressure stalls the socket reader here.
	select {
	case g.events <- ev:
	case <-ctx.Done():
	}
}

func (g *Gateway) heartbeatLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 41250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.write(outPayload{Op: opHeartbeat, D: g.seq}); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) read() (payload, error) {
	var p payload
	_, data, err := g.conn.ReadMessage()
	if err != nil {
		return p, fmt.Errorf("gateway read: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("gateway decode: %w", err)
	}
	return p, nil
}

func (g *Gateway) write(p outPayload) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	if g.conn == nil {
		return fmt.Errorf("gateway not connected")
	}
	if err := g.conn.WriteJSON(p); err != nil {
		return fmt.Errorf("gateway write: %w", err)
	}
	return nil
}

// RequestGuildMembers issues the bulk member fetch opcode. Responses arrive
// as MembersChunk events tagged with the given nonce.
func (g *Gateway) RequestGuildMembers(query string, limit int, nonce string) error {
	return g.write(outPayload{Op: opRequestGuildMembers, D: map[string]any{
		"guild_id": g.guildID,
		"query":    query,
		"limit":    limit,
		"nonce":    nonce,
	}})
}

// SubscribeMemberList scrolls the lazy member list for one channel by
// requesting successive index ranges.
func (g *Gateway) SubscribeMemberList(channelID string, ranges [][2]int) error {
	return g.write(outPayload{Op: opGuildSubscriptions, D: map[string]any{
		"guild_id": g.guildID,
		"channels": map[string][][2]int{channelID: ranges},
	}})
}
