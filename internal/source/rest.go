package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	apiBase        = "https://discord.com/api/v9"
	restTimeout    = 30 * time.Second
	restMaxRetries = 3
)

// RESTClient issues read-only calls against the provider with the user
// session token. 429s honor the server-supplied delay and do not count
// against the retry budget; 5xx and network errors back off exponentially.
type RESTClient struct {
	token string
	http  *http.Client
}

// NewRESTClient creates a client for the given user token.
func NewRESTClient(token string) *RESTClient {
	return &RESTClient{
		token: token,
		http:  &http.Client{Timeout: restTimeout},
	}
}

func (c *RESTClient) get(ctx context.Context, path string, out any) error {
	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt < restMaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase+path, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request %s: %w", path, err)
			continue
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("read %s: %w", path, readErr)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode %s: %w", path, err)
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			// Honor retry_after without spending an attempt.
			delay := retryAfter(body, resp.Header)
			slog.Debug("source rest: rate limited", "path", path, "retry_after", delay)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			attempt--
			continue
		case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound:
			return &StatusError{Status: resp.StatusCode, Path: path, Body: string(body)}
		case resp.StatusCode >= 500:
			lastErr = &StatusError{Status: resp.StatusCode, Path: path, Body: string(body)}
			continue
		default:
			return &StatusError{Status: resp.StatusCode, Path: path, Body: string(body)}
		}
	}
	return lastErr
}

func retryAfter(body []byte, hdr http.Header) time.Duration {
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.RetryAfter > 0 {
		return time.Duration(payload.RetryAfter * float64(time.Second))
	}
	if v := hdr.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 5 * time.Second
}

// FetchGuildChannels returns every channel of a source server.
func (c *RESTClient) FetchGuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	var channels []*discordgo.Channel
	if err := c.get(ctx, "/guilds/"+guildID+"/channels", &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

// FetchGuildRoles returns every role of a source server.
func (c *RESTClient) FetchGuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	var roles []*discordgo.Role
	if err := c.get(ctx, "/guilds/"+guildID+"/roles", &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// FetchGuildMemberCount returns the approximate member count from the guild
// preview endpoint.
func (c *RESTClient) FetchGuildMemberCount(ctx context.Context, guildID string) (int, error) {
	var preview struct {
		ApproximateMemberCount int `json:"approximate_member_count"`
	}
	if err := c.get(ctx, "/guilds/"+guildID+"/preview", &preview); err != nil {
		return 0, err
	}
	return preview.ApproximateMemberCount, nil
}

// SearchGuildMembers queries the member search endpoint with a name prefix.
// This backs the detector's alphabetic brute-force pass.
func (c *RESTClient) SearchGuildMembers(ctx context.Context, guildID, query string, limit int) ([]*discordgo.Member, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	var members []*discordgo.Member
	path := "/guilds/" + guildID + "/members/search?query=" + url.QueryEscape(query) + "&limit=" + strconv.Itoa(limit)
	if err := c.get(ctx, path, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// FetchThreadByID returns one channel/thread object.
func (c *RESTClient) FetchThreadByID(ctx context.Context, threadID string) (*discordgo.Channel, error) {
	var ch discordgo.Channel
	if err := c.get(ctx, "/channels/"+threadID, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// FetchChannelMessages pulls message history. before/after are optional
// message ids; limit caps at the provider's 100 per page.
func (c *RESTClient) FetchChannelMessages(ctx context.Context, channelID string, limit int, before, after string) ([]*discordgo.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if before != "" {
		q.Set("before", before)
	}
	if after != "" {
		q.Set("after", after)
	}
	var msgs []*discordgo.Message
	if err := c.get(ctx, "/channels/"+channelID+"/messages?"+q.Encode(), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// TestChannelAccess performs the cheapest possible read (one message) and
// classifies the result. A nil error means the channel is readable;
// ErrNoAccess / ErrNotFound surface through errors.Is.
func (c *RESTClient) TestChannelAccess(ctx context.Context, channelID string) error {
	var msgs []*discordgo.Message
	return c.get(ctx, "/channels/"+channelID+"/messages?limit=1", &msgs)
}
