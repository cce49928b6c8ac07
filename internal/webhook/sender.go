// Package webhook owns the impersonation endpoints on mirror channels: one
// webhook per channel, created lazily, cached for the process lifetime and
// reused across messages. Delivery retries walk a fixed ladder; provider
// rate limits wait out the server-supplied delay without spending a try.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/WaRyXx06/astro-relay/internal/ratelimit"
)

const endpointName = "relay"

// retryLadder is the delay before attempt 2, 3 and 4.
var retryLadder = [...]time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// jsonCodeInvalidFormBody is the provider error for payloads it refuses to
// parse. One sanitized reattempt is allowed; a second failure is final.
const jsonCodeInvalidFormBody = 50035

// jsonCodeUnknownWebhook means the cached endpoint was deleted out from
// under us; drop it and recreate.
const jsonCodeUnknownWebhook = 10015

// emptyPlaceholder is sent when a payload ends up with no content, embeds
// or files (e.g. sticker-only source messages).
const emptyPlaceholder = "​"

// Endpoint is a webhook handle: the pair needed to execute or edit.
type Endpoint struct {
	ID    string
	Token string
}

// Valid reports whether the handle is usable.
func (e Endpoint) Valid() bool { return e.ID != "" && e.Token != "" }

// Sender executes webhook deliveries against mirror channels.
type Sender struct {
	session *discordgo.Session
	limiter *ratelimit.Limiter

	mu    sync.Mutex
	cache map[string]Endpoint // mirror channel id -> endpoint
}

// NewSender wraps the bot session used for webhook management and delivery.
func NewSender(session *discordgo.Session, limiter *ratelimit.Limiter) *Sender {
	return &Sender{
		session: session,
		limiter: limiter,
		cache:   make(map[string]Endpoint),
	}
}

// EndpointFor returns the impersonation endpoint for a mirror channel,
// reusing an existing webhook on the channel before creating one.
func (s *Sender) EndpointFor(ctx context.Context, mirrorChannelID string) (Endpoint, error) {
	s.mu.Lock()
	ep, ok := s.cache[mirrorChannelID]
	s.mu.Unlock()
	if ok {
		return ep, nil
	}

	if err := s.limiter.WaitForRequest(ctx, mirrorChannelID); err != nil {
		return Endpoint{}, err
	}
	hooks, err := s.session.ChannelWebhooks(mirrorChannelID)
	s.limiter.RecordRequest(mirrorChannelID)
	if err == nil {
		for _, h := range hooks {
			if h.Token != "" {
				ep = Endpoint{ID: h.ID, Token: h.Token}
				break
			}
		}
	}
	if !ep.Valid() {
		if err := s.limiter.WaitForRequest(ctx, mirrorChannelID); err != nil {
			return Endpoint{}, err
		}
		hook, err := s.session.WebhookCreate(mirrorChannelID, endpointName, "")
		s.limiter.RecordRequest(mirrorChannelID)
		if err != nil {
			return Endpoint{}, fmt.Errorf("create webhook on %s: %w", mirrorChannelID, err)
		}
		ep = Endpoint{ID: hook.ID, Token: hook.Token}
	}

	s.mu.Lock()
	s.cache[mirrorChannelID] = ep
	s.mu.Unlock()
	return ep, nil
}

// Forget drops a cached endpoint (after mirror-side channel deletion).
func (s *Sender) Forget(mirrorChannelID string) {
	s.mu.Lock()
	delete(s.cache, mirrorChannelID)
	s.mu.Unlock()
}

// Seed primes the cache with a known-good endpoint (from a processed
// message record), skipping the lookup round-trip.
func (s *Sender) Seed(mirrorChannelID string, ep Endpoint) {
	if !ep.Valid() {
		return
	}
	s.mu.Lock()
	s.cache[mirrorChannelID] = ep
	s.mu.Unlock()
}

// Send delivers a payload through the channel's endpoint. threadID targets
// a thread under the channel; empty posts to the channel itself. Returns
// the created mirror message and the endpoint used, so callers can persist
// the handle alongside the message record.
func (s *Sender) Send(ctx context.Context, mirrorChannelID, threadID string, params *discordgo.WebhookParams) (*discordgo.Message, Endpoint, error) {
	ep, err := s.EndpointFor(ctx, mirrorChannelID)
	if err != nil {
		return nil, Endpoint{}, err
	}
	ensureNonEmpty(params)

	sanitized := false
	var lastErr error
	for attempt := 0; attempt <= len(retryLadder); attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, retryLadder[attempt-1]); err != nil {
				return nil, ep, err
			}
		}
		if err := s.limiter.WaitForRequest(ctx, mirrorChannelID); err != nil {
			return nil, ep, err
		}
		var msg *discordgo.Message
		if threadID != "" {
			msg, err = s.session.WebhookThreadExecute(ep.ID, ep.Token, true, threadID, params)
		} else {
			msg, err = s.session.WebhookExecute(ep.ID, ep.Token, true, params)
		}
		s.limiter.RecordRequest(mirrorChannelID)
		if err == nil {
			return msg, ep, nil
		}
		lastErr = err

		switch classify(err) {
		case failRateLimited:
			if err := sleepCtx(ctx, rateLimitDelay(err)); err != nil {
				return nil, ep, err
			}
			attempt-- // server-paced, not a failure
		case failUnknownWebhook:
			s.Forget(mirrorChannelID)
			ep, err = s.EndpointFor(ctx, mirrorChannelID)
			if err != nil {
				return nil, Endpoint{}, err
			}
		case failInvalidBody:
			if sanitized {
				return nil, ep, fmt.Errorf("deliver to %s: rejected after sanitize: %w", mirrorChannelID, lastErr)
			}
			sanitize(params)
			sanitized = true
		case failTransient:
			// ladder delay applies on the next loop turn
		case failFatal:
			return nil, ep, fmt.Errorf("deliver to %s: %w", mirrorChannelID, lastErr)
		}
	}
	return nil, ep, fmt.Errorf("deliver to %s: attempts exhausted: %w", mirrorChannelID, lastErr)
}

// Edit rewrites a previously delivered webhook message in place.
func (s *Sender) Edit(ctx context.Context, ep Endpoint, mirrorChannelID, messageID string, edit *discordgo.WebhookEdit) error {
	if !ep.Valid() {
		return errors.New("webhook: edit without endpoint")
	}
	var lastErr error
	for attempt := 0; attempt <= len(retryLadder); attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, retryLadder[attempt-1]); err != nil {
				return err
			}
		}
		if err := s.limiter.WaitForRequest(ctx, mirrorChannelID); err != nil {
			return err
		}
		_, err := s.session.WebhookMessageEdit(ep.ID, ep.Token, messageID, edit)
		s.limiter.RecordRequest(mirrorChannelID)
		if err == nil {
			return nil
		}
		lastErr = err
		switch classify(err) {
		case failRateLimited:
			if err := sleepCtx(ctx, rateLimitDelay(err)); err != nil {
				return err
			}
			attempt--
		case failTransient:
		default:
			return fmt.Errorf("edit message %s: %w", messageID, lastErr)
		}
	}
	return fmt.Errorf("edit message %s: attempts exhausted: %w", messageID, lastErr)
}

// Delete removes a previously delivered webhook message.
func (s *Sender) Delete(ctx context.Context, ep Endpoint, mirrorChannelID, messageID string) error {
	if !ep.Valid() {
		return errors.New("webhook: delete without endpoint")
	}
	if err := s.limiter.WaitForRequest(ctx, mirrorChannelID); err != nil {
		return err
	}
	err := s.session.WebhookMessageDelete(ep.ID, ep.Token, messageID)
	s.limiter.RecordRequest(mirrorChannelID)
	if err != nil && classify(err) != failUnknownWebhook {
		var rest *discordgo.RESTError
		if errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound {
			return nil // already gone
		}
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return nil
}

type failureClass int

const (
	failTransient failureClass = iota
	failRateLimited
	failUnknownWebhook
	failInvalidBody
	failFatal
)

func classify(err error) failureClass {
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		return failRateLimited
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		if rest.Message != nil {
			switch rest.Message.Code {
			case jsonCodeUnknownWebhook:
				return failUnknownWebhook
			case jsonCodeInvalidFormBody:
				return failInvalidBody
			}
		}
		if rest.Response != nil {
			switch {
			case rest.Response.StatusCode == http.StatusTooManyRequests:
				return failRateLimited
			case rest.Response.StatusCode >= 500:
				return failTransient
			}
		}
		return failFatal
	}
	// Plain network errors retry on the ladder.
	return failTransient
}

func rateLimitDelay(err error) time.Duration {
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}
	return 5 * time.Second
}

// sanitize strips the parts the provider most often rejects: embeds and
// over-length content. Used for exactly one reattempt.
func sanitize(params *discordgo.WebhookParams) {
	params.Embeds = nil
	if len(params.Content) > 2000 {
		params.Content = params.Content[:2000]
	}
	ensureNonEmpty(params)
	slog.Debug("webhook: payload sanitized for reattempt")
}

func ensureNonEmpty(params *discordgo.WebhookParams) {
	if params.Content == "" && len(params.Embeds) == 0 && len(params.Files) == 0 {
		params.Content = emptyPlaceholder
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
