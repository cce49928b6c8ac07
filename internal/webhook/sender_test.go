package webhook

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

func restErr(status, code int) error {
	e := &discordgo.RESTError{
		Response: &http.Response{StatusCode: status},
	}
	if code != 0 {
		e.Message = &discordgo.APIErrorMessage{Code: code}
	}
	return e
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failureClass
	}{
		{"rate limit error", &discordgo.RateLimitError{}, failRateLimited},
		{"429 status", restErr(http.StatusTooManyRequests, 0), failRateLimited},
		{"unknown webhook", restErr(http.StatusNotFound, jsonCodeUnknownWebhook), failUnknownWebhook},
		{"invalid form body", restErr(http.StatusBadRequest, jsonCodeInvalidFormBody), failInvalidBody},
		{"server error", restErr(http.StatusBadGateway, 0), failTransient},
		{"forbidden", restErr(http.StatusForbidden, 0), failFatal},
		{"plain network error", errors.New("connection reset"), failTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRateLimitDelay(t *testing.T) {
	err := &discordgo.RateLimitError{
		RateLimit: &discordgo.RateLimit{
			TooManyRequests: &discordgo.TooManyRequests{RetryAfter: 2 * time.Second},
		},
	}
	if d := rateLimitDelay(err); d != 2*time.Second {
		t.Errorf("delay = %v, want 2s", d)
	}
	if d := rateLimitDelay(errors.New("other")); d != 5*time.Second {
		t.Errorf("fallback delay = %v, want 5s", d)
	}
}

func TestEnsureNonEmpty(t *testing.T) {
	p := &discordgo.WebhookParams{}
	ensureNonEmpty(p)
	if p.Content == "" {
		t.Error("empty payload not padded")
	}

	p = &discordgo.WebhookParams{Content: "hi"}
	ensureNonEmpty(p)
	if p.Content != "hi" {
		t.Error("non-empty content modified")
	}

	p = &discordgo.WebhookParams{Embeds: []*discordgo.MessageEmbed{{}}}
	ensureNonEmpty(p)
	if p.Content != "" {
		t.Error("embed-only payload padded unnecessarily")
	}
}

func TestSanitize(t *testing.T) {
	p := &discordgo.WebhookParams{
		Content: strings.Repeat("x", 3000),
		Embeds:  []*discordgo.MessageEmbed{{Title: "bad"}},
	}
	sanitize(p)
	if p.Embeds != nil {
		t.Error("embeds survived sanitize")
	}
	if len(p.Content) > 2000 {
		t.Errorf("content length %d after sanitize", len(p.Content))
	}
}

func TestEndpointValid(t *testing.T) {
	if (Endpoint{}).Valid() {
		t.Error("zero endpoint valid")
	}
	if (Endpoint{ID: "a"}).Valid() {
		t.Error("tokenless endpoint valid")
	}
	if !(Endpoint{ID: "a", Token: "b"}).Valid() {
		t.Error("complete endpoint invalid")
	}
}
