package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

func TestEmbedBuffer_OfferDeliversToWaiter(t *testing.T) {
	b := newEmbedBuffer()
	embeds := []*discordgo.MessageEmbed{{Title: "unfurl"}}

	done := make(chan []*discordgo.MessageEmbed)
	go func() {
		done <- b.wait(context.Background(), "m1")
	}()

	// Give the waiter time to register.
	deadline := time.After(2 * time.Second)
	for {
		if b.offer("m1", embeds) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("offer never found the waiter")
		case <-time.After(5 * time.Millisecond):
		}
	}

	got := <-done
	if len(got) != 1 || got[0].Title != "unfurl" {
		t.Errorf("waiter got %v", got)
	}
}

func TestEmbedBuffer_OfferWithoutWaiter(t *testing.T) {
	b := newEmbedBuffer()
	if b.offer("nobody", []*discordgo.MessageEmbed{{}}) {
		t.Error("offer absorbed an update with no waiter")
	}
}

func TestEmbedBuffer_OfferEmptyEmbeds(t *testing.T) {
	b := newEmbedBuffer()
	if b.offer("m1", nil) {
		t.Error("offer absorbed an update with no embeds")
	}
}

func TestEmbedBuffer_WaitHonorsContext(t *testing.T) {
	b := newEmbedBuffer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	got := b.wait(ctx, "m1")
	if got != nil {
		t.Errorf("wait returned embeds on cancelled context: %v", got)
	}
	if time.Since(start) > time.Second {
		t.Error("wait ignored context cancellation")
	}
}

func TestHasLink(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"no link here", false},
		{"see https://example.com", true},
		{"see http://example.com", true},
		{"httpsish text", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := hasLink(tt.in); got != tt.want {
			t.Errorf("hasLink(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
