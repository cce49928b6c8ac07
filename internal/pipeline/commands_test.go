package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

func TestCommandTracker_ByInteractionID(t *testing.T) {
	tr := newCommandTracker(commandPendingTTL)
	now := time.Now()

	tr.observe(&discordgo.Message{
		ChannelID: "c1",
		Timestamp: now,
		Interaction: &discordgo.MessageInteraction{
			ID:   "int-1",
			Name: "ban",
			User: &discordgo.User{ID: "u1", Username: "mod"},
		},
	})

	response := &discordgo.Message{
		ChannelID:   "c1",
		Timestamp:   now,
		Author:      &discordgo.User{ID: "bot", Bot: true},
		Interaction: &discordgo.MessageInteraction{ID: "int-1"},
	}
	cmd, ok := tr.lookup(response)
	if !ok || cmd != "ban" {
		t.Errorf("lookup = %q, %v; want ban", cmd, ok)
	}
}

func TestCommandTracker_ByTimeBucket(t *testing.T) {
	tr := newCommandTracker(commandPendingTTL)
	now := time.Now()

	tr.observe(&discordgo.Message{
		ChannelID: "c1",
		Timestamp: now,
		Interaction: &discordgo.MessageInteraction{
			ID:   "int-2",
			Name: "play",
			User: &discordgo.User{ID: "dj"},
		},
	})

	// Bot response in the same channel and bucket, no interaction field.
	response := &discordgo.Message{
		ChannelID: "c1",
		Timestamp: now,
		Author:    &discordgo.User{ID: "dj", Bot: true},
	}
	cmd, ok := tr.lookup(response)
	if !ok || cmd != "play" {
		t.Errorf("lookup = %q, %v; want play", cmd, ok)
	}
}

func TestCommandTracker_UnknownResponse(t *testing.T) {
	tr := newCommandTracker(commandPendingTTL)
	if cmd, ok := tr.lookup(&discordgo.Message{
		ChannelID: "c9",
		Timestamp: time.Now(),
		Author:    &discordgo.User{ID: "bot", Bot: true},
	}); ok {
		t.Errorf("lookup invented command %q", cmd)
	}
}

func TestCommandTracker_PendingExpires(t *testing.T) {
	if commandPendingTTL != time.Minute {
		t.Fatalf("pending TTL = %v, want 1m", commandPendingTTL)
	}

	tr := newCommandTracker(20 * time.Millisecond)
	now := time.Now()
	tr.observe(&discordgo.Message{
		ChannelID: "c1",
		Timestamp: now,
		Interaction: &discordgo.MessageInteraction{
			ID:   "int-3",
			Name: "mute",
			User: &discordgo.User{ID: "u1"},
		},
	})
	time.Sleep(40 * time.Millisecond)

	if cmd, ok := tr.lookup(&discordgo.Message{
		ChannelID:   "c1",
		Timestamp:   now,
		Author:      &discordgo.User{ID: "bot", Bot: true},
		Interaction: &discordgo.MessageInteraction{ID: "int-3"},
	}); ok {
		t.Errorf("expired association still resolved to %q", cmd)
	}
}

func TestCommandHeader(t *testing.T) {
	msg := &discordgo.Message{
		Interaction: &discordgo.MessageInteraction{
			Name: "roll",
			User: &discordgo.User{Username: "gambler"},
		},
	}
	h := commandHeader(msg, "roll")
	if !strings.Contains(h, "@gambler") || !strings.Contains(h, "/roll") {
		t.Errorf("header = %q", h)
	}
	if !strings.HasSuffix(h, "\n") {
		t.Error("header missing trailing newline")
	}
}
