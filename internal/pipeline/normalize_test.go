package pipeline

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
)

type fakeResolver struct {
	channels     map[string]string
	roles        map[string]string
	messages     map[string][2]string // source message id -> mirror channel, message
	channelNames map[string]string
	roleNames    map[string]string
	guild        string
}

func (f fakeResolver) MirrorChannel(id string) (string, bool) {
	v, ok := f.channels[id]
	return v, ok
}

func (f fakeResolver) MirrorRole(id string) (string, bool) {
	v, ok := f.roles[id]
	return v, ok
}

func (f fakeResolver) MirrorMessage(id string) (string, string, bool) {
	v, ok := f.messages[id]
	return v[0], v[1], ok
}

func (f fakeResolver) MirrorGuildID() (string, bool) {
	return f.guild, f.guild != ""
}

func (f fakeResolver) SourceChannelName(id string) (string, bool) {
	v, ok := f.channelNames[id]
	return v, ok
}

func (f fakeResolver) SourceRoleName(id string) (string, bool) {
	v, ok := f.roleNames[id]
	return v, ok
}

func TestRewrite_ChannelMentions(t *testing.T) {
	r := fakeResolver{
		channels:     map[string]string{"111": "911"},
		channelNames: map[string]string{"222": "updates"},
	}

	tests := []struct {
		name        string
		in          string
		want        string
		wantPending []string
	}{
		{"mapped", "see <#111> now", "see <#911> now", nil},
		{"unmapped renders bolded name", "see <#222>", "see **#updates**", []string{"222"}},
		{"mixed", "<#111> and <#222>", "<#911> and **#updates**", []string{"222"}},
		{"unmapped without a name", "see <#333>", "see **#channel**", []string{"333"}},
		{"no mentions", "plain text", "plain text", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Rewrite(tt.in, &discordgo.Message{}, r, true)
			if res.Content != tt.want {
				t.Errorf("content = %q, want %q", res.Content, tt.want)
			}
			if strings.Contains(res.Content, "<#2") || strings.Contains(res.Content, "<#3") {
				t.Errorf("raw source mention leaked: %q", res.Content)
			}
			if len(res.PendingChannels) != len(tt.wantPending) {
				t.Fatalf("pending = %v, want %v", res.PendingChannels, tt.wantPending)
			}
			for i, id := range tt.wantPending {
				if res.PendingChannels[i].SourceID != id {
					t.Errorf("pending[%d] = %q, want %q", i, res.PendingChannels[i].SourceID, id)
				}
				if !strings.Contains(res.Content, res.PendingChannels[i].Placeholder) {
					t.Errorf("placeholder %q missing from content %q", res.PendingChannels[i].Placeholder, res.Content)
				}
			}
		})
	}
}

func TestRewrite_RoleMentions(t *testing.T) {
	r := fakeResolver{
		roles:     map[string]string{"555": "955"},
		roleNames: map[string]string{"555": "mods", "777": "raiders"},
	}

	t.Run("mapped with pings allowed", func(t *testing.T) {
		res := Rewrite("hey <@&555>", &discordgo.Message{}, r, true)
		if res.Content != "hey <@&955>" {
			t.Errorf("content = %q", res.Content)
		}
		if len(res.MentionedRoles) != 1 || res.MentionedRoles[0] != "955" {
			t.Errorf("mentioned roles = %v", res.MentionedRoles)
		}
	})
	t.Run("mapped with pings suppressed", func(t *testing.T) {
		res := Rewrite("hey <@&555>", &discordgo.Message{}, r, false)
		if res.Content != "hey **@mods**" {
			t.Errorf("content = %q", res.Content)
		}
		if len(res.MentionedRoles) != 0 {
			t.Errorf("mentioned roles = %v, want none", res.MentionedRoles)
		}
	})
	t.Run("unmapped flattens to bolded name", func(t *testing.T) {
		res := Rewrite("hey <@&777>", &discordgo.Message{}, r, true)
		if res.Content != "hey **@raiders**" {
			t.Errorf("content = %q", res.Content)
		}
	})
	t.Run("unmapped without a name", func(t *testing.T) {
		res := Rewrite("hey <@&888>", &discordgo.Message{}, r, true)
		if res.Content != "hey **@role**" {
			t.Errorf("content = %q", res.Content)
		}
	})
}

func TestRewrite_UserMentionsFlatten(t *testing.T) {
	msg := &discordgo.Message{
		Mentions: []*discordgo.User{{ID: "42", Username: "alice"}},
	}
	res := Rewrite("hi <@42> and <@!42> and <@99>", msg, fakeResolver{}, true)
	if res.Content != "hi **@alice** and **@alice** and **@user**" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestRewrite_MessageLinks(t *testing.T) {
	r := fakeResolver{
		guild:    "900",
		channels: map[string]string{"111": "911"},
		messages: map[string][2]string{"333": {"911", "933"}},
	}
	msg := &discordgo.Message{GuildID: "100"}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"known message link",
			"see https://discord.com/channels/100/111/333",
			"see https://discord.com/channels/900/911/933",
		},
		{
			"channel link without message",
			"see https://discord.com/channels/100/111",
			"see https://discord.com/channels/900/911",
		},
		{
			"unknown message left alone",
			"see https://discord.com/channels/100/111/444",
			"see https://discord.com/channels/100/111/444",
		},
		{
			"foreign server left alone",
			"see https://discord.com/channels/200/111/333",
			"see https://discord.com/channels/200/111/333",
		},
		{
			"canary host",
			"https://canary.discord.com/channels/100/111/333",
			"https://discord.com/channels/900/911/933",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Rewrite(tt.in, msg, r, true)
			if res.Content != tt.want {
				t.Errorf("content = %q, want %q", res.Content, tt.want)
			}
		})
	}
}

func TestRewrite_DefusesMassMentions(t *testing.T) {
	res := Rewrite("@everyone @here", &discordgo.Message{}, fakeResolver{}, true)
	if res.Content == "@everyone @here" {
		t.Error("mass mentions left live")
	}
	if !strings.Contains(res.Content, "everyone") || !strings.Contains(res.Content, "here") {
		t.Errorf("mass mention text lost: %q", res.Content)
	}
}

func TestClampContent(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantLen int
		clamped bool
	}{
		{"empty", "", 0, false},
		{"exactly at limit", strings.Repeat("a", 2000), 2000, false},
		{"one over", strings.Repeat("a", 2001), 0, true},
		{"far over", strings.Repeat("a", 5000), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampContent(tt.in)
			if !tt.clamped {
				if got != tt.in {
					t.Errorf("unexpectedly modified: len %d", len(got))
				}
				return
			}
			if n := len([]rune(got)); n > 2000 {
				t.Errorf("clamped length %d > 2000", n)
			}
			if !strings.HasSuffix(got, "…") {
				t.Error("clamped content missing ellipsis")
			}
		})
	}
}

func TestClampContent_RuneSafe(t *testing.T) {
	in := strings.Repeat("é", 2500)
	got := ClampContent(in)
	if n := len([]rune(got)); n > 2000 {
		t.Errorf("rune length %d > 2000", n)
	}
	if strings.ContainsRune(got, '�') {
		t.Error("clamp split a rune")
	}
}

func TestTrimEmbeds(t *testing.T) {
	big := func(n int) *discordgo.MessageEmbed {
		return &discordgo.MessageEmbed{Description: strings.Repeat("x", n)}
	}
	tests := []struct {
		name string
		in   []*discordgo.MessageEmbed
		want int
	}{
		{"nil", nil, 0},
		{"both under the limit", []*discordgo.MessageEmbed{big(3000), big(2999)}, 2},
		{"each exactly at the limit", []*discordgo.MessageEmbed{big(6000), big(6000)}, 2},
		{"oversize embed dropped, later one ships", []*discordgo.MessageEmbed{big(6001), big(100)}, 1},
		{"single oversized", []*discordgo.MessageEmbed{big(6001)}, 0},
		{"count capped at ten", manyEmbeds(12, 10), 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(TrimEmbeds(tt.in)); got != tt.want {
				t.Errorf("kept %d embeds, want %d", got, tt.want)
			}
		})
	}
}

func manyEmbeds(n, size int) []*discordgo.MessageEmbed {
	out := make([]*discordgo.MessageEmbed, n)
	for i := range out {
		out[i] = &discordgo.MessageEmbed{Description: strings.Repeat("y", size)}
	}
	return out
}

func TestEmbedTextLen_CountsAllFields(t *testing.T) {
	e := &discordgo.MessageEmbed{
		Title:       "12345",
		Description: "1234567890",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "abc", Value: "defg"},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "xy"},
		Author: &discordgo.MessageEmbedAuthor{Name: "z"},
	}
	if got := embedTextLen(e); got != 25 {
		t.Errorf("embedTextLen = %d, want 25", got)
	}
}
