package security

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestFilterRolePermissions(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want int64
	}{
		{"zero stays zero", 0, 0},
		{"admin collapses to minimal", discordgo.PermissionAdministrator, minimalSafe},
		{
			"admin plus everything still collapses",
			discordgo.PermissionAdministrator | discordgo.PermissionBanMembers | discordgo.PermissionManageWebhooks,
			minimalSafe,
		},
		{
			"dangerous bits stripped",
			discordgo.PermissionBanMembers | discordgo.PermissionKickMembers | discordgo.PermissionManageChannels |
				discordgo.PermissionManageWebhooks | discordgo.PermissionMentionEveryone,
			0,
		},
		{
			"safe bits survive",
			discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionAddReactions,
			discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionAddReactions,
		},
		{
			"mixed keeps only safe",
			discordgo.PermissionSendMessages | discordgo.PermissionManageRoles,
			discordgo.PermissionSendMessages,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FilterRolePermissions(tt.in); got != tt.want {
				t.Errorf("FilterRolePermissions(%#x) = %#x, want %#x", tt.in, got, tt.want)
			}
		})
	}
}

func TestFilterRolePermissions_AlwaysSafe(t *testing.T) {
	// Whatever goes in, what comes out must stay inside the allow-list.
	inputs := []int64{
		0,
		^int64(0) &^ discordgo.PermissionAdministrator,
		discordgo.PermissionAdministrator,
		discordgo.PermissionManageServer | discordgo.PermissionManageRoles,
		discordgo.PermissionMentionEveryone | discordgo.PermissionSendMessages,
	}
	for _, in := range inputs {
		if out := FilterRolePermissions(in); !Safe(out) {
			t.Errorf("FilterRolePermissions(%#x) = %#x escapes the allow-list", in, out)
		}
	}
}

func TestMemberRolePermissions_Safe(t *testing.T) {
	if !Safe(MemberRolePermissions()) {
		t.Error("members role bits escape the allow-list")
	}
}

func TestSafe(t *testing.T) {
	if !Safe(0) {
		t.Error("zero not safe")
	}
	if Safe(discordgo.PermissionBanMembers) {
		t.Error("ban considered safe")
	}
	if !Safe(minimalSafe) {
		t.Error("minimal set considered unsafe")
	}
}
