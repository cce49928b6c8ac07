// Package security rewrites source role permission bitmaps before they are
// mirrored. A mirrored role must never carry membership management,
// moderation, channel management, webhook or mention-everyone power on the
// mirror server, whatever it held on the source.
package security

import "github.com/bwmarrin/discordgo"

// minimalSafe is what an administrator-bit role collapses to.
const minimalSafe = discordgo.PermissionViewChannel |
	discordgo.PermissionSendMessages |
	discordgo.PermissionReadMessageHistory |
	discordgo.PermissionAddReactions |
	discordgo.PermissionUseExternalEmojis |
	discordgo.PermissionAttachFiles |
	discordgo.PermissionEmbedLinks |
	discordgo.PermissionVoiceConnect |
	discordgo.PermissionVoiceSpeak |
	discordgo.PermissionVoiceUseVAD

// safeAllowList is every bit a mirrored non-admin role may keep. Everything
// else — manage roles/channels/server, kick/ban/moderate, webhooks, mention
// everyone, priority speaker, move/mute/deafen, manage threads/events, TTS —
// is zeroed unconditionally.
const safeAllowList = minimalSafe |
	discordgo.PermissionSendMessagesInThreads |
	discordgo.PermissionCreatePublicThreads |
	discordgo.PermissionUseExternalStickers |
	discordgo.PermissionChangeNickname |
	discordgo.PermissionVoiceStreamVideo |
	discordgo.PermissionVoiceRequestToSpeak

// FilterRolePermissions rewrites a source role bitmap for the mirror.
func FilterRolePermissions(perms int64) int64 {
	if perms&discordgo.PermissionAdministrator != 0 {
		return minimalSafe
	}
	return perms & safeAllowList
}

// MemberRolePermissions is the bit set required on the mirror's members
// system role. Applied additively at boot: missing bits are granted,
// existing extra bits are left alone (non-destructive).
func MemberRolePermissions() int64 {
	return minimalSafe | discordgo.PermissionSendMessagesInThreads
}

// AdminRolePermissions is the bit set for the mirror's admin system role.
func AdminRolePermissions() int64 {
	return discordgo.PermissionAdministrator
}

// Safe reports whether a bitmap stays inside the allow-list.
func Safe(perms int64) bool {
	return perms&^safeAllowList == 0
}
