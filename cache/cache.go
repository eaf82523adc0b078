// Package cache maintains the authoritative replica of guild, channel,
// member, role and voice-state data delivered on a shard's upstream
// connection, backed by Redis hashes keyed per shard so multiple shards
// sharing one Redis never collide.
package cache

import (
	"context"

	"github.com/boting-devs/gateway-proxy/discord"
)

// Cache is the interface the dispatcher (writer) and replay/downstream
// (readers) consume. RedisCache is the only implementation, but the
// interface keeps replay and dispatch free of a hard Redis dependency.
type Cache interface {
	Update(ctx context.Context, event Event) error

	Guilds(ctx context.Context) ([]CachedGuild, error)
	Guild(ctx context.Context, guildID string) (CachedGuild, bool, error)

	ChannelIDs(ctx context.Context, guildID string) ([]string, error)
	Channel(ctx context.Context, guildID, channelID string) (*discord.Channel, error)

	RoleIDs(ctx context.Context, guildID string) ([]string, error)
	Role(ctx context.Context, guildID, roleID string) (*discord.Role, error)

	MemberUserIDs(ctx context.Context, guildID string) ([]string, error)
	Member(ctx context.Context, guildID, userID string) (*discord.Member, error)

	VoiceStateUserIDs(ctx context.Context, guildID string) ([]string, error)
	VoiceState(ctx context.Context, guildID, userID string) (*discord.VoiceState, error)

	User(ctx context.Context, userID string) (*discord.User, error)
}

// CachedGuild is the subset of a Guild's own fields the cache stores
// directly (the member/channel/role/voice-state sets live in their own
// hashes and are iterated separately).
type CachedGuild struct {
	ID          string
	Name        string
	OwnerID     string
	Permissions int64
	MemberCount int
	Unavailable bool
}

// Event is a typed, already-deserialized gateway dispatch event ready to
// be applied to the cache. Type matches the upstream t field.
type Event struct {
	Type string
	Data interface{}
}

// Event payload shapes for the dispatch types cache.Update understands.
// These mirror the subset of Discord's gateway events that mutate cached
// state; events the cache does not recognize are accepted and ignored.
type (
	// ReadyPayload is the d of an upstream READY frame.
	ReadyPayload struct {
		Guilds []*discord.UnavailableGuild `json:"guilds"`
	}

	// GuildCreatePayload is the d of a GUILD_CREATE frame.
	GuildCreatePayload struct {
		discord.Guild
		Roles       []*discord.Role       `json:"roles"`
		Channels    []*discord.Channel    `json:"channels"`
		Threads     []*discord.Channel    `json:"threads"`
		Members     []*discord.Member     `json:"members"`
		VoiceStates []*discord.VoiceState `json:"voice_states"`
	}

	// GuildUpdatePayload is the d of a GUILD_UPDATE frame.
	GuildUpdatePayload struct {
		discord.Guild
	}

	// GuildDeletePayload is the d of a GUILD_DELETE frame.
	GuildDeletePayload struct {
		ID          string `json:"id"`
		Unavailable bool   `json:"unavailable"`
	}

	// ChannelCreatePayload/ChannelUpdatePayload are the d of CHANNEL_CREATE/CHANNEL_UPDATE.
	ChannelCreatePayload struct{ discord.Channel }
	ChannelUpdatePayload struct{ discord.Channel }

	// ChannelDeletePayload is the d of CHANNEL_DELETE.
	ChannelDeletePayload struct {
		ID      string `json:"id"`
		GuildID string `json:"guild_id"`
	}

	// GuildRoleCreatePayload/GuildRoleUpdatePayload are the d of GUILD_ROLE_CREATE/GUILD_ROLE_UPDATE.
	GuildRoleCreatePayload struct {
		GuildID string        `json:"guild_id"`
		Role    *discord.Role `json:"role"`
	}
	GuildRoleUpdatePayload struct {
		GuildID string        `json:"guild_id"`
		Role    *discord.Role `json:"role"`
	}

	// GuildRoleDeletePayload is the d of GUILD_ROLE_DELETE.
	GuildRoleDeletePayload struct {
		GuildID string `json:"guild_id"`
		RoleID  string `json:"role_id"`
	}

	// GuildMemberAddPayload/GuildMemberUpdatePayload are the d of GUILD_MEMBER_ADD/GUILD_MEMBER_UPDATE.
	GuildMemberAddPayload struct {
		discord.Member
	}
	GuildMemberUpdatePayload struct {
		discord.Member
	}

	// GuildMemberRemovePayload is the d of GUILD_MEMBER_REMOVE.
	GuildMemberRemovePayload struct {
		GuildID string        `json:"guild_id"`
		User    *discord.User `json:"user"`
	}

	// VoiceStateUpdatePayload is the d of VOICE_STATE_UPDATE.
	VoiceStateUpdatePayload struct {
		discord.VoiceState
	}
)
