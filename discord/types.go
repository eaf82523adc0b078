// Package discord holds the shared wire types for Discord's gateway protocol:
// the envelope every frame is wrapped in, the handshake payloads exchanged
// before a session is live, and the entity shapes cached from dispatch events.
package discord

import "encoding/json"

// Op is a gateway opcode.
type Op int

// Gateway opcodes as defined by Discord's v10 gateway.
const (
	OpDispatch            Op = 0
	OpHeartbeat           Op = 1
	OpIdentify            Op = 2
	OpPresenceUpdate      Op = 3
	OpVoiceStateUpdate    Op = 4
	OpResume              Op = 6
	OpReconnect           Op = 7
	OpRequestGuildMembers Op = 8
	OpInvalidSession      Op = 9
	OpHello               Op = 10
	OpHeartbeatAck        Op = 11
)

// ChannelType mirrors Discord's channel type enum.
type ChannelType int

// Known ChannelType values, including the thread types added after
// discordgo's original enum.
const (
	ChannelTypeGuildText ChannelType = iota
	ChannelTypeDM
	ChannelTypeGuildVoice
	ChannelTypeGroupDM
	ChannelTypeGuildCategory
	ChannelTypeGuildNews
	ChannelTypeGuildStore
	_
	_
	_
	ChannelTypeGuildNewsThread
	ChannelTypeGuildPublicThread
	ChannelTypeGuildPrivateThread
	ChannelTypeGuildStageVoice
)

// IsThread reports whether the channel type denotes a thread, as opposed
// to a regular channel.
func (t ChannelType) IsThread() bool {
	switch t {
	case ChannelTypeGuildNewsThread, ChannelTypeGuildPublicThread, ChannelTypeGuildPrivateThread:
		return true
	default:
		return false
	}
}

// Payload is the envelope every gateway frame (upstream or synthetic) is
// wrapped in.
type Payload struct {
	Op Op              `json:"op" msgpack:"op"`
	S  *int64          `json:"s" msgpack:"s"`
	T  string          `json:"t,omitempty" msgpack:"t,omitempty"`
	D  json.RawMessage `json:"d,omitempty" msgpack:"-"`
}

// Hello is the payload of the first frame the gateway sends.
type Hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// IdentifyProperties describes the connecting client, echoed back by
// Discord in some diagnostics; values are cosmetic.
type IdentifyProperties struct {
	OS      string `json:"$os"`
	Browser string `json:"$browser"`
	Device  string `json:"$device"`
}

// IdentifyData is the body of an Identify (op 2) frame.
type IdentifyData struct {
	Token          string             `json:"token"`
	Properties     IdentifyProperties `json:"properties"`
	LargeThreshold int                `json:"large_threshold"`
	Compress       bool               `json:"compress"`
	Shard          *[2]int            `json:"shard,omitempty"`
}

// ResumeData is the body of a Resume (op 6) frame.
type ResumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

// Ready is the body of the upstream READY dispatch.
type Ready struct {
	Version         int                 `json:"v"`
	SessionID       string              `json:"session_id"`
	User            *User               `json:"user"`
	PrivateChannels []*Channel          `json:"private_channels"`
	Guilds          []*UnavailableGuild `json:"guilds"`
}

// UnavailableGuild is the stub Discord sends in READY (and that this proxy
// synthesizes during replay) for a guild the client has not yet received
// full data for.
type UnavailableGuild struct {
	ID          string `json:"id" msgpack:"id"`
	Unavailable bool   `json:"unavailable" msgpack:"unavailable"`
}

// User is a Discord user, the identity behind a Member.
type User struct {
	ID            string `json:"id" msgpack:"id"`
	Username      string `json:"username" msgpack:"username"`
	Discriminator string `json:"discriminator" msgpack:"discriminator"`
	Avatar        string `json:"avatar" msgpack:"avatar"`
	Bot           bool   `json:"bot" msgpack:"bot"`
	MFAEnabled    bool   `json:"mfa_enabled,omitempty" msgpack:"mfa_enabled,omitempty"`
}

// Role stores information about a guild's member roles.
type Role struct {
	ID          string `json:"id" msgpack:"id"`
	Name        string `json:"name" msgpack:"name"`
	Color       int    `json:"color" msgpack:"color"`
	Hoist       bool   `json:"hoist" msgpack:"hoist"`
	Position    int    `json:"position" msgpack:"position"`
	Permissions int64  `json:"permissions" msgpack:"permissions"`
	Managed     bool   `json:"managed" msgpack:"managed"`
	Mentionable bool   `json:"mentionable" msgpack:"mentionable"`
}

// Channel holds the data needed to replay a guild's channel/thread list.
type Channel struct {
	ID       string      `json:"id" msgpack:"id"`
	GuildID  string      `json:"guild_id,omitempty" msgpack:"guild_id,omitempty"`
	Name     string      `json:"name" msgpack:"name"`
	Type     ChannelType `json:"type" msgpack:"type"`
	ParentID string      `json:"parent_id,omitempty" msgpack:"parent_id,omitempty"`
	Position int         `json:"position" msgpack:"position"`
	Topic    string      `json:"topic,omitempty" msgpack:"topic,omitempty"`
	NSFW     bool        `json:"nsfw,omitempty" msgpack:"nsfw,omitempty"`
}

// Member is a guild member, as hydrated for replay (User attached rather
// than referenced by id).
type Member struct {
	GuildID      string   `json:"guild_id,omitempty" msgpack:"guild_id,omitempty"`
	User         *User    `json:"user" msgpack:"-"`
	UserID       string   `json:"-" msgpack:"id"`
	Nick         string   `json:"nick,omitempty" msgpack:"nick,omitempty"`
	Roles        []string `json:"roles" msgpack:"roles"`
	JoinedAt     string   `json:"joined_at" msgpack:"joined_at"`
	PremiumSince string   `json:"premium_since,omitempty" msgpack:"premium_since,omitempty"`
	Deaf         bool     `json:"deaf" msgpack:"deaf"`
	Mute         bool     `json:"mute" msgpack:"mute"`
	Pending      bool     `json:"pending,omitempty" msgpack:"pending,omitempty"`
}

// VoiceState is a guild member's current voice channel status.
type VoiceState struct {
	GuildID   string  `json:"guild_id,omitempty" msgpack:"guild_id,omitempty"`
	ChannelID string  `json:"channel_id" msgpack:"channel_id"`
	UserID    string  `json:"user_id" msgpack:"user_id"`
	Member    *Member `json:"member" msgpack:"-"`
	SessionID string  `json:"session_id" msgpack:"session_id"`
	Deaf      bool    `json:"deaf" msgpack:"deaf"`
	Mute      bool    `json:"mute" msgpack:"mute"`
	SelfDeaf  bool    `json:"self_deaf" msgpack:"self_deaf"`
	SelfMute  bool    `json:"self_mute" msgpack:"self_mute"`
	Suppress  bool    `json:"suppress" msgpack:"suppress"`
}

// Guild is the cached representation of a guild, independent of any
// particular dispatch shape it is replayed as.
type Guild struct {
	ID          string `json:"id" msgpack:"id"`
	Name        string `json:"name" msgpack:"name"`
	OwnerID     string `json:"owner_id" msgpack:"owner_id"`
	Permissions int64  `json:"permissions,omitempty" msgpack:"permissions,omitempty"`
	MemberCount int    `json:"member_count" msgpack:"member_count"`
	Unavailable bool   `json:"unavailable" msgpack:"unavailable"`
}

// GuildCreate is the reconstructed GUILD_CREATE payload emitted during
// replay for an available guild.
type GuildCreate struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	OwnerID     string        `json:"owner_id"`
	Permissions int64         `json:"permissions,omitempty"`
	MemberCount int           `json:"member_count"`
	Unavailable bool          `json:"unavailable"`
	Roles       []*Role       `json:"roles"`
	Channels    []*Channel    `json:"channels"`
	Threads     []*Channel    `json:"threads"`
	Members     []*Member     `json:"members"`
	VoiceStates []*VoiceState `json:"voice_states"`
}

// GuildDelete is the reconstructed GUILD_DELETE payload emitted during
// replay for an unavailable guild.
type GuildDelete struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}
