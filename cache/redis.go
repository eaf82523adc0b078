package cache

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"

	"github.com/boting-devs/gateway-proxy/discord"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RedisCache is the concrete Cache implementation, one per shard. Keys are
// namespaced with Prefix and ShardID so several shards can share a single
// Redis without colliding, one hash per guild collection
// ("{prefix}:{shard}:guild:{id}:channels" and so on).
type RedisCache struct {
	Redis   *redis.Client
	Prefix  string
	ShardID int
}

// NewRedisCache builds a RedisCache bound to a single shard's key namespace.
func NewRedisCache(client *redis.Client, prefix string, shardID int) *RedisCache {
	return &RedisCache{Redis: client, Prefix: prefix, ShardID: shardID}
}

func (c *RedisCache) guildsKey() string { return fmt.Sprintf("%s:%d:guilds", c.Prefix, c.ShardID) }
func (c *RedisCache) channelsKey(gid string) string {
	return fmt.Sprintf("%s:%d:guild:%s:channels", c.Prefix, c.ShardID, gid)
}
func (c *RedisCache) rolesKey(gid string) string {
	return fmt.Sprintf("%s:%d:guild:%s:roles", c.Prefix, c.ShardID, gid)
}
func (c *RedisCache) membersKey(gid string) string {
	return fmt.Sprintf("%s:%d:guild:%s:members", c.Prefix, c.ShardID, gid)
}
func (c *RedisCache) voiceStatesKey(gid string) string {
	return fmt.Sprintf("%s:%d:guild:%s:voicestates", c.Prefix, c.ShardID, gid)
}
func (c *RedisCache) usersKey() string { return fmt.Sprintf("%s:%d:users", c.Prefix, c.ShardID) }

// Update applies a typed gateway event to the cache. Unrecognized event
// types are accepted and ignored, matching the dispatcher's "apply every
// event, including ones we don't understand" contract.
func (c *RedisCache) Update(ctx context.Context, event Event) error {
	switch payload := event.Data.(type) {
	case *ReadyPayload:
		return c.applyReady(ctx, payload)
	case *GuildCreatePayload:
		return c.applyGuildCreate(ctx, payload)
	case *GuildUpdatePayload:
		return c.saveGuild(ctx, CachedGuild{
			ID:          payload.ID,
			Name:        payload.Name,
			OwnerID:     payload.OwnerID,
			Permissions: payload.Permissions,
			MemberCount: payload.MemberCount,
			Unavailable: payload.Unavailable,
		})
	case *GuildDeletePayload:
		return c.applyGuildDelete(ctx, payload)
	case *ChannelCreatePayload:
		return c.saveChannel(ctx, &payload.Channel)
	case *ChannelUpdatePayload:
		return c.saveChannel(ctx, &payload.Channel)
	case *ChannelDeletePayload:
		return c.Redis.HDel(ctx, c.channelsKey(payload.GuildID), payload.ID).Err()
	case *GuildRoleCreatePayload:
		return c.saveRole(ctx, payload.GuildID, payload.Role)
	case *GuildRoleUpdatePayload:
		return c.saveRole(ctx, payload.GuildID, payload.Role)
	case *GuildRoleDeletePayload:
		return c.Redis.HDel(ctx, c.rolesKey(payload.GuildID), payload.RoleID).Err()
	case *GuildMemberAddPayload:
		return c.saveMember(ctx, &payload.Member)
	case *GuildMemberUpdatePayload:
		return c.saveMember(ctx, &payload.Member)
	case *GuildMemberRemovePayload:
		if payload.User != nil {
			return c.Redis.HDel(ctx, c.membersKey(payload.GuildID), payload.User.ID).Err()
		}
		return nil
	case *VoiceStateUpdatePayload:
		return c.saveVoiceState(ctx, &payload.VoiceState)
	default:
		return nil
	}
}

func (c *RedisCache) applyReady(ctx context.Context, payload *ReadyPayload) error {
	if payload.Guilds == nil {
		return nil
	}
	pipe := c.Redis.Pipeline()
	for _, g := range payload.Guilds {
		cg := CachedGuild{ID: g.ID, Unavailable: g.Unavailable}
		data, err := json.Marshal(cg)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, c.guildsKey(), g.ID, data)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisCache) applyGuildCreate(ctx context.Context, payload *GuildCreatePayload) error {
	if err := c.saveGuild(ctx, CachedGuild{
		ID:          payload.ID,
		Name:        payload.Name,
		OwnerID:     payload.OwnerID,
		Permissions: payload.Permissions,
		MemberCount: payload.MemberCount,
		Unavailable: false,
	}); err != nil {
		return err
	}

	for _, ch := range payload.Channels {
		ch.GuildID = payload.ID
		if err := c.saveChannel(ctx, ch); err != nil {
			return err
		}
	}
	for _, ch := range payload.Threads {
		ch.GuildID = payload.ID
		if err := c.saveChannel(ctx, ch); err != nil {
			return err
		}
	}
	for _, r := range payload.Roles {
		if err := c.saveRole(ctx, payload.ID, r); err != nil {
			return err
		}
	}
	for _, m := range payload.Members {
		m.GuildID = payload.ID
		if err := c.saveMember(ctx, m); err != nil {
			return err
		}
	}
	for _, vs := range payload.VoiceStates {
		vs.GuildID = payload.ID
		if err := c.saveVoiceState(ctx, vs); err != nil {
			return err
		}
	}

	return nil
}

func (c *RedisCache) applyGuildDelete(ctx context.Context, payload *GuildDeletePayload) error {
	if payload.Unavailable {
		return c.saveGuild(ctx, CachedGuild{ID: payload.ID, Unavailable: true})
	}
	pipe := c.Redis.Pipeline()
	pipe.HDel(ctx, c.guildsKey(), payload.ID)
	pipe.Del(ctx, c.channelsKey(payload.ID))
	pipe.Del(ctx, c.rolesKey(payload.ID))
	pipe.Del(ctx, c.membersKey(payload.ID))
	pipe.Del(ctx, c.voiceStatesKey(payload.ID))
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisCache) saveGuild(ctx context.Context, g CachedGuild) error {
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return c.Redis.HSet(ctx, c.guildsKey(), g.ID, data).Err()
}

func (c *RedisCache) saveChannel(ctx context.Context, ch *discord.Channel) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	return c.Redis.HSet(ctx, c.channelsKey(ch.GuildID), ch.ID, data).Err()
}

func (c *RedisCache) saveRole(ctx context.Context, guildID string, r *discord.Role) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.Redis.HSet(ctx, c.rolesKey(guildID), r.ID, data).Err()
}

func (c *RedisCache) saveMember(ctx context.Context, m *discord.Member) error {
	if m.User != nil {
		m.UserID = m.User.ID
		userData, err := json.Marshal(m.User)
		if err != nil {
			return err
		}
		if err := c.Redis.HSet(ctx, c.usersKey(), m.User.ID, userData).Err(); err != nil {
			return err
		}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.Redis.HSet(ctx, c.membersKey(m.GuildID), m.UserID, data).Err()
}

func (c *RedisCache) saveVoiceState(ctx context.Context, vs *discord.VoiceState) error {
	data, err := json.Marshal(vs)
	if err != nil {
		return err
	}
	return c.Redis.HSet(ctx, c.voiceStatesKey(vs.GuildID), vs.UserID, data).Err()
}

// Guilds returns every guild currently cached, in Go map iteration order
// over the HGETALL result, which is unspecified and can differ between calls.
func (c *RedisCache) Guilds(ctx context.Context) ([]CachedGuild, error) {
	raw, err := c.Redis.HGetAll(ctx, c.guildsKey()).Result()
	if err != nil {
		return nil, err
	}
	guilds := make([]CachedGuild, 0, len(raw))
	for _, v := range raw {
		var g CachedGuild
		if err := json.Unmarshal([]byte(v), &g); err != nil {
			return nil, err
		}
		guilds = append(guilds, g)
	}
	return guilds, nil
}

// Guild looks up a single cached guild by id.
func (c *RedisCache) Guild(ctx context.Context, guildID string) (CachedGuild, bool, error) {
	val, err := c.Redis.HGet(ctx, c.guildsKey(), guildID).Result()
	if err == redis.Nil {
		return CachedGuild{}, false, nil
	}
	if err != nil {
		return CachedGuild{}, false, err
	}
	var g CachedGuild
	if err := json.Unmarshal([]byte(val), &g); err != nil {
		return CachedGuild{}, false, err
	}
	return g, true, nil
}

// ChannelIDs returns every channel id (threads and non-threads alike)
// belonging to guildID.
func (c *RedisCache) ChannelIDs(ctx context.Context, guildID string) ([]string, error) {
	return c.Redis.HKeys(ctx, c.channelsKey(guildID)).Result()
}

// Channel looks up a single channel (or thread) by id within a guild.
func (c *RedisCache) Channel(ctx context.Context, guildID, channelID string) (*discord.Channel, error) {
	val, err := c.Redis.HGet(ctx, c.channelsKey(guildID), channelID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ch discord.Channel
	if err := json.Unmarshal([]byte(val), &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// RoleIDs returns every role id belonging to guildID.
func (c *RedisCache) RoleIDs(ctx context.Context, guildID string) ([]string, error) {
	return c.Redis.HKeys(ctx, c.rolesKey(guildID)).Result()
}

// Role looks up a single role by id within a guild.
func (c *RedisCache) Role(ctx context.Context, guildID, roleID string) (*discord.Role, error) {
	val, err := c.Redis.HGet(ctx, c.rolesKey(guildID), roleID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r discord.Role
	if err := json.Unmarshal([]byte(val), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// MemberUserIDs returns every member's user id within a guild.
func (c *RedisCache) MemberUserIDs(ctx context.Context, guildID string) ([]string, error) {
	return c.Redis.HKeys(ctx, c.membersKey(guildID)).Result()
}

// Member looks up a single member by user id within a guild, hydrating its
// User field from the shared users hash. A member whose user cannot be
// resolved is returned with Member.User left nil; callers doing replay are
// required to omit such members rather than fail.
func (c *RedisCache) Member(ctx context.Context, guildID, userID string) (*discord.Member, error) {
	val, err := c.Redis.HGet(ctx, c.membersKey(guildID), userID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m discord.Member
	if err := json.Unmarshal([]byte(val), &m); err != nil {
		return nil, err
	}
	user, err := c.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	m.User = user
	return &m, nil
}

// VoiceStateUserIDs returns every user id with a cached voice state within
// a guild.
func (c *RedisCache) VoiceStateUserIDs(ctx context.Context, guildID string) ([]string, error) {
	return c.Redis.HKeys(ctx, c.voiceStatesKey(guildID)).Result()
}

// VoiceState looks up a single voice state by user id within a guild.
func (c *RedisCache) VoiceState(ctx context.Context, guildID, userID string) (*discord.VoiceState, error) {
	val, err := c.Redis.HGet(ctx, c.voiceStatesKey(guildID), userID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var vs discord.VoiceState
	if err := json.Unmarshal([]byte(val), &vs); err != nil {
		return nil, err
	}
	return &vs, nil
}

// User looks up a single user by id. Returns (nil, nil) on a cache miss;
// callers performing replay treat a missing user as "omit silently".
func (c *RedisCache) User(ctx context.Context, userID string) (*discord.User, error) {
	val, err := c.Redis.HGet(ctx, c.usersKey(), userID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var u discord.User
	if err := json.Unmarshal([]byte(val), &u); err != nil {
		return nil, err
	}
	return &u, nil
}
