// Package replay reconstructs the synthetic READY and per-guild
// GUILD_CREATE/GUILD_DELETE sequence a newly-connected client needs to
// catch up to the shard's current cache state, the same shape Discord
// itself would have sent had the client identified directly.
package replay

import (
	"context"
	"encoding/json"

	"github.com/boting-devs/gateway-proxy/cache"
	"github.com/boting-devs/gateway-proxy/discord"
)

// BuildReady clones template (the shard's ReadyTemplate body), overwrites
// its guilds field with an unavailable stub per guild currently in the
// cache, increments seq, and wraps the result in a dispatch Payload.
func BuildReady(ctx context.Context, c cache.Cache, template json.RawMessage, seq *uint64) (discord.Payload, error) {
	guilds, err := c.Guilds(ctx)
	if err != nil {
		return discord.Payload{}, err
	}

	var body map[string]interface{}
	if err := json.Unmarshal(template, &body); err != nil {
		return discord.Payload{}, err
	}

	stubs := make([]discord.UnavailableGuild, len(guilds))
	for i, g := range guilds {
		stubs[i] = discord.UnavailableGuild{ID: g.ID, Unavailable: true}
	}
	body["guilds"] = stubs

	d, err := json.Marshal(body)
	if err != nil {
		return discord.Payload{}, err
	}

	*seq++
	s := int64(*seq)
	return discord.Payload{
		Op: discord.OpDispatch,
		T:  "READY",
		S:  &s,
		D:  d,
	}, nil
}

// Result is one element of the GuildPayloads stream: either a reconstructed
// GUILD_CREATE/GUILD_DELETE Payload, or an error that aborts the replay.
type Result struct {
	Payload discord.Payload
	Err     error
}

// GuildPayloads returns a channel that yields one Result per guild
// currently in the cache, in the cache's own iteration order, closing the
// channel when exhausted. The channel is unbuffered: a slow consumer
// backpressures this generator goroutine instead of it racing ahead.
func GuildPayloads(ctx context.Context, c cache.Cache, seq *uint64) <-chan Result {
	out := make(chan Result)

	go func() {
		defer close(out)

		guilds, err := c.Guilds(ctx)
		if err != nil {
			out <- Result{Err: err}
			return
		}

		for _, g := range guilds {
			*seq++
			s := int64(*seq)

			var payload discord.Payload
			var err error
			if g.Unavailable {
				payload, err = deletePayload(g, s)
			} else {
				payload, err = createPayload(ctx, c, g, s)
			}
			if err != nil {
				select {
				case out <- Result{Err: err}:
				case <-ctx.Done():
				}
				return
			}

			select {
			case out <- Result{Payload: payload}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func deletePayload(g cache.CachedGuild, seq int64) (discord.Payload, error) {
	d, err := json.Marshal(discord.GuildDelete{ID: g.ID, Unavailable: true})
	if err != nil {
		return discord.Payload{}, err
	}
	return discord.Payload{Op: discord.OpDispatch, T: "GUILD_DELETE", S: &seq, D: d}, nil
}

func createPayload(ctx context.Context, c cache.Cache, g cache.CachedGuild, seq int64) (discord.Payload, error) {
	channelIDs, err := c.ChannelIDs(ctx, g.ID)
	if err != nil {
		return discord.Payload{}, err
	}

	var channels, threads []*discord.Channel
	for _, id := range channelIDs {
		ch, err := c.Channel(ctx, g.ID, id)
		if err != nil {
			return discord.Payload{}, err
		}
		if ch == nil {
			continue
		}
		if ch.Type.IsThread() {
			threads = append(threads, ch)
		} else {
			channels = append(channels, ch)
		}
	}

	roleIDs, err := c.RoleIDs(ctx, g.ID)
	if err != nil {
		return discord.Payload{}, err
	}
	roles := make([]*discord.Role, 0, len(roleIDs))
	for _, id := range roleIDs {
		r, err := c.Role(ctx, g.ID, id)
		if err != nil {
			return discord.Payload{}, err
		}
		if r != nil {
			roles = append(roles, r)
		}
	}

	memberIDs, err := c.MemberUserIDs(ctx, g.ID)
	if err != nil {
		return discord.Payload{}, err
	}
	var members []*discord.Member
	hydrated := make(map[string]*discord.Member, len(memberIDs))
	for _, id := range memberIDs {
		m, err := c.Member(ctx, g.ID, id)
		if err != nil {
			return discord.Payload{}, err
		}
		if m == nil || m.User == nil {
			// CacheLookupMiss: member references a user we never cached.
			// Omit it silently rather than fail the whole replay.
			continue
		}
		members = append(members, m)
		hydrated[id] = m
	}

	voiceIDs, err := c.VoiceStateUserIDs(ctx, g.ID)
	if err != nil {
		return discord.Payload{}, err
	}
	var voiceStates []*discord.VoiceState
	for _, id := range voiceIDs {
		vs, err := c.VoiceState(ctx, g.ID, id)
		if err != nil {
			return discord.Payload{}, err
		}
		if vs == nil {
			continue
		}
		vs.GuildID = g.ID
		vs.Member = hydrated[id]
		voiceStates = append(voiceStates, vs)
	}

	d, err := json.Marshal(discord.GuildCreate{
		ID:          g.ID,
		Name:        g.Name,
		OwnerID:     g.OwnerID,
		Permissions: g.Permissions,
		MemberCount: g.MemberCount,
		Unavailable: false,
		Roles:       roles,
		Channels:    channels,
		Threads:     threads,
		Members:     members,
		VoiceStates: voiceStates,
	})
	if err != nil {
		return discord.Payload{}, err
	}

	return discord.Payload{Op: discord.OpDispatch, T: "GUILD_CREATE", S: &seq, D: d}, nil
}
