package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/boting-devs/gateway-proxy/discord"
)

func newTestCache(t *testing.T) *RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, "test", 0)
}

func TestGuildCreateThenReadBack(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	err := c.Update(ctx, Event{Type: "GUILD_CREATE", Data: &GuildCreatePayload{
		Guild: discord.Guild{ID: "42", Name: "G", OwnerID: "7", MemberCount: 1},
		Roles: []*discord.Role{{ID: "R1", Name: "role"}},
		Channels: []*discord.Channel{
			{ID: "C1", Type: discord.ChannelTypeGuildText},
		},
		Threads: []*discord.Channel{
			{ID: "T1", Type: discord.ChannelTypeGuildPublicThread},
		},
		Members: []*discord.Member{
			{User: &discord.User{ID: "7", Username: "owner"}},
		},
	}})
	if err != nil {
		t.Fatalf("Update(GUILD_CREATE) error: %v", err)
	}

	g, ok, err := c.Guild(ctx, "42")
	if err != nil || !ok {
		t.Fatalf("Guild(42) = %v, %v, %v", g, ok, err)
	}
	if g.Name != "G" || g.Unavailable {
		t.Fatalf("unexpected guild state: %+v", g)
	}

	chIDs, err := c.ChannelIDs(ctx, "42")
	if err != nil || len(chIDs) != 2 {
		t.Fatalf("expected 2 channel ids, got %v (%v)", chIDs, err)
	}

	member, err := c.Member(ctx, "42", "7")
	if err != nil || member == nil || member.User == nil || member.User.Username != "owner" {
		t.Fatalf("expected hydrated member, got %+v (%v)", member, err)
	}
}

func TestGuildDeleteUnavailableKeepsEntry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Update(ctx, Event{Type: "GUILD_CREATE", Data: &GuildCreatePayload{
		Guild: discord.Guild{ID: "99", Name: "G"},
	}})

	err := c.Update(ctx, Event{Type: "GUILD_DELETE", Data: &GuildDeletePayload{ID: "99", Unavailable: true}})
	if err != nil {
		t.Fatalf("Update(GUILD_DELETE) error: %v", err)
	}

	g, ok, err := c.Guild(ctx, "99")
	if err != nil || !ok {
		t.Fatalf("expected guild to still exist marked unavailable, got %v %v %v", g, ok, err)
	}
	if !g.Unavailable {
		t.Fatalf("expected guild to be marked unavailable, got %+v", g)
	}
}

func TestGuildDeleteRemovesEntry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Update(ctx, Event{Type: "GUILD_CREATE", Data: &GuildCreatePayload{
		Guild: discord.Guild{ID: "100", Name: "G"},
	}})

	if err := c.Update(ctx, Event{Type: "GUILD_DELETE", Data: &GuildDeletePayload{ID: "100", Unavailable: false}}); err != nil {
		t.Fatalf("Update(GUILD_DELETE) error: %v", err)
	}

	_, ok, err := c.Guild(ctx, "100")
	if err != nil {
		t.Fatalf("Guild() error: %v", err)
	}
	if ok {
		t.Fatalf("expected guild to be removed from cache")
	}
}

func TestMemberWithMissingUserHasNilUser(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	// Directly persist a member hash entry without ever saving its user,
	// simulating a member event whose user payload we never cached.
	data, err := json.Marshal(&discord.Member{GuildID: "1", UserID: "5"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := c.Redis.HSet(ctx, c.membersKey("1"), "5", data).Err(); err != nil {
		t.Fatalf("HSet: %v", err)
	}

	m, err := c.Member(ctx, "1", "5")
	if err != nil {
		t.Fatalf("Member() error: %v", err)
	}
	if m == nil {
		t.Fatalf("expected a member record to exist")
	}
	if m.User != nil {
		t.Fatalf("expected nil User for unresolved reference, got %+v", m.User)
	}
}
