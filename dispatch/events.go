package dispatch

import (
	"encoding/json"

	"github.com/boting-devs/gateway-proxy/cache"
)

// decoders maps a dispatch event type to a function that unmarshals its d
// payload into the cache.Event.Data shape the cache understands. Event
// types with no entry are applied as a no-op by DecodeEvent.
var decoders = map[string]func(json.RawMessage) (interface{}, error){
	"GUILD_CREATE": func(raw json.RawMessage) (interface{}, error) {
		var p cache.GuildCreatePayload
		return &p, json.Unmarshal(raw, &p)
	},
	"GUILD_UPDATE": func(raw json.RawMessage) (interface{}, error) {
		var p cache.GuildUpdatePayload
		return &p, json.Unmarshal(raw, &p)
	},
	"GUILD_DELETE": func(raw json.RawMessage) (interface{}, error) {
		var p cache.GuildDeletePayload
		return &p, json.Unmarshal(raw, &p)
	},
	"CHANNEL_CREATE": func(raw json.RawMessage) (interface{}, error) {
		var p cache.ChannelCreatePayload
		return &p, json.Unmarshal(raw, &p)
	},
	"CHANNEL_UPDATE": func(raw json.RawMessage) (interface{}, error) {
		var p cache.ChannelUpdatePayload
		return &p, json.Unmarshal(raw, &p)
	},
	"CHANNEL_DELETE": func(raw json.RawMessage) (interface{}, error) {
		var p cache.ChannelDeletePayload
		return &p, json.Unmarshal(raw, &p)
	},
	"THREAD_CREATE": func(raw json.RawMessage) (interface{}, error) {
		var p cache.ChannelCreatePayload
		return &p, json.Unmarshal(raw, &p)
	},
	"THREAD_UPDATE": func(raw json.RawMessage) (interface{}, error) {
		var p cache.ChannelUpdatePayload
		return &p, json.Unmarshal(raw, &p)
	},
	"THREAD_DELETE": func(raw json.RawMessage) (interface{}, error) {
		var p cache.ChannelDeletePayload
		return &p, json.Unmarshal(raw, &p)
	},
	"GUILD_ROLE_CREATE": func(raw json.RawMessage) (interface{}, error) {
		var p cache.GuildRoleCreatePayload
		return &p, json.Unmarshal(raw, &p)
	},
	"GUILD_ROLE_UPDATE": func(raw json.RawMessage) (interface{}, error) {
		var p cache.GuildRoleUpdatePayload
		return &p, json.Unmarshal(raw, &p)
	},
	"GUILD_ROLE_DELETE": func(raw json.RawMessage) (interface{}, error) {
		var p cache.GuildRoleDeletePayload
		return &p, json.Unmarshal(raw, &p)
	},
	"GUILD_MEMBER_ADD": func(raw json.RawMessage) (interface{}, error) {
		var p cache.GuildMemberAddPayload
		return &p, json.Unmarshal(raw, &p)
	},
	"GUILD_MEMBER_UPDATE": func(raw json.RawMessage) (interface{}, error) {
		var p cache.GuildMemberUpdatePayload
		return &p, json.Unmarshal(raw, &p)
	},
	"GUILD_MEMBER_REMOVE": func(raw json.RawMessage) (interface{}, error) {
		var p cache.GuildMemberRemovePayload
		return &p, json.Unmarshal(raw, &p)
	},
	"VOICE_STATE_UPDATE": func(raw json.RawMessage) (interface{}, error) {
		var p cache.VoiceStateUpdatePayload
		return &p, json.Unmarshal(raw, &p)
	},
	"READY": func(raw json.RawMessage) (interface{}, error) {
		var p cache.ReadyPayload
		return &p, json.Unmarshal(raw, &p)
	},
}

// DecodeEvent is the default Dispatcher decode function: it looks up eventType
// in the cache-relevant event table and unmarshals raw into the matching
// payload, returning ok=false for event types the cache has no use for
// (message events, typing, presence, and so on never touch the cache).
func DecodeEvent(eventType string, raw json.RawMessage) (cache.Event, bool) {
	decode, ok := decoders[eventType]
	if !ok || raw == nil {
		return cache.Event{}, false
	}

	data, err := decode(raw)
	if err != nil {
		return cache.Event{}, false
	}

	return cache.Event{Type: eventType, Data: data}, true
}
