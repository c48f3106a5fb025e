package domain

import (
	"sort"
	"strings"
)

const roomPrefix = "chat_"

// RoomName derives the conversation room for two user identities. The pair
// is sorted so both participants compute the same name without a lookup.
func RoomName(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return roomPrefix + strings.Join(ids, "_")
}

// RoomHasParticipant reports whether identity is one of the room's two
// participants, by checking that the name reconstructs from the identity and
// the remaining half of the pair.
func RoomHasParticipant(room, identity string) bool {
	trimmed, ok := strings.CutPrefix(room, roomPrefix)
	if !ok || identity == "" {
		return false
	}
	if peer, ok := strings.CutPrefix(trimmed, identity+"_"); ok && RoomName(identity, peer) == room {
		return true
	}
	if peer, ok := strings.CutSuffix(trimmed, "_"+identity); ok && RoomName(peer, identity) == room {
		return true
	}
	return false
}
