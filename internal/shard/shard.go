// Package shard routes users to one of the parallel global chat channels.
//
// The assignment is a pure function of the user id and the shard count, so every
// client agrees on it without server coordination. Changing the shard count
// re-routes users; there is no migration of history between shards.
package shard

import (
	"fmt"
	"unicode/utf16"
)

// DefaultCount is the number of global shards.
const DefaultCount = 20

// ID formats the channel id of shard n.
func ID(n int) string {
	return fmt.Sprintf("global#shard-%d", n)
}

// Hash is the 32-bit multiply-by-31 rolling hash over the UTF-16 code units of s.
func Hash(s string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(c)
	}
	return h
}

// Index maps userID to a shard index in [0, n).
func Index(userID string, n int) int {
	if n <= 0 {
		n = DefaultCount
	}
	m := int32(n)
	return int(((Hash(userID) % m) + m) % m)
}

// For returns the global shard of userID with the default shard count.
func For(userID string) string {
	return ForN(userID, DefaultCount)
}

// ForN returns the global shard of userID among n shards.
func ForN(userID string, n int) string {
	return ID(Index(userID, n))
}

// All lists the ids of every shard.
func All(n int) []string {
	if n <= 0 {
		n = DefaultCount
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = ID(i)
	}
	return ids
}
