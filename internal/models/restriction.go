package models

import "time"

// RestrictionStatus is the moderation state of a user.
type RestrictionStatus string

const (
	RestrictionNone     RestrictionStatus = "NONE"
	RestrictionMuted    RestrictionStatus = "MUTED"
	RestrictionBanned   RestrictionStatus = "BANNED"
	RestrictionReadOnly RestrictionStatus = "READONLY"
)

// Restriction describes whether the user may currently send messages.
// Remaining is the number of seconds left for a MUTED state.
type Restriction struct {
	Status    RestrictionStatus `json:"status"`
	Remaining *int              `json:"remaining,omitempty"`
}

// RemainingDuration returns the time left on a mute, or zero.
func (r Restriction) RemainingDuration() time.Duration {
	if r.Remaining == nil || *r.Remaining <= 0 {
		return 0
	}
	return time.Duration(*r.Remaining) * time.Second
}
