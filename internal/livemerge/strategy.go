package livemerge

import "time"

// Strategy decides whether a record arriving from the remote live
// subscription replaces the local copy. Expressed as an interface so
// stronger merge semantics (field-level merges, vector clocks) can be
// substituted without touching the listener.
type Strategy interface {
	// TakeRemote reports whether the remote copy wins given the two
	// logical timestamps.
	TakeRemote(localUpdatedAt, remoteUpdatedAt time.Time) bool
}

// LastWriteWins is the built-in strategy: the highest UpdatedAt wins, and
// the remote copy replaces the local one only when it is not older.
//
// The remote update replaces the whole record even when only one field
// changed concurrently on each side; that whole-record semantics is a
// known data-loss window, accepted until a field-level strategy exists.
type LastWriteWins struct{}

// TakeRemote implements Strategy.
func (LastWriteWins) TakeRemote(local, remote time.Time) bool {
	return !remote.Before(local)
}
