package domain

import "time"

// Conn is the live connection handle of a participant. Handles are owned by
// the registry; queue entries and matches hold references, never copies.
type Conn interface {
	// Identity returns the stable participant identity bound to the connection.
	Identity() string
	// Send pushes a named event with a JSON-serializable payload to the peer.
	Send(event string, data any) error
	Close() error
}

// QueueEntry is one waiting participant in the matchmaking pool.
// At most one entry exists per identity; a later join replaces an earlier one.
type QueueEntry struct {
	Identity string
	Rating   int
	Conn     Conn
}

// Role is a participant's role within a match. The host creates the external
// game room and shares its identifier with the guest.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// MatchState is the lifecycle state of a match.
type MatchState string

const (
	// StateAwaitingRoom waits for the host to submit the external room id.
	// Matches begin here: formation and the room-id wait are one transition.
	StateAwaitingRoom MatchState = "awaiting_room"
	// StateRoomActive means the room id is recorded and relayed.
	StateRoomActive MatchState = "room_active"
	// StateAwaitingScores means at least one score report is in.
	StateAwaitingScores MatchState = "awaiting_scores"
	// StateApproved is terminal: both reports agreed.
	StateApproved MatchState = "approved"
	// StateDisputed is terminal-pending: reports disagreed, the match is
	// retained for external resolution.
	StateDisputed MatchState = "disputed"
	// StateAbandoned is terminal: a participant disconnected mid-match.
	StateAbandoned MatchState = "abandoned"
)

// Terminal reports whether the state admits no further transitions.
func (s MatchState) Terminal() bool {
	return s == StateApproved || s == StateDisputed || s == StateAbandoned
}

// ScoreReport is one participant's self-declared outcome for a match.
// Immutable once recorded.
type ScoreReport struct {
	PlayerScore   int
	OpponentScore int
	EvidenceRef   string
	Winner        bool
	Draw          bool
	SubmitTime    time.Time
}

// Profile is the persisted record of a participant, owned by external
// storage and touched only through the stats sink.
type Profile struct {
	Identity      string
	Rating        int
	Wins          int
	Draws         int
	Losses        int
	WinRate       int
	MatchesPlayed int
	MatchesLeft   int
	Points        int
	Division      int
}
