// Package match owns the per-match state machine: room-id exchange, score
// adjudication, dispute detection and teardown.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arenaplay/arena/internal/domain"
	"github.com/arenaplay/arena/internal/errors"
	"github.com/arenaplay/arena/internal/event"
	"github.com/arenaplay/arena/internal/telemetry"
)

// Server-to-client event names owned by the lifecycle manager.
const (
	EventMatchFound           = "match_found"
	EventReceiveRoomID        = "receive_room_id"
	EventRoomIDConfirmed      = "room_id_confirmed"
	EventScoreSubmitted       = "score_submitted"
	EventOpponentDisconnected = "opponent_disconnected"
	EventMatchExpired         = "match_expired"
)

const (
	defaultRoomDeadline = 5 * time.Minute
	sweepInterval       = 30 * time.Second
)

type Config struct {
	EventBus *event.Bus

	// RoomDeadline bounds how long a match may sit without a room id before
	// the janitor reclaims it. Zero means the default of 5 minutes.
	RoomDeadline time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Manager owns every active match. The match table has its own lock; each
// match has another, so unrelated matches never serialize on each other.
type Manager struct {
	eb           *event.Bus
	roomDeadline time.Duration
	now          func() time.Time

	mu      sync.Mutex
	matches map[string]*match
	active  map[string]string // participant identity -> match id
}

type side struct {
	identity string
	rating   int
	conn     domain.Conn
}

type match struct {
	mu         sync.Mutex
	id         string
	host       side
	guest      side
	roomID     string
	reports    map[string]domain.ScoreReport
	state      domain.MatchState
	createTime time.Time
}

func NewManager(c Config) *Manager {
	m := &Manager{
		eb:           c.EventBus,
		roomDeadline: c.RoomDeadline,
		now:          c.Now,
		matches:      make(map[string]*match),
		active:       make(map[string]string),
	}
	if m.roomDeadline <= 0 {
		m.roomDeadline = defaultRoomDeadline
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Run sweeps the match table until ctx is cancelled, reclaiming matches whose
// host never produced a room id.
func (m *Manager) Run(ctx context.Context) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := m.ExpireStale(ctx); n > 0 {
				slog.InfoContext(ctx, "match: expired stale matches", "count", n)
			}
		}
	}
}

type foundPayload struct {
	MatchID  string          `json:"matchId"`
	Role     domain.Role     `json:"role"`
	Opponent opponentPayload `json:"opponent"`
}

type opponentPayload struct {
	Identity string `json:"identity"`
	Rating   int    `json:"rating"`
}

type roomPayload struct {
	RoomID  string `json:"roomId"`
	MatchID string `json:"matchId"`
}

type scorePayload struct {
	MatchID  string `json:"matchId"`
	Pending  bool   `json:"pending,omitempty"`
	Approved bool   `json:"approved,omitempty"`
	Disputed bool   `json:"disputed,omitempty"`
}

type matchPayload struct {
	MatchID string `json:"matchId"`
}

// Create forms a match from two queue entries: allocates the match identity,
// assigns host and guest at random and notifies both sides. Either identity
// already being in an active match is an error; the invariant is one active
// match per participant.
func (m *Manager) Create(ctx context.Context, a, b domain.QueueEntry) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate match ID: %w", err)
	}

	host, guest := a, b
	if rand.IntN(2) == 0 {
		host, guest = b, a
	}

	mt := &match{
		id:         id.String(),
		host:       side{identity: host.Identity, rating: host.Rating, conn: host.Conn},
		guest:      side{identity: guest.Identity, rating: guest.Rating, conn: guest.Conn},
		reports:    make(map[string]domain.ScoreReport),
		state:      domain.StateAwaitingRoom,
		createTime: m.now(),
	}

	m.mu.Lock()
	if cur, ok := m.active[a.Identity]; ok {
		m.mu.Unlock()
		return "", errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("%s is already in match %s", a.Identity, cur))
	}
	if cur, ok := m.active[b.Identity]; ok {
		m.mu.Unlock()
		return "", errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("%s is already in match %s", b.Identity, cur))
	}
	m.matches[mt.id] = mt
	m.active[a.Identity] = mt.id
	m.active[b.Identity] = mt.id
	m.mu.Unlock()

	telemetry.MatchesFormed.Inc()
	slog.InfoContext(ctx, "match: formed",
		"match", mt.id,
		"host", mt.host.identity,
		"guest", mt.guest.identity,
	)

	m.send(ctx, mt.host.conn, EventMatchFound, foundPayload{
		MatchID:  mt.id,
		Role:     domain.RoleHost,
		Opponent: opponentPayload{Identity: mt.guest.identity, Rating: mt.guest.rating},
	})
	m.send(ctx, mt.guest.conn, EventMatchFound, foundPayload{
		MatchID:  mt.id,
		Role:     domain.RoleGuest,
		Opponent: opponentPayload{Identity: mt.host.identity, Rating: mt.host.rating},
	})

	return mt.id, nil
}

// SubmitRoomID records the external room identifier. Host only; a repeated
// submission overwrites and is relayed again.
func (m *Manager) SubmitRoomID(ctx context.Context, identity, matchID, roomID string) error {
	mt := m.lookup(matchID)
	if mt == nil {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("match %s not found", matchID))
	}

	mt.mu.Lock()
	if mt.state.Terminal() {
		mt.mu.Unlock()
		return errors.New(errors.CodeNotFound, errors.WithMessagef("match %s not found", matchID))
	}
	if identity != mt.host.identity {
		mt.mu.Unlock()
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("only the host can submit the room id"))
	}

	mt.roomID = roomID
	if mt.state == domain.StateAwaitingRoom {
		mt.state = domain.StateRoomActive
	}
	hostConn, guestConn := mt.host.conn, mt.guest.conn
	mt.mu.Unlock()

	slog.InfoContext(ctx, "match: room id submitted", "match", matchID, "room", roomID)

	m.send(ctx, guestConn, EventReceiveRoomID, roomPayload{RoomID: roomID, MatchID: matchID})
	m.send(ctx, hostConn, EventRoomIDConfirmed, roomPayload{RoomID: roomID, MatchID: matchID})
	return nil
}

// SubmitScore records one participant's score report. The first report leaves
// the match pending; the second triggers cross-validation and resolves the
// match exactly once, to Approved or Disputed. A participant resubmitting
// before resolution is rejected.
func (m *Manager) SubmitScore(ctx context.Context, identity, matchID string, report domain.ScoreReport) error {
	mt := m.lookup(matchID)
	if mt == nil {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("match %s not found", matchID))
	}

	if report.SubmitTime.IsZero() {
		report.SubmitTime = m.now()
	}

	mt.mu.Lock()
	if mt.state.Terminal() {
		mt.mu.Unlock()
		return errors.New(errors.CodeNotFound, errors.WithMessagef("match %s not found", matchID))
	}
	if identity != mt.host.identity && identity != mt.guest.identity {
		mt.mu.Unlock()
		return errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("%s is not a participant of match %s", identity, matchID))
	}
	if _, ok := mt.reports[identity]; ok {
		mt.mu.Unlock()
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("score already submitted for match %s", matchID))
	}

	mt.reports[identity] = report
	mt.state = domain.StateAwaitingScores

	hostReport, hostDone := mt.reports[mt.host.identity]
	guestReport, guestDone := mt.reports[mt.guest.identity]
	if !hostDone || !guestDone {
		var submitter domain.Conn
		if identity == mt.host.identity {
			submitter = mt.host.conn
		} else {
			submitter = mt.guest.conn
		}
		mt.mu.Unlock()

		m.send(ctx, submitter, EventScoreSubmitted, scorePayload{MatchID: matchID, Pending: true})
		return nil
	}

	// Both reports are in: decide once, while still holding the match lock.
	consistent := hostReport.PlayerScore == guestReport.OpponentScore &&
		guestReport.PlayerScore == hostReport.OpponentScore

	hostConn, guestConn := mt.host.conn, mt.guest.conn

	if !consistent {
		mt.state = domain.StateDisputed
		mt.mu.Unlock()

		telemetry.MatchesResolved.WithLabelValues("disputed").Inc()
		slog.WarnContext(ctx, "match: disputed",
			"match", matchID,
			"host_score", fmt.Sprintf("%d-%d", hostReport.PlayerScore, hostReport.OpponentScore),
			"guest_score", fmt.Sprintf("%d-%d", guestReport.PlayerScore, guestReport.OpponentScore),
		)

		m.send(ctx, hostConn, EventScoreSubmitted, scorePayload{MatchID: matchID, Disputed: true})
		m.send(ctx, guestConn, EventScoreSubmitted, scorePayload{MatchID: matchID, Disputed: true})
		return nil
	}

	mt.state = domain.StateApproved

	approved := domain.EventMatchApproved{
		MatchID: matchID,
		Winner:  mt.host.identity,
		Loser:   mt.guest.identity,
		Draw:    hostReport.Draw && guestReport.Draw,
	}
	if !approved.Draw && !hostReport.Winner {
		approved.Winner, approved.Loser = mt.guest.identity, mt.host.identity
	}
	mt.mu.Unlock()

	m.remove(matchID)

	telemetry.MatchesResolved.WithLabelValues("approved").Inc()
	slog.InfoContext(ctx, "match: approved",
		"match", matchID,
		"winner", approved.Winner,
		"draw", approved.Draw,
	)

	m.eb.Publish(ctx, approved)

	m.send(ctx, hostConn, EventScoreSubmitted, scorePayload{MatchID: matchID, Approved: true})
	m.send(ctx, guestConn, EventScoreSubmitted, scorePayload{MatchID: matchID, Approved: true})
	return nil
}

// Disconnect tears down the active match of identity, if any. The remaining
// participant gets exactly one opponent_disconnected notification. A disputed
// match is already terminal: it is dropped without a notification so both
// identities are freed.
func (m *Manager) Disconnect(ctx context.Context, identity string) {
	m.mu.Lock()
	id, ok := m.active[identity]
	if !ok {
		m.mu.Unlock()
		return
	}
	mt := m.matches[id]
	m.mu.Unlock()

	mt.mu.Lock()
	if mt.state.Terminal() {
		mt.mu.Unlock()
		m.remove(id)
		return
	}
	mt.state = domain.StateAbandoned

	other := mt.host
	if identity == mt.host.identity {
		other = mt.guest
	}
	mt.mu.Unlock()

	m.remove(id)

	telemetry.MatchesAbandoned.Inc()
	slog.InfoContext(ctx, "match: abandoned", "match", id, "disconnected", identity)

	m.send(ctx, other.conn, EventOpponentDisconnected, matchPayload{MatchID: id})
}

// ExpireStale reclaims matches that are still waiting for a room id past the
// deadline and returns how many were expired.
func (m *Manager) ExpireStale(ctx context.Context) int {
	m.mu.Lock()
	stale := make([]*match, 0)
	for _, mt := range m.matches {
		stale = append(stale, mt)
	}
	m.mu.Unlock()

	cutoff := m.now().Add(-m.roomDeadline)

	expired := 0
	for _, mt := range stale {
		mt.mu.Lock()
		if mt.state != domain.StateAwaitingRoom || mt.createTime.After(cutoff) {
			mt.mu.Unlock()
			continue
		}
		mt.state = domain.StateAbandoned
		hostConn, guestConn := mt.host.conn, mt.guest.conn
		id := mt.id
		mt.mu.Unlock()

		m.remove(id)
		expired++

		telemetry.MatchesExpired.Inc()
		m.send(ctx, hostConn, EventMatchExpired, matchPayload{MatchID: id})
		m.send(ctx, guestConn, EventMatchExpired, matchPayload{MatchID: id})
	}
	return expired
}

// Active reports whether identity is bound to an active match.
func (m *Manager) Active(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.active[identity]
	return ok
}

// Len returns the number of matches in the table, disputed ones included.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.matches)
}

func (m *Manager) lookup(matchID string) *match {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.matches[matchID]
}

func (m *Manager) remove(matchID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mt, ok := m.matches[matchID]
	if !ok {
		return
	}
	delete(m.matches, matchID)
	if m.active[mt.host.identity] == matchID {
		delete(m.active, mt.host.identity)
	}
	if m.active[mt.guest.identity] == matchID {
		delete(m.active, mt.guest.identity)
	}
}

// send delivers a notification, dropping it if the peer is gone. The guest's
// own client-side timeout is the backstop for a lost room-id relay.
func (m *Manager) send(ctx context.Context, conn domain.Conn, event string, data any) {
	if conn == nil {
		return
	}
	if err := conn.Send(event, data); err != nil {
		slog.WarnContext(ctx, "match: notify failed",
			"participant", conn.Identity(),
			"event", event,
			"error", err,
		)
	}
}
