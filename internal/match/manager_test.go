package match_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arenaplay/arena/internal/domain"
	"github.com/arenaplay/arena/internal/errors"
	"github.com/arenaplay/arena/internal/event"
	"github.com/arenaplay/arena/internal/match"
)

type notification struct {
	Event string
	Data  json.RawMessage
}

type fakeConn struct {
	id string

	mu   sync.Mutex
	sent []notification
}

func (c *fakeConn) Identity() string { return c.id }

func (c *fakeConn) Send(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sent = append(c.sent, notification{Event: event, Data: b})
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) received(event string) []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []json.RawMessage
	for _, n := range c.sent {
		if n.Event == event {
			out = append(out, n.Data)
		}
	}
	return out
}

type foundPayload struct {
	MatchID  string `json:"matchId"`
	Role     string `json:"role"`
	Opponent struct {
		Identity string `json:"identity"`
		Rating   int    `json:"rating"`
	} `json:"opponent"`
}

func entry(c *fakeConn, rating int) domain.QueueEntry {
	return domain.QueueEntry{Identity: c.id, Rating: rating, Conn: c}
}

// formMatch creates a match between a and b and returns the match id plus the
// two connections in host, guest order, resolved from the match_found
// notifications (role assignment is random).
func formMatch(t *testing.T, m *match.Manager, a, b *fakeConn) (string, *fakeConn, *fakeConn) {
	t.Helper()

	id, err := m.Create(context.Background(), entry(a, 1500), entry(b, 1620))
	require.NoError(t, err)

	found := a.received(match.EventMatchFound)
	require.Len(t, found, 1)

	var p foundPayload
	require.NoError(t, json.Unmarshal(found[0], &p))
	require.Equal(t, id, p.MatchID)

	if p.Role == string(domain.RoleHost) {
		return id, a, b
	}
	return id, b, a
}

func TestManager_Create(t *testing.T) {
	t.Parallel()

	m := match.NewManager(match.Config{EventBus: event.NewBus()})
	u1 := &fakeConn{id: "u1"}
	u2 := &fakeConn{id: "u2"}

	id, host, guest := formMatch(t, m, u1, u2)

	require.True(t, m.Active("u1"))
	require.True(t, m.Active("u2"))
	require.Equal(t, 1, m.Len())

	var hp, gp foundPayload
	require.NoError(t, json.Unmarshal(host.received(match.EventMatchFound)[0], &hp))
	require.NoError(t, json.Unmarshal(guest.received(match.EventMatchFound)[0], &gp))

	require.Equal(t, string(domain.RoleHost), hp.Role)
	require.Equal(t, string(domain.RoleGuest), gp.Role)
	require.Equal(t, guest.id, hp.Opponent.Identity)
	require.Equal(t, host.id, gp.Opponent.Identity)
	require.Equal(t, id, gp.MatchID)

	// A queued participant already bound to a match must not form a second one.
	u3 := &fakeConn{id: "u3"}
	_, err := m.Create(context.Background(), entry(u1, 1500), entry(u3, 1510))
	require.Equal(t, errors.CodeAlreadyExists, errors.Convert(err).Code)
	require.False(t, m.Active("u3"))
}

func TestManager_SubmitRoomID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := match.NewManager(match.Config{EventBus: event.NewBus()})
	id, host, guest := formMatch(t, m, &fakeConn{id: "u1"}, &fakeConn{id: "u2"})

	err := m.SubmitRoomID(ctx, guest.id, id, "ABC123")
	require.Equal(t, errors.CodePermissionDenied, errors.Convert(err).Code)
	require.Empty(t, guest.received(match.EventReceiveRoomID))

	err = m.SubmitRoomID(ctx, host.id, "no-such-match", "ABC123")
	require.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)

	require.NoError(t, m.SubmitRoomID(ctx, host.id, id, "ABC123"))

	relayed := guest.received(match.EventReceiveRoomID)
	require.Len(t, relayed, 1)
	require.JSONEq(t, `{"roomId":"ABC123","matchId":"`+id+`"}`, string(relayed[0]))

	acked := host.received(match.EventRoomIDConfirmed)
	require.Len(t, acked, 1)
	require.JSONEq(t, `{"roomId":"ABC123","matchId":"`+id+`"}`, string(acked[0]))

	// Resubmission overwrites and is relayed again.
	require.NoError(t, m.SubmitRoomID(ctx, host.id, id, "XYZ789"))
	relayed = guest.received(match.EventReceiveRoomID)
	require.Len(t, relayed, 2)
	require.JSONEq(t, `{"roomId":"XYZ789","matchId":"`+id+`"}`, string(relayed[1]))
}

func TestManager_SubmitScore_Approved(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eb := event.NewBus()

	var (
		mu       sync.Mutex
		approved []domain.EventMatchApproved
	)
	eb.Subscribe(domain.EventNameMatchApproved, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		approved = append(approved, e.(domain.EventMatchApproved))
		mu.Unlock()
		return nil
	})

	m := match.NewManager(match.Config{EventBus: eb})
	id, host, guest := formMatch(t, m, &fakeConn{id: "u1"}, &fakeConn{id: "u2"})

	require.NoError(t, m.SubmitScore(ctx, host.id, id, domain.ScoreReport{
		PlayerScore: 3, OpponentScore: 1, Winner: true,
	}))

	pending := host.received(match.EventScoreSubmitted)
	require.Len(t, pending, 1)
	require.JSONEq(t, `{"matchId":"`+id+`","pending":true}`, string(pending[0]))
	require.Empty(t, guest.received(match.EventScoreSubmitted))

	require.NoError(t, m.SubmitScore(ctx, guest.id, id, domain.ScoreReport{
		PlayerScore: 1, OpponentScore: 3,
	}))

	hostSeen := host.received(match.EventScoreSubmitted)
	require.Len(t, hostSeen, 2)
	require.JSONEq(t, `{"matchId":"`+id+`","approved":true}`, string(hostSeen[1]))

	guestSeen := guest.received(match.EventScoreSubmitted)
	require.Len(t, guestSeen, 1)
	require.JSONEq(t, `{"matchId":"`+id+`","approved":true}`, string(guestSeen[0]))

	// The match is destroyed and both identities are freed.
	require.Equal(t, 0, m.Len())
	require.False(t, m.Active(host.id))
	require.False(t, m.Active(guest.id))

	err := m.SubmitScore(ctx, host.id, id, domain.ScoreReport{PlayerScore: 3, OpponentScore: 1})
	require.Equal(t, errors.CodeNotFound, errors.Convert(err).Code,
		"a resolved match must reject further submissions")

	eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, approved, 1, "resolution must happen exactly once")
	require.Equal(t, host.id, approved[0].Winner)
	require.Equal(t, guest.id, approved[0].Loser)
	require.False(t, approved[0].Draw)
}

func TestManager_SubmitScore_WinnerByGuest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eb := event.NewBus()

	var (
		mu       sync.Mutex
		approved []domain.EventMatchApproved
	)
	eb.Subscribe(domain.EventNameMatchApproved, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		approved = append(approved, e.(domain.EventMatchApproved))
		mu.Unlock()
		return nil
	})

	m := match.NewManager(match.Config{EventBus: eb})
	id, host, guest := formMatch(t, m, &fakeConn{id: "u1"}, &fakeConn{id: "u2"})

	require.NoError(t, m.SubmitScore(ctx, host.id, id, domain.ScoreReport{
		PlayerScore: 0, OpponentScore: 2,
	}))
	require.NoError(t, m.SubmitScore(ctx, guest.id, id, domain.ScoreReport{
		PlayerScore: 2, OpponentScore: 0, Winner: true,
	}))

	eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, approved, 1)
	require.Equal(t, guest.id, approved[0].Winner)
	require.Equal(t, host.id, approved[0].Loser)
}

func TestManager_SubmitScore_Draw(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eb := event.NewBus()

	var (
		mu       sync.Mutex
		approved []domain.EventMatchApproved
	)
	eb.Subscribe(domain.EventNameMatchApproved, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		approved = append(approved, e.(domain.EventMatchApproved))
		mu.Unlock()
		return nil
	})

	m := match.NewManager(match.Config{EventBus: eb})
	id, host, guest := formMatch(t, m, &fakeConn{id: "u1"}, &fakeConn{id: "u2"})

	require.NoError(t, m.SubmitScore(ctx, host.id, id, domain.ScoreReport{
		PlayerScore: 2, OpponentScore: 2, Draw: true,
	}))
	require.NoError(t, m.SubmitScore(ctx, guest.id, id, domain.ScoreReport{
		PlayerScore: 2, OpponentScore: 2, Draw: true,
	}))

	eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, approved, 1)
	require.True(t, approved[0].Draw)
}

func TestManager_SubmitScore_Disputed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	eb := event.NewBus()

	published := false
	eb.Subscribe(domain.EventNameMatchApproved, func(ctx context.Context, e event.Event) error {
		published = true
		return nil
	})

	m := match.NewManager(match.Config{EventBus: eb})
	id, host, guest := formMatch(t, m, &fakeConn{id: "u1"}, &fakeConn{id: "u2"})

	require.NoError(t, m.SubmitScore(ctx, host.id, id, domain.ScoreReport{
		PlayerScore: 3, OpponentScore: 1, Winner: true,
	}))
	require.NoError(t, m.SubmitScore(ctx, guest.id, id, domain.ScoreReport{
		PlayerScore: 2, OpponentScore: 2,
	}))

	hostSeen := host.received(match.EventScoreSubmitted)
	require.JSONEq(t, `{"matchId":"`+id+`","disputed":true}`, string(hostSeen[len(hostSeen)-1]))

	guestSeen := guest.received(match.EventScoreSubmitted)
	require.JSONEq(t, `{"matchId":"`+id+`","disputed":true}`, string(guestSeen[len(guestSeen)-1]))

	// Disputed matches are retained for external resolution, and never
	// silently approved.
	require.Equal(t, 1, m.Len())
	require.True(t, m.Active(host.id))

	err := m.SubmitScore(ctx, host.id, id, domain.ScoreReport{PlayerScore: 3, OpponentScore: 1})
	require.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)

	eb.Stop()
	require.False(t, published)
}

func TestManager_SubmitScore_Resubmission(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := match.NewManager(match.Config{EventBus: event.NewBus()})
	id, host, _ := formMatch(t, m, &fakeConn{id: "u1"}, &fakeConn{id: "u2"})

	require.NoError(t, m.SubmitScore(ctx, host.id, id, domain.ScoreReport{
		PlayerScore: 3, OpponentScore: 1, Winner: true,
	}))

	err := m.SubmitScore(ctx, host.id, id, domain.ScoreReport{
		PlayerScore: 5, OpponentScore: 0, Winner: true,
	})
	require.Equal(t, errors.CodeAlreadyExists, errors.Convert(err).Code,
		"a recorded report is immutable")
}

func TestManager_SubmitScore_NonParticipant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := match.NewManager(match.Config{EventBus: event.NewBus()})
	id, _, _ := formMatch(t, m, &fakeConn{id: "u1"}, &fakeConn{id: "u2"})

	err := m.SubmitScore(ctx, "intruder", id, domain.ScoreReport{PlayerScore: 1})
	require.Equal(t, errors.CodePermissionDenied, errors.Convert(err).Code)
}

func TestManager_Disconnect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := match.NewManager(match.Config{EventBus: event.NewBus()})
	id, host, guest := formMatch(t, m, &fakeConn{id: "u1"}, &fakeConn{id: "u2"})

	m.Disconnect(ctx, guest.id)

	seen := host.received(match.EventOpponentDisconnected)
	require.Len(t, seen, 1, "the opponent gets exactly one notification")
	require.JSONEq(t, `{"matchId":"`+id+`"}`, string(seen[0]))

	require.Equal(t, 0, m.Len())
	require.False(t, m.Active(host.id))
	require.False(t, m.Active(guest.id))

	err := m.SubmitRoomID(ctx, host.id, id, "ABC123")
	require.Equal(t, errors.CodeNotFound, errors.Convert(err).Code,
		"an abandoned match id is invalid for further operations")

	// A second disconnect for the same pair is a no-op.
	m.Disconnect(ctx, host.id)
	require.Len(t, host.received(match.EventOpponentDisconnected), 1)
	require.Empty(t, guest.received(match.EventOpponentDisconnected))
}

func TestManager_Disconnect_DisputedFreesIdentities(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := match.NewManager(match.Config{EventBus: event.NewBus()})
	id, host, guest := formMatch(t, m, &fakeConn{id: "u1"}, &fakeConn{id: "u2"})

	require.NoError(t, m.SubmitScore(ctx, host.id, id, domain.ScoreReport{
		PlayerScore: 3, OpponentScore: 1, Winner: true,
	}))
	require.NoError(t, m.SubmitScore(ctx, guest.id, id, domain.ScoreReport{
		PlayerScore: 2, OpponentScore: 2,
	}))
	require.Equal(t, 1, m.Len())

	m.Disconnect(ctx, host.id)

	require.Equal(t, 0, m.Len())
	require.False(t, m.Active(guest.id))
	require.Empty(t, guest.received(match.EventOpponentDisconnected),
		"a disputed match is already terminal, no abandonment notification")
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestManager_ExpireStale(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &clock{t: time.Now()}
	m := match.NewManager(match.Config{
		EventBus:     event.NewBus(),
		RoomDeadline: time.Minute,
		Now:          clk.now,
	})

	id, host, guest := formMatch(t, m, &fakeConn{id: "u1"}, &fakeConn{id: "u2"})

	require.Zero(t, m.ExpireStale(ctx), "a fresh match is not reclaimed")

	clk.advance(2 * time.Minute)
	require.Equal(t, 1, m.ExpireStale(ctx))

	require.JSONEq(t, `{"matchId":"`+id+`"}`, string(host.received(match.EventMatchExpired)[0]))
	require.JSONEq(t, `{"matchId":"`+id+`"}`, string(guest.received(match.EventMatchExpired)[0]))
	require.Equal(t, 0, m.Len())
	require.False(t, m.Active(host.id))
}

func TestManager_ExpireStale_RoomActiveKept(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &clock{t: time.Now()}
	m := match.NewManager(match.Config{
		EventBus:     event.NewBus(),
		RoomDeadline: time.Minute,
		Now:          clk.now,
	})

	id, host, _ := formMatch(t, m, &fakeConn{id: "u1"}, &fakeConn{id: "u2"})
	require.NoError(t, m.SubmitRoomID(ctx, host.id, id, "ABC123"))

	clk.advance(2 * time.Minute)
	require.Zero(t, m.ExpireStale(ctx), "a match with a room id is never reclaimed by the janitor")
	require.Equal(t, 1, m.Len())
}
