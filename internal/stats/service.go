// Package stats is the only bridge between match resolution and persistent
// profile storage. Updates are best-effort: a failed write is logged by the
// event bus and never rolls back a resolution already announced to the
// participants.
package stats

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arenaplay/arena/internal/domain"
	"github.com/arenaplay/arena/internal/event"
)

// Fixed rating adjustments. The reference design applies a flat reward and
// penalty; draws leave the rating untouched.
const (
	winDelta  = 25
	lossDelta = -15
	drawDelta = 0
)

// Promotion points are only tracked for divisions 4 and up. Divisions count
// down: 9 is better than 10, and a rating above 1600 promotes straight to 9.
const (
	pointsDivisionFloor = 4
	winPoints           = 3
	drawPoints          = 1
	promotionRating     = 1600
	promotionDivision   = 9
)

type Config struct {
	EventBus *event.Bus
	DB       *pgxpool.Pool
}

type Service struct {
	eb *event.Bus
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	s := &Service{
		eb: c.EventBus,
		db: c.DB,
	}

	s.eb.Subscribe(domain.EventNameMatchApproved, func(ctx context.Context, e event.Event) error {
		return s.ApplyOutcome(ctx, e.(domain.EventMatchApproved))
	})

	return s
}

type result int

const (
	resultWin result = iota
	resultDraw
	resultLoss
)

// ApplyOutcome updates both participants' profiles for a resolved match. Each
// side is updated independently so one missing profile does not block the
// other.
func (s *Service) ApplyOutcome(ctx context.Context, e domain.EventMatchApproved) error {
	if e.Draw {
		return stderrors.Join(
			s.apply(ctx, e.Winner, resultDraw),
			s.apply(ctx, e.Loser, resultDraw),
		)
	}

	return stderrors.Join(
		s.apply(ctx, e.Winner, resultWin),
		s.apply(ctx, e.Loser, resultLoss),
	)
}

func (s *Service) apply(ctx context.Context, identity string, res result) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const selStmt = `
SELECT rating, wins, draws, losses, matches_played, matches_left, points, division
FROM profiles
WHERE identity = $1
FOR UPDATE;`

	p := domain.Profile{Identity: identity}
	err = tx.QueryRow(ctx, selStmt, identity).Scan(
		&p.Rating, &p.Wins, &p.Draws, &p.Losses,
		&p.MatchesPlayed, &p.MatchesLeft, &p.Points, &p.Division,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		// Profile storage is an external collaborator; an unknown identity
		// is tolerated, not created.
		err = nil
		return tx.Rollback(ctx)
	}
	if err != nil {
		return fmt.Errorf("read profile %s: %w", identity, err)
	}

	advance(&p, res)

	const updStmt = `
UPDATE profiles
SET rating = $2, wins = $3, draws = $4, losses = $5, win_rate = $6,
    matches_played = $7, matches_left = $8, points = $9, division = $10
WHERE identity = $1;`

	_, err = tx.Exec(ctx, updStmt, identity,
		p.Rating, p.Wins, p.Draws, p.Losses, p.WinRate,
		p.MatchesPlayed, p.MatchesLeft, p.Points, p.Division,
	)
	if err != nil {
		return fmt.Errorf("update profile %s: %w", identity, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit profile %s: %w", identity, err)
	}

	s.eb.Publish(ctx, domain.EventRatingUpdated{
		Identity: identity,
		Rating:   p.Rating,
	})

	return nil
}

func advance(p *domain.Profile, res result) {
	switch res {
	case resultWin:
		p.Rating += winDelta
		p.Wins++
	case resultDraw:
		p.Rating += drawDelta
		p.Draws++
	case resultLoss:
		p.Rating += lossDelta
		p.Losses++
	}

	total := p.Wins + p.Draws + p.Losses
	if total > 0 {
		p.WinRate = int(math.Round(float64(p.Wins) / float64(total) * 100))
	}

	p.MatchesPlayed++
	if p.MatchesLeft > 0 {
		p.MatchesLeft--
	}

	if p.Division >= pointsDivisionFloor {
		switch res {
		case resultWin:
			p.Points += winPoints
		case resultDraw:
			p.Points += drawPoints
		}
	}

	if p.Rating > promotionRating && p.Division > promotionDivision {
		p.Division = promotionDivision
	}
}
