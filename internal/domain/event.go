package domain

const (
	EventNameMatchApproved = "match.approved"
	EventNameRatingUpdated = "rating.updated"
)

// EventMatchApproved fires when both score reports agreed and the match
// resolved. For a draw, Winner and Loser carry the two identities in host,
// guest order and no rating change is implied.
type EventMatchApproved struct {
	MatchID string
	Winner  string
	Loser   string
	Draw    bool
}

func (EventMatchApproved) Name() string { return EventNameMatchApproved }

// EventRatingUpdated fires after the stats sink persisted a new rating.
type EventRatingUpdated struct {
	Identity string
	Rating   int
}

func (EventRatingUpdated) Name() string { return EventNameRatingUpdated }
