// Package api exposes the participant protocol: a persistent websocket per
// participant carrying JSON events in both directions, plus small HTTP
// endpoints for health and the rating leaderboard.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/arenaplay/arena/internal/domain"
	"github.com/arenaplay/arena/internal/errors"
	"github.com/arenaplay/arena/internal/leaderboard"
	"github.com/arenaplay/arena/internal/match"
	"github.com/arenaplay/arena/internal/queue"
	"github.com/arenaplay/arena/internal/registry"
)

// Client-to-server event names.
const (
	EventFindMatch    = "find_match"
	EventSubmitRoomID = "submit_room_id"
	EventSubmitScore  = "submit_score"
	EventLeaveMatch   = "leave_match"
	EventCancelMatch  = "cancel_match"
)

// Server-to-client event names owned by this layer. Lifecycle notifications
// (match_found, receive_room_id, ...) are named in the match package.
const (
	EventQueueJoined = "queue_joined"
	EventQueueLeft   = "queue_left"
	EventError       = "error"
)

type Config struct {
	Router   *gin.Engine
	Registry *registry.Registry
	Queue    *queue.Queue
	Matches  *match.Manager

	// Leaderboard is nil when redis is not configured; the endpoint then
	// reports unavailable.
	Leaderboard *leaderboard.Service

	// RedisMode and PostgresMode are reported by the health endpoint.
	RedisMode    string
	PostgresMode string
}

type API struct {
	registry *registry.Registry
	queue    *queue.Queue
	matches  *match.Manager
	ls       *leaderboard.Service

	redisMode    string
	postgresMode string

	upgrader websocket.Upgrader
}

func New(c Config) *API {
	a := &API{
		registry:     c.Registry,
		queue:        c.Queue,
		matches:      c.Matches,
		ls:           c.Leaderboard,
		redisMode:    c.RedisMode,
		postgresMode: c.PostgresMode,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The session layer in front of this core owns origin policy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	c.Router.GET("/ws", a.handleWS)
	c.Router.GET("/healthz", a.handleHealthz)
	c.Router.GET("/leaderboard", a.handleLeaderboard)

	return a
}

func (a *API) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "OK",
		"timestamp":   time.Now().UnixMilli(),
		"connections": a.registry.Len(),
		"queued":      a.queue.Len(),
		"matches":     a.matches.Len(),
		"redis":       a.redisMode,
		"postgres":    a.postgresMode,
	})
}

func (a *API) handleLeaderboard(c *gin.Context) {
	if a.ls == nil {
		e := errors.New(errors.CodeUnavailable, errors.WithMessagef("leaderboard is not configured"))
		c.JSON(e.HTTPStatusCode(), e)
		return
	}

	var req struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		e := errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid limit"))
		c.JSON(e.HTTPStatusCode(), e)
		return
	}

	entries, err := a.ls.GetLeaderboard(c.Request.Context(), req.Limit)
	if err != nil {
		e := errors.Convert(err)
		c.JSON(e.HTTPStatusCode(), e)
		return
	}

	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

// handleWS upgrades the connection and serves it until the peer goes away.
// The identity arrives pre-authenticated; the uid query parameter stands in
// for the out-of-scope session layer.
func (a *API) handleWS(c *gin.Context) {
	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "api: websocket upgrade failed", "error", err)
		return
	}

	uid := c.Query("uid")
	if uid == "" {
		uid = fmt.Sprintf("demo_%d", time.Now().UnixMilli())
	}

	cl := newClient(uid, conn)
	if old := a.registry.Register(cl); old != nil {
		_ = old.Close()
	}

	slog.Info("api: participant connected", "participant", uid)
	a.serve(cl)
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (a *API) serve(cl *Client) {
	ctx := context.Background()
	defer a.teardown(ctx, cl)

	for {
		var env envelope
		if err := cl.conn.ReadJSON(&env); err != nil {
			slog.Info("api: participant disconnected", "participant", cl.Identity(), "reason", err)
			return
		}

		a.dispatch(ctx, cl, env)
	}
}

func (a *API) dispatch(ctx context.Context, cl *Client, env envelope) {
	switch env.Event {
	case EventFindMatch:
		a.handleFindMatch(cl, env.Data)
	case EventSubmitRoomID:
		a.handleSubmitRoomID(ctx, cl, env.Data)
	case EventSubmitScore:
		a.handleSubmitScore(ctx, cl, env.Data)
	case EventLeaveMatch:
		a.queue.Dequeue(cl.Identity())
	case EventCancelMatch:
		a.queue.Dequeue(cl.Identity())
		a.notify(cl, EventQueueLeft, struct{}{})
	default:
		a.fail(cl, fmt.Sprintf("unknown event %q", env.Event))
	}
}

func (a *API) handleFindMatch(cl *Client, data json.RawMessage) {
	var req struct {
		Rating *int `json:"rating"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Rating == nil {
		a.fail(cl, "invalid rating")
		return
	}

	if a.matches.Active(cl.Identity()) {
		a.fail(cl, "already in an active match")
		return
	}

	a.queue.Enqueue(domain.QueueEntry{
		Identity: cl.Identity(),
		Rating:   *req.Rating,
		Conn:     cl,
	})

	slog.Info("api: joined queue", "participant", cl.Identity(), "rating", *req.Rating)
	a.notify(cl, EventQueueJoined, gin.H{"rating": *req.Rating})
}

func (a *API) handleSubmitRoomID(ctx context.Context, cl *Client, data json.RawMessage) {
	var req struct {
		MatchID string `json:"matchId"`
		RoomID  string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		a.fail(cl, "invalid submit_room_id payload")
		return
	}

	if err := a.matches.SubmitRoomID(ctx, cl.Identity(), req.MatchID, req.RoomID); err != nil {
		a.fail(cl, errors.Convert(err).Message)
	}
}

func (a *API) handleSubmitScore(ctx context.Context, cl *Client, data json.RawMessage) {
	var req struct {
		MatchID       string `json:"matchId"`
		PlayerScore   int    `json:"playerScore"`
		OpponentScore int    `json:"opponentScore"`
		EvidenceRef   string `json:"evidenceRef"`
		IsWinner      bool   `json:"isWinner"`
		IsDraw        bool   `json:"isDraw"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		a.fail(cl, "invalid submit_score payload")
		return
	}

	report := domain.ScoreReport{
		PlayerScore:   req.PlayerScore,
		OpponentScore: req.OpponentScore,
		EvidenceRef:   req.EvidenceRef,
		Winner:        req.IsWinner,
		Draw:          req.IsDraw,
		SubmitTime:    time.Now(),
	}

	if err := a.matches.SubmitScore(ctx, cl.Identity(), req.MatchID, report); err != nil {
		a.fail(cl, errors.Convert(err).Message)
	}
}

// teardown runs once per connection: the participant leaves the queue, its
// active match (if any) is abandoned, and the registry entry is dropped. A
// handle replaced by a reconnect only closes itself; it must not tear down
// state now owned by the new handle.
func (a *API) teardown(ctx context.Context, cl *Client) {
	if cur, ok := a.registry.Lookup(cl.Identity()); !ok || cur == cl {
		a.queue.Dequeue(cl.Identity())
		a.matches.Disconnect(ctx, cl.Identity())
	}
	a.registry.Unregister(cl)
	_ = cl.Close()
}

func (a *API) fail(cl *Client, msg string) {
	a.notify(cl, EventError, gin.H{"message": msg})
}

func (a *API) notify(cl *Client, event string, data any) {
	if err := cl.Send(event, data); err != nil {
		slog.Warn("api: notify failed", "participant", cl.Identity(), "event", event, "error", err)
	}
}
