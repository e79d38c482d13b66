package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"classroom-live-service/internal/domain"
	"classroom-live-service/internal/telemetry"
	"classroom-live-service/internal/worker"
)

// ResultStore persists graded results (tenant log plus global aggregate).
type ResultStore interface {
	Save(ctx context.Context, tenant string, who domain.Identity, result domain.GradedResult) error
}

// QuizBank loads prepared quizzes by id.
type QuizBank interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

type ControllerConfig struct {
	Registry *Registry
	Quizzes  *QuizSessions
	Grader   *SubmissionGrader
	Results  ResultStore
	Bank     QuizBank
	Pool     *worker.Pool
}

// Controller wires inbound session events to the room registry, the quiz store,
// the grader and persistence. Failures in the grading path never reach participants
// except as a degraded result.
type Controller struct {
	registry *Registry
	quizzes  *QuizSessions
	relay    *Coordinator
	grader   *SubmissionGrader
	results  ResultStore
	bank     QuizBank
	pool     *worker.Pool
	now      func() time.Time
}

func NewController(c ControllerConfig) *Controller {
	pool := c.Pool
	if pool == nil {
		pool = worker.NewPool(0, 0, 0)
	}
	return &Controller{
		registry: c.Registry,
		quizzes:  c.Quizzes,
		relay:    NewCoordinator(c.Registry),
		grader:   c.Grader,
		results:  c.Results,
		bank:     c.Bank,
		pool:     pool,
		now:      time.Now,
	}
}

// Join admits p, sends it a private sync of the room and announces attendance.
func (c *Controller) Join(ctx context.Context, roomID string, p domain.Participant) (domain.Attendance, error) {
	if roomID == "" || strings.TrimSpace(p.Name) == "" || !p.Role.Valid() {
		return domain.Attendance{}, fmt.Errorf("%w: join needs room, name and role", domain.ErrMalformedPayload)
	}

	attendance := c.registry.Join(roomID, p)

	sync := c.registry.Snapshot(roomID)
	quiz, found, err := c.quizzes.Current(ctx, roomID)
	if err != nil {
		slog.WarnContext(ctx, "controller: load current quiz for sync failed", "room", roomID, "error", err)
	}
	if found {
		sync.Quiz = &quiz
	}
	c.relay.SendTo(roomID, p.ConnID(), domain.EventSync, sync)
	c.relay.AnnounceAttendance(roomID)

	slog.InfoContext(ctx, "controller: participant joined",
		"room", roomID, "name", p.Name, "role", p.Role, "present", len(attendance.Participants))
	return attendance, nil
}

// Leave removes (name, role) from the room. connID guards against a stale connection
// removing a newer one; pass "" for an explicit leave.
func (c *Controller) Leave(ctx context.Context, roomID, name string, role domain.Role, connID string) domain.Attendance {
	attendance, removed := c.registry.Leave(roomID, name, role, connID)
	if removed {
		c.relay.AnnounceAttendance(roomID)
		slog.InfoContext(ctx, "controller: participant left",
			"room", roomID, "name", name, "role", role, "present", len(attendance.Participants))
	}
	return attendance
}

// Chat echoes a message to the whole room, sender included. User and role are
// taken from the sender's membership.
func (c *Controller) Chat(ctx context.Context, roomID, connID string, msg domain.ChatMessage) error {
	sender, ok := c.registry.Member(roomID, connID)
	if !ok {
		return domain.ErrParticipantNotFound
	}
	if strings.TrimSpace(msg.Msg) == "" {
		return fmt.Errorf("%w: empty chat message", domain.ErrMalformedPayload)
	}
	msg.User = sender.Name
	msg.Role = sender.Role
	c.relay.Publish(roomID, domain.EventChat, msg, connID)
	return nil
}

// StartQuiz stores master as the room's active quiz (replacing any previous one)
// and fans the sanitized view out to everyone but the issuing teacher.
func (c *Controller) StartQuiz(ctx context.Context, roomID, connID string, master domain.Quiz) (domain.SanitizedQuiz, error) {
	sender, ok := c.registry.Member(roomID, connID)
	if !ok {
		return domain.SanitizedQuiz{}, domain.ErrParticipantNotFound
	}
	if sender.Role != domain.RoleTeacher {
		return domain.SanitizedQuiz{}, fmt.Errorf("%w: only teachers start quizzes", domain.ErrForbidden)
	}

	view, err := c.quizzes.StartQuiz(ctx, roomID, master)
	if err != nil {
		return domain.SanitizedQuiz{}, err
	}
	c.relay.Publish(roomID, domain.EventQuizStart, view, connID)

	slog.InfoContext(ctx, "controller: quiz started",
		"room", roomID, "quiz", view.ID, "version", view.Version,
		"mcq", len(view.MultipleChoice), "short", len(view.ShortAnswer), "essay", len(view.Essay))
	return view, nil
}

// StartBankQuiz starts a prepared quiz loaded from the quiz bank.
func (c *Controller) StartBankQuiz(ctx context.Context, roomID, connID, quizID string) (domain.SanitizedQuiz, error) {
	if c.bank == nil {
		return domain.SanitizedQuiz{}, domain.ErrBankQuizNotFound
	}
	master, err := c.bank.LoadQuiz(ctx, quizID)
	if err != nil {
		return domain.SanitizedQuiz{}, err
	}
	return c.StartQuiz(ctx, roomID, connID, master)
}

// Submit queues sub for grading and returns immediately. The grade is computed and
// persisted even if the submitting connection goes away meanwhile. The submitter's
// name always comes from its membership; only email and class are taken from sub.
func (c *Controller) Submit(ctx context.Context, roomID, connID string, sub domain.Submission) error {
	sender, ok := c.registry.Member(roomID, connID)
	if !ok {
		return domain.ErrParticipantNotFound
	}
	sub.Name = sender.Name
	sub.Room = roomID
	sub.ConnID = connID

	c.pool.Go(ctx, roomID, "grade-submission", func(ctx context.Context) error {
		c.processSubmission(ctx, sub)
		return nil
	})
	return nil
}

func (c *Controller) processSubmission(ctx context.Context, sub domain.Submission) {
	result := c.grader.Grade(ctx, sub.Room, sub)

	if err := c.results.Save(ctx, domain.TenantOf(sub.Room), sub.Identity, result); err != nil {
		slog.ErrorContext(ctx, "controller: persist graded result failed",
			"room", sub.Room, "name", sub.Name, "score", result.Score, "error", err)
	}

	c.registry.RecordScore(sub.Room, domain.ScoreboardEntry{
		Name:     sub.Name,
		Score:    result.Score,
		GradedAt: result.GradedAt,
	})
	c.relay.Publish(sub.Room, domain.EventScoreUpdate, domain.ScoreUpdate{
		Name:            sub.Name,
		Score:           result.Score,
		Analysis:        result.Analysis,
		TeacherFeedback: result.TeacherFeedback,
		Timestamp:       result.GradedAt,
	}, sub.ConnID)
	c.relay.SendTo(sub.Room, sub.ConnID, domain.EventGradeResult, result)
}

// Relay forwards an opaque camera or slide payload to everyone but the sender.
func (c *Controller) Relay(ctx context.Context, roomID, connID string, kind domain.EventKind, payload json.RawMessage) error {
	if kind != domain.EventCamera && kind != domain.EventSlide {
		return fmt.Errorf("%w: %q is not relayable", domain.ErrMalformedPayload, kind)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty %s payload", domain.ErrMalformedPayload, kind)
	}
	if _, ok := c.registry.Member(roomID, connID); !ok {
		return domain.ErrParticipantNotFound
	}
	if kind == domain.EventSlide {
		c.registry.RememberSlide(roomID, payload)
	}
	c.relay.Publish(roomID, kind, payload, connID)
	return nil
}

// State reports where roomID is in its lifecycle.
func (c *Controller) State(ctx context.Context, roomID string) domain.RoomState {
	if !c.registry.Occupied(roomID) {
		return domain.RoomEmpty
	}
	if _, found, err := c.quizzes.GetMaster(ctx, roomID, 0); err == nil && found {
		return domain.RoomQuizRunning
	}
	return domain.RoomActive
}

// Sweep reclaims rooms empty since before cutoff and clears their quizzes. A room
// that was joined again between reclaim and clear keeps its quizzes.
func (c *Controller) Sweep(ctx context.Context, cutoff time.Time) []string {
	reclaimed := c.registry.Sweep(cutoff)
	for _, roomID := range reclaimed {
		cleared, err := c.quizzes.ClearIdle(ctx, roomID, func() bool {
			return c.registry.Occupied(roomID)
		})
		if err != nil {
			slog.ErrorContext(ctx, "controller: clear quiz of reclaimed room failed", "room", roomID, "error", err)
			continue
		}
		slog.InfoContext(ctx, "controller: room reclaimed", "room", roomID, "quiz_cleared", cleared)
	}
	return reclaimed
}

// RunJanitor sweeps every interval until ctx is done. idleTTL <= 0 keeps empty
// rooms resident forever.
func (c *Controller) RunJanitor(ctx context.Context, interval, idleTTL time.Duration) {
	if idleTTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx, c.now().Add(-idleTTL))
		}
	}
}

// Close waits for in-flight grading to finish.
func (c *Controller) Close() {
	c.pool.Stop()
	telemetry.RoomsActive.Set(0)
}
