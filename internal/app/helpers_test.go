package app_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"classroom-live-service/internal/app"
	"classroom-live-service/internal/domain"
	"classroom-live-service/internal/grading"
	"classroom-live-service/internal/infra/memory"
	"classroom-live-service/internal/worker"
)

// fakeConn records every envelope it is sent.
type fakeConn struct {
	id string

	mu     sync.Mutex
	full   bool
	frames []domain.Envelope
}

func newConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(env domain.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.frames = append(c.frames, env)
	return true
}

func (c *fakeConn) of(kind domain.EventKind) []domain.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Envelope
	for _, f := range c.frames {
		if f.Type == kind {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) kinds() []domain.EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.EventKind, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, f.Type)
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func participant(name string, role domain.Role, conn domain.Conn) domain.Participant {
	return domain.Participant{Name: name, Role: role, Conn: conn}
}

type graderFunc func(ctx context.Context, master domain.Quiz, answers domain.Answers) (domain.Assessment, error)

func (f graderFunc) Grade(ctx context.Context, master domain.Quiz, answers domain.Answers) (domain.Assessment, error) {
	return f(ctx, master, answers)
}

type failingResults struct{}

func (failingResults) Save(context.Context, string, domain.Identity, domain.GradedResult) error {
	return errors.New("database is down")
}

type fixture struct {
	registry   *app.Registry
	quizzes    *app.QuizSessions
	repo       *memory.QuizRepository
	results    *memory.ResultStore
	controller *app.Controller
}

type fixtureOption func(*app.ControllerConfig, *fixture)

func withGrader(g app.Grader) fixtureOption {
	return func(c *app.ControllerConfig, f *fixture) {
		c.Grader = app.NewSubmissionGrader(f.quizzes, g, 2*time.Second)
	}
}

func withResults(r app.ResultStore) fixtureOption {
	return func(c *app.ControllerConfig, _ *fixture) { c.Results = r }
}

// withRooms wraps the room repository the registry runs on.
func withRooms(wrap func(app.RoomRepository) app.RoomRepository) fixtureOption {
	return func(c *app.ControllerConfig, f *fixture) {
		f.registry = app.NewRegistry(wrap(memory.NewRoomStore()))
		c.Registry = f.registry
	}
}

// reclaimHook runs after once the first time a room is reclaimed.
type reclaimHook struct {
	app.RoomRepository
	after func(roomID string)
}

func (h *reclaimHook) DeleteIfRetired(roomID string, cutoff time.Time) bool {
	deleted := h.RoomRepository.DeleteIfRetired(roomID, cutoff)
	if deleted && h.after != nil {
		after := h.after
		h.after = nil
		after(roomID)
	}
	return deleted
}

func newFixture(opts ...fixtureOption) *fixture {
	f := &fixture{
		registry: app.NewRegistry(memory.NewRoomStore()),
		repo:     memory.NewQuizRepository(),
		results:  memory.NewResultStore(),
	}
	f.quizzes = app.NewQuizSessions(f.repo, 3)

	cfg := app.ControllerConfig{
		Registry: f.registry,
		Quizzes:  f.quizzes,
		Grader:   app.NewSubmissionGrader(f.quizzes, grading.NewRuleGrader(), time.Second),
		Results:  f.results,
		Bank:     memory.NewStaticBank(map[string]domain.Quiz{"bank-1": arithmeticQuiz()}),
		Pool:     worker.NewPool(4, 2, 0),
	}
	for _, opt := range opts {
		opt(&cfg, f)
	}
	f.controller = app.NewController(cfg)
	return f
}

func arithmeticQuiz() domain.Quiz {
	return domain.Quiz{
		Materi: "arithmetic",
		MultipleChoice: []domain.MultipleChoice{
			{Question: "2+2?", Options: []string{"3", "4", "5"}, Correct: "4"},
		},
	}
}

func fullQuiz() domain.Quiz {
	return domain.Quiz{
		ID:     "photosynthesis",
		Materi: "biology",
		MultipleChoice: []domain.MultipleChoice{
			{Question: "Plants absorb?", Options: []string{"CO2", "O2"}, Correct: "CO2"},
			{Question: "Made in?", Options: []string{"roots", "leaves"}, Correct: "leaves"},
		},
		ShortAnswer: []domain.ShortAnswer{
			{Question: "Green pigment?", Answer: "chlorophyll"},
		},
		Essay: []domain.Essay{
			{Question: "Describe photosynthesis.", Keywords: []string{"light", "glucose"}},
			{Question: "Why do leaves fall?", Keywords: []string{"winter"}},
			{Question: "Free text"},
		},
	}
}
