package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"classroom-live-service/internal/domain"
)

// QuizRepository stores master quizzes per room and version (in-memory, Redis, etc).
type QuizRepository interface {
	// SaveQuiz stores master under its Version and prunes all but the newest keep versions.
	SaveQuiz(ctx context.Context, roomID string, master domain.Quiz, keep int) error
	// LoadQuiz returns the given version, or the newest when version is 0.
	// It returns domain.ErrQuizNotFound when nothing matches.
	LoadQuiz(ctx context.Context, roomID string, version int64) (domain.Quiz, error)
	// LatestVersion returns the newest stored version or 0.
	LatestVersion(ctx context.Context, roomID string) (int64, error)
	DeleteQuizzes(ctx context.Context, roomID string) error
}

// QuizSessions holds the active quiz of every room. Masters only leave it through
// GetMaster, which is reserved for grading; everything else sees Sanitize output.
type QuizSessions struct {
	repo  QuizRepository
	keep  int
	locks *keyedLocks
}

// NewQuizSessions keeps the newest keep versions per room so late submissions still
// find the quiz they answered. keep < 1 is treated as 1.
func NewQuizSessions(repo QuizRepository, keep int) *QuizSessions {
	if keep < 1 {
		keep = 1
	}
	return &QuizSessions{repo: repo, keep: keep, locks: newKeyedLocks()}
}

// StartQuiz stores master as the room's new active quiz and returns its public view.
func (s *QuizSessions) StartQuiz(ctx context.Context, roomID string, master domain.Quiz) (domain.SanitizedQuiz, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	latest, err := s.repo.LatestVersion(ctx, roomID)
	if err != nil {
		return domain.SanitizedQuiz{}, fmt.Errorf("latest quiz version: %w", err)
	}

	stored := master.Clone()
	stored.Version = latest + 1
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if err := s.repo.SaveQuiz(ctx, roomID, stored, s.keep); err != nil {
		return domain.SanitizedQuiz{}, fmt.Errorf("save quiz: %w", err)
	}
	return Sanitize(stored), nil
}

// GetMaster returns the stored master for roomID. found is false when the room has
// no quiz, or no longer retains the requested version.
func (s *QuizSessions) GetMaster(ctx context.Context, roomID string, version int64) (domain.Quiz, bool, error) {
	unlock := s.locks.RLock(roomID)
	defer unlock()

	master, err := s.repo.LoadQuiz(ctx, roomID, version)
	if errors.Is(err, domain.ErrQuizNotFound) {
		return domain.Quiz{}, false, nil
	}
	if err != nil {
		return domain.Quiz{}, false, fmt.Errorf("load quiz: %w", err)
	}
	return master, true, nil
}

// Current returns the public view of the room's newest quiz.
func (s *QuizSessions) Current(ctx context.Context, roomID string) (domain.SanitizedQuiz, bool, error) {
	master, found, err := s.GetMaster(ctx, roomID, 0)
	if err != nil || !found {
		return domain.SanitizedQuiz{}, false, err
	}
	return Sanitize(master), true, nil
}

// ClearQuiz drops every stored version for roomID.
func (s *QuizSessions) ClearQuiz(ctx context.Context, roomID string) error {
	_, err := s.ClearIdle(ctx, roomID, func() bool { return false })
	return err
}

// ClearIdle drops the quizzes of roomID unless occupied reports that someone is in
// the room again. occupied runs under the room's quiz lock, so a quiz started by a
// returning teacher is either seen as occupied or saved after the clear.
func (s *QuizSessions) ClearIdle(ctx context.Context, roomID string, occupied func() bool) (bool, error) {
	unlock := s.locks.Lock(roomID)
	defer unlock()
	if occupied() {
		return false, nil
	}
	if err := s.repo.DeleteQuizzes(ctx, roomID); err != nil {
		return false, err
	}
	return true, nil
}
