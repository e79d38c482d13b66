package memory

import (
	"context"
	"sort"
	"sync"

	"classroom-live-service/internal/domain"
)

// QuizRepository keeps active master quizzes in process memory. Everything stored
// or returned is a deep copy, so callers cannot alter a kept master.
type QuizRepository struct {
	mu      sync.RWMutex
	quizzes map[string][]domain.Quiz // ascending by version
}

func NewQuizRepository() *QuizRepository {
	return &QuizRepository{quizzes: make(map[string][]domain.Quiz)}
}

func (r *QuizRepository) SaveQuiz(_ context.Context, roomID string, master domain.Quiz, keep int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions := append(r.quizzes[roomID], master.Clone())
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	if keep > 0 && len(versions) > keep {
		versions = append([]domain.Quiz(nil), versions[len(versions)-keep:]...)
	}
	r.quizzes[roomID] = versions
	return nil
}

func (r *QuizRepository) LoadQuiz(_ context.Context, roomID string, version int64) (domain.Quiz, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.quizzes[roomID]
	if len(versions) == 0 {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if version == 0 {
		return versions[len(versions)-1].Clone(), nil
	}
	for _, q := range versions {
		if q.Version == version {
			return q.Clone(), nil
		}
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

func (r *QuizRepository) LatestVersion(_ context.Context, roomID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.quizzes[roomID]
	if len(versions) == 0 {
		return 0, nil
	}
	return versions[len(versions)-1].Version, nil
}

func (r *QuizRepository) DeleteQuizzes(_ context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.quizzes, roomID)
	return nil
}
