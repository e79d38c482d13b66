package memory

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"classroom-live-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

const maxMissTTL = 30 * time.Second

// BankLoader fetches prepared quizzes from a backing store (e.g., Postgres).
type BankLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// CachedBank fronts a BankLoader. Found quizzes are kept for ttl plus up to 10%
// jitter. Unknown ids are remembered for at most maxMissTTL, so repeated starts of a
// mistyped id stay off the database while a newly added quiz still shows up soon.
// Concurrent loads of one id share a single loader call. Loader errors other than
// domain.ErrBankQuizNotFound are not cached.
type CachedBank struct {
	loader BankLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu      sync.RWMutex
	entries map[string]bankEntry
}

// bankEntry is either a quiz or a remembered miss.
type bankEntry struct {
	quiz      domain.Quiz
	missing   bool
	expiresAt time.Time
}

func (e bankEntry) result() (domain.Quiz, error) {
	if e.missing {
		return domain.Quiz{}, domain.ErrBankQuizNotFound
	}
	return e.quiz.Clone(), nil
}

func NewCachedBank(loader BankLoader, ttl time.Duration) *CachedBank {
	return &CachedBank{
		loader:  loader,
		ttl:     ttl,
		clock:   time.Now,
		entries: make(map[string]bankEntry),
	}
}

func (b *CachedBank) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if entry, ok := b.lookup(quizID); ok {
		return entry.result()
	}

	v, err, _ := b.sf.Do(quizID, func() (interface{}, error) {
		if entry, ok := b.lookup(quizID); ok {
			return entry, nil
		}
		quiz, err := b.loader.LoadQuiz(ctx, quizID)
		if errors.Is(err, domain.ErrBankQuizNotFound) {
			return b.remember(quizID, bankEntry{missing: true}, min(b.ttl, maxMissTTL)), nil
		}
		if err != nil {
			return nil, err
		}
		return b.remember(quizID, bankEntry{quiz: quiz}, b.ttl+jitter(b.ttl)), nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return v.(bankEntry).result()
}

func (b *CachedBank) lookup(quizID string) (bankEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.entries[quizID]
	if !ok || !entry.expiresAt.After(b.clock()) {
		return bankEntry{}, false
	}
	return entry, true
}

// remember stores entry for lifetime; a non-positive lifetime caches nothing.
func (b *CachedBank) remember(quizID string, entry bankEntry, lifetime time.Duration) bankEntry {
	if lifetime <= 0 {
		return entry
	}
	entry.expiresAt = b.clock().Add(lifetime)
	b.mu.Lock()
	b.entries[quizID] = entry
	b.mu.Unlock()
	return entry
}

// jitter returns up to a tenth of ttl.
func jitter(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return rand.N(ttl/10 + 1)
}

// StaticBank is a loader backed by an in-memory map (useful for tests/demos).
type StaticBank struct {
	quizzes map[string]domain.Quiz
}

func NewStaticBank(quizzes map[string]domain.Quiz) *StaticBank {
	return &StaticBank{quizzes: quizzes}
}

func (b *StaticBank) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := b.quizzes[quizID]; ok {
		return quiz.Clone(), nil
	}
	return domain.Quiz{}, domain.ErrBankQuizNotFound
}
