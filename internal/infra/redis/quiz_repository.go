package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"classroom-live-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuizRepository stores active master quizzes in Redis so a restarted instance can
// still grade submissions for a running quiz.
// Versions are kept as:  ZADD classroom:quiz:{room}:versions {version} {version}
// Masters are kept as:   SET  classroom:quiz:{room}:v{version} {json}
// Decoded masters are cached locally until their key would expire. Saving a version
// drops its cache entry, since a room whose keys expired starts counting at 1 again.
type QuizRepository struct {
	client redis.UniversalClient
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedMaster
}

type cachedMaster struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewQuizRepository(client redis.UniversalClient, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		client: client,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedMaster),
	}
}

func (r *QuizRepository) SaveQuiz(ctx context.Context, roomID string, master domain.Quiz, keep int) error {
	data, err := json.Marshal(master)
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}

	versionsKey := r.versionsKey(roomID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.masterKey(roomID, master.Version), data, r.ttl)
		pipe.ZAdd(ctx, versionsKey, redis.Z{Score: float64(master.Version), Member: master.Version})
		if r.ttl > 0 {
			pipe.Expire(ctx, versionsKey, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store quiz: %w", err)
	}
	r.forget(roomID, strconv.FormatInt(master.Version, 10))

	if keep <= 0 {
		return nil
	}
	stale, err := r.client.ZRange(ctx, versionsKey, 0, int64(-keep-1)).Result()
	if err != nil {
		return fmt.Errorf("list stale versions: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, v := range stale {
			pipe.Del(ctx, r.versionKey(roomID, v))
			pipe.ZRem(ctx, versionsKey, v)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("prune versions: %w", err)
	}
	r.forget(roomID, stale...)
	return nil
}

func (r *QuizRepository) LoadQuiz(ctx context.Context, roomID string, version int64) (domain.Quiz, error) {
	if version == 0 {
		latest, err := r.LatestVersion(ctx, roomID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if latest == 0 {
			return domain.Quiz{}, domain.ErrQuizNotFound
		}
		version = latest
	} else {
		// membership is authoritative; a cleared room must not be served from cache
		err := r.client.ZScore(ctx, r.versionsKey(roomID), strconv.FormatInt(version, 10)).Err()
		if errors.Is(err, redis.Nil) {
			return domain.Quiz{}, domain.ErrQuizNotFound
		}
		if err != nil {
			return domain.Quiz{}, fmt.Errorf("check version: %w", err)
		}
	}

	cacheKey := r.masterKey(roomID, version)
	now := r.clock()
	r.mu.RLock()
	if entry, ok := r.cache[cacheKey]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.quiz.Clone(), nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(cacheKey, func() (interface{}, error) {
		var get *redis.StringCmd
		var pttl *redis.DurationCmd
		_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			get = pipe.Get(ctx, cacheKey)
			pttl = pipe.PTTL(ctx, cacheKey)
			return nil
		})
		if err != nil && !errors.Is(err, redis.Nil) {
			return domain.Quiz{}, fmt.Errorf("get quiz: %w", err)
		}
		raw, err := get.Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.Quiz{}, domain.ErrQuizNotFound
		}
		if err != nil {
			return domain.Quiz{}, fmt.Errorf("get quiz: %w", err)
		}
		var quiz domain.Quiz
		if err := json.Unmarshal(raw, &quiz); err != nil {
			return domain.Quiz{}, fmt.Errorf("unmarshal quiz: %w", err)
		}

		// never outlive the key itself
		lifetime := r.ttlWithJitter()
		if left := pttl.Val(); left > 0 && left < lifetime {
			lifetime = left
		}
		r.mu.Lock()
		r.cache[cacheKey] = cachedMaster{quiz: quiz, expiresAt: r.clock().Add(lifetime)}
		r.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz).Clone(), nil
}

func (r *QuizRepository) LatestVersion(ctx context.Context, roomID string) (int64, error) {
	res, err := r.client.ZRevRangeWithScores(ctx, r.versionsKey(roomID), 0, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("latest version: %w", err)
	}
	if len(res) == 0 {
		return 0, nil
	}
	return int64(res[0].Score), nil
}

func (r *QuizRepository) DeleteQuizzes(ctx context.Context, roomID string) error {
	versionsKey := r.versionsKey(roomID)
	versions, err := r.client.ZRange(ctx, versionsKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("list versions: %w", err)
	}
	keys := []string{versionsKey}
	for _, v := range versions {
		keys = append(keys, r.versionKey(roomID, v))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete quizzes: %w", err)
	}
	r.forget(roomID, versions...)
	return nil
}

func (r *QuizRepository) forget(roomID string, versions ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range versions {
		delete(r.cache, r.versionKey(roomID, v))
	}
}

func (r *QuizRepository) versionsKey(roomID string) string {
	return "classroom:quiz:" + roomID + ":versions"
}

func (r *QuizRepository) masterKey(roomID string, version int64) string {
	return r.versionKey(roomID, strconv.FormatInt(version, 10))
}

func (r *QuizRepository) versionKey(roomID, version string) string {
	return "classroom:quiz:" + roomID + ":v" + version
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return time.Hour
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
