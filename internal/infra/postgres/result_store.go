package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"classroom-live-service/internal/domain"
	"classroom-live-service/internal/telemetry"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ResultStore writes graded results twice: into the tenant's own schema and into
// the cross-tenant aggregate. The two writes are independent; neither rolls back
// or retries the other.
type ResultStore struct {
	pool *pgxpool.Pool

	// tenants whose quiz_results table is known to exist
	ready sync.Map
}

func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

func (s *ResultStore) Save(ctx context.Context, tenant string, who domain.Identity, result domain.GradedResult) error {
	id := uuid.New()

	var errs []error
	if err := s.saveTenant(ctx, id, tenant, who, result); err != nil {
		telemetry.PersistFailures.WithLabelValues("tenant").Inc()
		errs = append(errs, fmt.Errorf("tenant %s log: %w", tenant, err))
	}
	if err := s.saveGlobal(ctx, id, tenant, who, result); err != nil {
		telemetry.PersistFailures.WithLabelValues("global").Inc()
		errs = append(errs, fmt.Errorf("global log: %w", err))
	}
	if len(errs) == 0 {
		slog.DebugContext(ctx, "postgres: graded result saved", "id", id, "tenant", tenant, "name", who.Name)
	}
	return errors.Join(errs...)
}

func (s *ResultStore) saveTenant(ctx context.Context, id uuid.UUID, tenant string, who domain.Identity, r domain.GradedResult) error {
	if tenant == "" {
		return fmt.Errorf("%w: empty tenant", domain.ErrMalformedPayload)
	}
	table := pgx.Identifier{tenant, "quiz_results"}.Sanitize()
	if err := s.ensureTenantTable(ctx, tenant, table); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `INSERT INTO `+table+`
		(id, room, quiz_id, quiz_version, student_name, student_email, class_label, score, analysis, teacher_feedback, degraded, graded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, r.Room, r.QuizID, r.Version, who.Name, who.Email, who.Class, r.Score, r.Analysis, r.TeacherFeedback, r.Degraded, r.GradedAt)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

func (s *ResultStore) saveGlobal(ctx context.Context, id uuid.UUID, tenant string, who domain.Identity, r domain.GradedResult) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO global_quiz_results
		(id, tenant, room, quiz_id, student_name, student_email, class_label, score, degraded, graded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, tenant, r.Room, r.QuizID, who.Name, who.Email, who.Class, r.Score, r.Degraded, r.GradedAt)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

// ensureTenantTable creates the tenant log table once per process. The tenant schema
// itself is provisioned elsewhere.
func (s *ResultStore) ensureTenantTable(ctx context.Context, tenant, table string) error {
	if _, ok := s.ready.Load(tenant); ok {
		return nil
	}
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+table+` (
		id               UUID PRIMARY KEY,
		room             TEXT NOT NULL,
		quiz_id          TEXT NOT NULL DEFAULT '',
		quiz_version     BIGINT NOT NULL DEFAULT 0,
		student_name     TEXT NOT NULL,
		student_email    TEXT NOT NULL DEFAULT '',
		class_label      TEXT NOT NULL DEFAULT '',
		score            INTEGER NOT NULL CHECK (score BETWEEN 0 AND 100),
		analysis         TEXT NOT NULL DEFAULT '',
		teacher_feedback TEXT NOT NULL DEFAULT '',
		degraded         BOOLEAN NOT NULL DEFAULT FALSE,
		graded_at        TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("ensure table %s: %w", table, err)
	}
	s.ready.Store(tenant, struct{}{})
	return nil
}
