package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"classroom-live-service/internal/app"
	"classroom-live-service/internal/domain"
	"classroom-live-service/internal/grading"
	"classroom-live-service/internal/infra/memory"
	pgstore "classroom-live-service/internal/infra/postgres"
	pgmigrations "classroom-live-service/internal/infra/postgres/migrations"
	infraredis "classroom-live-service/internal/infra/redis"
	"classroom-live-service/internal/worker"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

type recorder struct {
	id     string
	frames chan domain.Envelope
}

func newRecorder(id string) *recorder {
	return &recorder{id: id, frames: make(chan domain.Envelope, 64)}
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Send(env domain.Envelope) bool {
	select {
	case r.frames <- env:
		return true
	default:
		return false
	}
}

func (r *recorder) await(t *testing.T, kind domain.EventKind) domain.Envelope {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case env := <-r.frames:
			if env.Type == kind {
				return env
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestQuizSurvivesRestartAndPersistsBothLogs(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuiz(t, ctx, pgURL, "bank-arith", domain.Quiz{
		Materi: "arithmetic",
		MultipleChoice: []domain.MultipleChoice{
			{Question: "2+2?", Options: []string{"3", "4", "5"}, Correct: "4"},
			{Question: "3*3?", Options: []string{"6", "9"}, Correct: "9"},
		},
	})

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS school_a`); err != nil {
		t.Fatalf("create tenant schema: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	bank := memory.NewCachedBank(pgstore.NewQuizBank(pool), time.Minute)
	results := pgstore.NewResultStore(pool)
	build := func() *app.Controller {
		quizzes := app.NewQuizSessions(infraredis.NewQuizRepository(redisClient, time.Hour), 3)
		return app.NewController(app.ControllerConfig{
			Registry: app.NewRegistry(infraredis.NewRoomStore(redisClient, time.Hour)),
			Quizzes:  quizzes,
			Grader:   app.NewSubmissionGrader(quizzes, grading.NewRuleGrader(), 5*time.Second),
			Results:  results,
			Bank:     bank,
			Pool:     worker.NewPool(4, 2, 0),
		})
	}

	const room = "school_a/7b"
	first := build()
	teacher := newRecorder("teacher")
	if _, err := first.Join(ctx, room, domain.Participant{Name: "Bu Sari", Role: domain.RoleTeacher, Conn: teacher}); err != nil {
		t.Fatalf("join teacher: %v", err)
	}
	view, err := first.StartBankQuiz(ctx, room, "teacher", "bank-arith")
	if err != nil {
		t.Fatalf("start bank quiz: %v", err)
	}
	raw, _ := json.Marshal(view)
	require.NotContains(t, string(raw), "correct")
	first.Close()

	// a fresh process: rooms are gone, the quiz master is still in Redis
	second := build()
	student := newRecorder("student")
	if _, err := second.Join(ctx, room, domain.Participant{Name: "Ana", Role: domain.RoleStudent, Conn: student}); err != nil {
		t.Fatalf("join student: %v", err)
	}
	sync := student.await(t, domain.EventSync).Payload.(domain.Sync)
	require.NotNil(t, sync.Quiz)
	require.Equal(t, view.Version, sync.Quiz.Version)

	err = second.Submit(ctx, room, "student", domain.Submission{
		Identity: domain.Identity{Email: "ana@example.com", Class: "7b"},
		Version:  view.Version,
		Answers:  domain.Answers{MultipleChoice: []string{"4", "6"}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	result := student.await(t, domain.EventGradeResult).Payload.(domain.GradedResult)
	require.Equal(t, 50, result.Score)
	require.False(t, result.Degraded)
	second.Close()

	var tenantScore, globalScore int
	var tenant string
	if err := pool.QueryRow(ctx, `SELECT score FROM school_a.quiz_results WHERE student_name=$1`, "Ana").Scan(&tenantScore); err != nil {
		t.Fatalf("read tenant log: %v", err)
	}
	if err := pool.QueryRow(ctx, `SELECT score, tenant FROM global_quiz_results WHERE student_name=$1`, "Ana").Scan(&globalScore, &tenant); err != nil {
		t.Fatalf("read global log: %v", err)
	}
	require.Equal(t, 50, tenantScore)
	require.Equal(t, 50, globalScore)
	require.Equal(t, "school_a", tenant)
}

func TestResultStoreGlobalWriteSurvivesMissingTenantSchema(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	seedQuiz(t, ctx, pgURL, "unused", domain.Quiz{})

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	err = pgstore.NewResultStore(pool).Save(ctx, "unprovisioned", domain.Identity{Name: "Budi"}, domain.GradedResult{
		Room:     "unprovisioned/1",
		Score:    70,
		GradedAt: time.Now(),
	})
	require.Error(t, err)

	var count int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM global_quiz_results WHERE tenant=$1`, "unprovisioned").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	require.Equal(t, 1, count)

	_, err = pgstore.NewQuizBank(pool).LoadQuiz(ctx, "nope")
	require.ErrorIs(t, err, domain.ErrBankQuizNotFound)
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "classroom", "POSTGRES_PASSWORD": "classroompass", "POSTGRES_DB": "classroom"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://classroom:classroompass@%s:%s/classroom?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

// seedQuiz applies migrations and stores quiz in the bank under id.
func seedQuiz(t *testing.T, ctx context.Context, dsn, id string, quiz domain.Quiz) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(quiz)
	if err != nil {
		t.Fatalf("marshal quiz: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO quizzes (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, id, string(data)); err != nil {
		t.Fatalf("insert quiz: %v", err)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
