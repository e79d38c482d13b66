package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classroom-live-service/internal/app"
	"classroom-live-service/internal/config"
	"classroom-live-service/internal/domain"
	"classroom-live-service/internal/grading"
	"classroom-live-service/internal/infra/memory"
	pgstore "classroom-live-service/internal/infra/postgres"
	redisstore "classroom-live-service/internal/infra/redis"
	"classroom-live-service/internal/telemetry"
	transport "classroom-live-service/internal/transport/http"
	"classroom-live-service/internal/worker"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the classroom server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogger(os.Stderr, cfg)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient redis.UniversalClient
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := telemetry.MonitorRedis(redisClient); err != nil {
			return err
		}
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 6*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var rooms app.RoomRepository = memory.NewRoomStore()
	var quizRepo app.QuizRepository = memory.NewQuizRepository()
	if redisClient != nil {
		rooms = redisstore.NewRoomStore(redisClient, redisTTL)
		quizRepo = redisstore.NewQuizRepository(redisClient, config.TTLDuration(cfg.Quiz.TTL, redisTTL))
	}

	var results app.ResultStore = memory.NewResultStore()
	var bank app.QuizBank = memory.NewStaticBank(sampleQuizzes())
	if pool != nil {
		results = pgstore.NewResultStore(pool)
		bank = memory.NewCachedBank(pgstore.NewQuizBank(pool), config.TTLDuration(cfg.Quiz.BankTTL, 10*time.Minute))
	}

	var grader app.Grader = grading.NewRuleGrader()
	if cfg.Grading.URL != "" {
		grader = grading.NewHTTPGrader(cfg.Grading.URL, cfg.Grading.APIKey, &http.Client{})
	}
	gradeTimeout := config.TTLDuration(cfg.Grading.Timeout, 30*time.Second)

	quizzes := app.NewQuizSessions(quizRepo, cfg.Rooms.QuizVersions)
	controller := app.NewController(app.ControllerConfig{
		Registry: app.NewRegistry(rooms),
		Quizzes:  quizzes,
		Grader:   app.NewSubmissionGrader(quizzes, grader, gradeTimeout),
		Results:  results,
		Bank:     bank,
		// grading plus both persistence writes
		Pool: worker.NewPool(cfg.Grading.Workers, cfg.Grading.WorkersPerRoom, 2*gradeTimeout),
	})
	wsHandler := transport.NewWSHandler(controller, cfg.Rooms.SendBuffer)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.InfoContext(gctx, "server: listening",
			"port", finalPort, "redis", redisClient != nil, "postgres", pool != nil, "remote_grader", cfg.Grading.URL != "")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		controller.RunJanitor(gctx,
			config.TTLDuration(cfg.Rooms.SweepInterval, time.Minute),
			config.TTLDuration(cfg.Rooms.IdleTTL, 0))
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("server: shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		controller.Close()
		return err
	})
	return g.Wait()
}

// sampleQuizzes seeds the bank when no database is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"arith-1": {
			ID:     "arith-1",
			Materi: "Arithmetic warm-up",
			MultipleChoice: []domain.MultipleChoice{
				{Question: "2 + 2 = ?", Options: []string{"3", "4", "5"}, Correct: "4"},
				{Question: "9 - 3 = ?", Options: []string{"5", "6", "7"}, Correct: "6"},
			},
			ShortAnswer: []domain.ShortAnswer{
				{Question: "Name the result of a multiplication.", Answer: "product"},
			},
			Essay: []domain.Essay{
				{Question: "Explain why 0 times any number is 0.", Keywords: []string{"zero", "groups", "nothing"}},
			},
		},
	}
}
