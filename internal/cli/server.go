package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/hub"
	"live-quiz-service/internal/infra/memory"
	pgstore "live-quiz-service/internal/infra/postgres"
	redisinfra "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/notify"
	"live-quiz-service/internal/shuffle"
	transport "live-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// store is the full persistence surface the server wires the engine to.
// Both the in-memory and the postgres implementations satisfy it.
type store interface {
	app.QuizRepository
	app.SessionRepository
	app.AnswerLedger
	app.EventLogRepository
	app.ParticipantRepository
	notify.JobStore
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

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

	var st store = memory.NewStore()
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		st = pgstore.NewStore(pool)
	}

	var quizzes app.QuizRepository = st
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ttl := config.Duration(cfg.Redis.TTL, 10*time.Minute)
		quizzes = redisinfra.NewQuizCache(st, redisClient, ttl)
	}

	scheduler := notify.NewScheduler(st, notify.LogSender{},
		notify.WithMaxAttempts(cfg.Notify.MaxAttempts),
		notify.WithRetryDelay(config.Duration(cfg.Notify.RetryDelay, 5*time.Second)))
	scheduler.Start()
	defer scheduler.Stop()

	broadcast := hub.New()
	engine := app.NewEngine(app.Deps{
		Quizzes:      quizzes,
		Sessions:     st,
		Answers:      st,
		Events:       st,
		Participants: st,
		Notifier:     scheduler,
		Broadcast:    broadcast,
		Orders:       shuffle.New(),
	}, app.WithStartLead(config.Duration(cfg.Quiz.StartLead, time.Second)))

	mux := http.NewServeMux()
	transport.NewHandler(engine, broadcast).Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting live quiz service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
