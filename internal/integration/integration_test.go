package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/hub"
	pgstore "live-quiz-service/internal/infra/postgres"
	pgmigrations "live-quiz-service/internal/infra/postgres/migrations"
	infraredis "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/notify"
	"live-quiz-service/internal/shuffle"
)

func TestQuizLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateSchema(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	store := pgstore.NewStore(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()
	quizzes := infraredis.NewQuizCache(store, redisClient, 5*time.Minute)

	scheduler := notify.NewScheduler(store, notify.LogSender{})
	scheduler.Start()
	defer scheduler.Stop()

	engine := app.NewEngine(app.Deps{
		Quizzes:      quizzes,
		Sessions:     store,
		Answers:      store,
		Events:       store,
		Participants: store,
		Notifier:     scheduler,
		Broadcast:    hub.New(),
		Orders:       shuffle.New(),
	})

	quiz, err := engine.CreateQuiz(ctx, domain.QuizInput{Title: "General knowledge", DurationSeconds: 300})
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	questions, err := engine.AddQuestions(ctx, quiz.ID, []domain.QuestionInput{
		{Text: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectOption: 1},
		{Text: "Capital of France?", Options: []string{"Paris", "Lyon"}, CorrectOption: 0},
	})
	if err != nil {
		t.Fatalf("add questions: %v", err)
	}

	alice, _, err := engine.CreateSession(ctx, quiz.ID, "Alice", "Red", "alice@example.com")
	if err != nil {
		t.Fatalf("alice joins: %v", err)
	}
	bob, _, err := engine.CreateSession(ctx, quiz.ID, "Bob", "Blue", "bob@example.com")
	if err != nil {
		t.Fatalf("bob joins: %v", err)
	}

	// Rejoin resolves to the same persisted session.
	again, _, err := engine.CreateSession(ctx, quiz.ID, "Alice", "Red", "ALICE@example.com")
	if err != nil {
		t.Fatalf("alice rejoins: %v", err)
	}
	if again.ID != alice.ID {
		t.Fatalf("rejoin created a new session: %s vs %s", again.ID, alice.ID)
	}

	if _, err := engine.StartQuiz(ctx, quiz.ID); err != nil {
		t.Fatalf("start quiz: %v", err)
	}

	// Bob answers both correctly and fast; Alice gets one, slowly.
	if _, err := engine.SubmitAnswer(ctx, bob.ID, questions[0].ID, questions[0].CorrectOptionID, 900); err != nil {
		t.Fatalf("bob answers: %v", err)
	}
	if _, err := engine.SubmitAnswer(ctx, bob.ID, questions[1].ID, questions[1].CorrectOptionID, 1100); err != nil {
		t.Fatalf("bob answers again: %v", err)
	}
	if _, err := engine.SubmitAnswer(ctx, alice.ID, questions[0].ID, questions[0].CorrectOptionID, 4000); err != nil {
		t.Fatalf("alice answers: %v", err)
	}

	// The unique constraint holds across the pool, not just in memory.
	if _, err := engine.SubmitAnswer(ctx, alice.ID, questions[0].ID, questions[0].CorrectOptionID, 100); err == nil {
		t.Fatalf("expected duplicate answer to be rejected")
	}

	if _, err := engine.LogEvent(ctx, alice.ID, domain.EventFullscreenExit); err != nil {
		t.Fatalf("log event: %v", err)
	}

	entries, err := engine.Rank(ctx, quiz.ID)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(entries) != 2 || entries[0].SessionID != bob.ID {
		t.Fatalf("expected bob leading, got %+v", entries)
	}
	if entries[1].FullscreenExits != 1 {
		t.Fatalf("expected alice's fullscreen exit recorded, got %+v", entries[1])
	}

	if _, err := engine.EndQuiz(ctx, quiz.ID); err != nil {
		t.Fatalf("end quiz: %v", err)
	}
	for _, id := range []string{alice.ID, bob.ID} {
		session, err := engine.Session(ctx, id)
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		if session.Status != domain.SessionEnded || session.EndAt == nil {
			t.Fatalf("expected ended session, got %+v", session)
		}
	}

	// Late joins bounce off the ended quiz.
	if _, _, err := engine.CreateSession(ctx, quiz.ID, "Carol", "", "carol@example.com"); err == nil {
		t.Fatalf("expected join after end to fail")
	}
}

func migrateSchema(t *testing.T, ctx context.Context, dsn string) {
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
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
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
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
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

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
