package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/visadesk/internal/auth"
	"github.com/hitoshi/visadesk/internal/config"
	"github.com/hitoshi/visadesk/internal/database"
	"github.com/hitoshi/visadesk/internal/directory"
	"github.com/hitoshi/visadesk/internal/handler"
	"github.com/hitoshi/visadesk/internal/logger"
	"github.com/hitoshi/visadesk/internal/metrics"
	"github.com/hitoshi/visadesk/internal/middleware"
	"github.com/hitoshi/visadesk/internal/repository"
	"github.com/hitoshi/visadesk/internal/security"
	"github.com/hitoshi/visadesk/internal/visa"
)

// defaultPort はSERVER_PORT未設定時のポート。
const defaultPort = "5001"

// minProductionSecretLength は本番環境で許容するJWT_SECRETの最小バイト数。
const minProductionSecretLength = 32

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := checkProductionConfig(cfg); err != nil {
		return nil, err
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// checkProductionConfig は本番環境でのみ求める設定を検証する。
func checkProductionConfig(cfg *config.Config) error {
	if !cfg.IsProduction() {
		return nil
	}
	if len(cfg.JWTSecret) < minProductionSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes in production", minProductionSecretLength)
	}
	return nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = defaultPort
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("env", cfg.AppEnv),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	}
}

// server はserveモードで組み立てた依存関係をまとめる。
type server struct {
	db          *sql.DB
	redis       *redis.Client
	rateLimiter *middleware.RateLimiter
	handler     http.Handler
}

// close はサーバーが保持するリソースを解放する。
func (s *server) close() {
	s.rateLimiter.Stop()
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	if err := s.db.Close(); err != nil {
		slog.Warn("failed to close database", slog.String("error", err.Error()))
	}
}

// buildServer は設定とDB接続から全依存関係をワイヤリングする。
func buildServer(cfg *config.Config, db *sql.DB) (*server, error) {
	// 1. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	visaRepo := repository.NewPostgresVisaRepo(db)

	// 2. 申請者情報ディレクトリ（REDIS_URL未設定時はキャッシュなし）
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		client, err := directory.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		redisClient = client
	}
	owners := directory.NewCachedDirectory(userRepo, redisClient, cfg.OwnerCacheTTL)

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービス
	verifier := auth.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	authService := auth.NewService(verifier, userRepo)
	visaService := visa.NewService(
		visaRepo, owners,
		security.NewMarkupDetector(), security.NewDocumentURLValidator(),
		collector,
	)

	// 5. ルーター
	rl := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitSubmit),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		IdentityResolver:   authService,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        rl,
		Logger:             slog.Default(),
		StatusObserver:     collector,
		HealthChecker:      db,
		MetricsGatherer:    registry,
		VisaService:        visaService,
	})

	return &server{
		db:          db,
		redis:       redisClient,
		rateLimiter: rl,
		handler:     router,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return err
	}
	slog.Info("database connection established")

	srv, err := buildServer(cfg, db)
	if err != nil {
		db.Close()
		return err
	}
	defer srv.close()

	return serveHTTP(ctx, ":"+cfg.ServerPort, srv.handler)
}

// serveHTTP はctxがキャンセルされるまでHTTPサーバーを稼働させる。
func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はすべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はdistroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
