package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hitoshi/fitsync/internal/config"
	"github.com/hitoshi/fitsync/internal/database"
	"github.com/hitoshi/fitsync/internal/handler"
	"github.com/hitoshi/fitsync/internal/logger"
	"github.com/hitoshi/fitsync/internal/metrics"
	"github.com/hitoshi/fitsync/internal/middleware"
	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/orchestrator"
	"github.com/hitoshi/fitsync/internal/provider"
	"github.com/hitoshi/fitsync/internal/provider/otf"
	"github.com/hitoshi/fitsync/internal/provider/strava"
	"github.com/hitoshi/fitsync/internal/provider/whoop"
	"github.com/hitoshi/fitsync/internal/repository"
	"github.com/hitoshi/fitsync/internal/token"
	"github.com/hitoshi/fitsync/internal/user"
	"github.com/hitoshi/fitsync/internal/vault"
	"github.com/hitoshi/fitsync/internal/worker/schedule"
	"github.com/hitoshi/fitsync/internal/workout"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Init はアプリケーションの初期化を行う。
// .envファイルと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envファイルと環境変数から設定を読み込む
	if err := config.LoadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
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
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandSync:
		return runSync(ctx, cfg, os.Stdout)
	case CommandMigrate:
		return runMigrate(cfg, args[1:])
	default:
		return runServe(ctx, cfg)
	}
}

// components はserve/worker/syncで共有するワイヤリング済みの依存関係。
type components struct {
	orchestrator *orchestrator.Orchestrator
	linker       *token.Linker
	users        *user.Service
	registry     *prometheus.Registry
}

// buildComponents はリポジトリ、プロバイダークライアント、ドメインサービスを組み立てる。
func buildComponents(cfg *config.Config, db *sql.DB) (*components, error) {
	log := slog.Default()

	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	tokenRepo := repository.NewPostgresTokenRepo(db)
	workoutRepo := repository.NewPostgresWorkoutRepo(db)
	hrvRepo := repository.NewPostgresHrvRepo(db)
	credentialRepo := repository.NewPostgresClassCredentialRepo(db)

	// 2. メトリクスの初期化
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. プロバイダークライアントの初期化
	// プロバイダーごとにレートリミッターを分け、他プロバイダーの待ちに影響されないようにする
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}
	whoopClient := whoop.NewClient(whoop.Config{
		ClientID:     cfg.WhoopClientID,
		ClientSecret: cfg.WhoopClientSecret,
		RedirectURL:  cfg.WhoopRedirectURL,
	}, provider.NewClient(model.ProviderWhoop, httpClient, provider.NewLimiter(cfg.ProviderRateLimit)))
	stravaClient := strava.NewClient(strava.Config{
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
		RedirectURL:  cfg.StravaRedirectURL,
	}, provider.NewClient(model.ProviderStrava, httpClient, provider.NewLimiter(cfg.ProviderRateLimit)))
	otfClient := otf.NewClient(cfg.OTFBaseURL,
		provider.NewClient(model.ProviderOTF, httpClient, provider.NewLimiter(cfg.ProviderRateLimit)))

	oauthProviders := []token.OAuthProvider{whoopClient, stravaClient}

	// 4. ドメインサービスの組み立て
	deps := orchestrator.Deps{
		Users:       userRepo,
		Credentials: credentialRepo,
		Tokens:      token.NewManager(tokenRepo, oauthProviders, collector, log),
		Reconciler:  workout.NewReconciler(workoutRepo, hrvRepo, cfg.ClassMarker, log),
		Whoop:       whoopClient,
		Strava:      stravaClient,
		Classes:     otfClient,
		Recorder:    collector,
		Logger:      log,
	}

	// 鍵が未設定の場合はクラス予約サイト連携を無効にする
	var encrypter user.Encrypter
	if cfg.OTFEncryptionKey != nil {
		v, err := vault.New(cfg.OTFEncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vault: %w", err)
		}
		deps.Vault = v
		encrypter = v
	} else {
		log.Warn("OTF_ENCRYPTION_KEY が未設定のため、クラス予約サイト連携は無効です")
	}

	return &components{
		orchestrator: orchestrator.New(deps),
		linker:       token.NewLinker(tokenRepo, userRepo, oauthProviders, cfg.StateSecret, cfg.StateTTL, log),
		users:        user.NewService(userRepo, credentialRepo, encrypter),
		registry:     registry,
	}, nil
}

// openDB はDB接続を開き疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := buildComponents(cfg, db)
	if err != nil {
		return err
	}

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:      slog.Default(),
		CronSecret:  cfg.CronSecret,
		RateLimiter: rateLimiter,
		DB:          db,
		Metrics:     metrics.Handler(c.registry),
		Sync:        c.orchestrator,
		Users:       c.users,
		Linker:      c.linker,
	})

	// 同期トリガーは全ユーザー分の外部API呼び出しを含むため書き込みタイムアウトを長めにとる
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// SYNC_SCHEDULEに従って同期を定期実行し、ctxがキャンセルされると停止する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := buildComponents(cfg, db)
	if err != nil {
		return err
	}

	scheduler, err := schedule.NewScheduler(c.orchestrator, cfg.SyncSchedule, slog.Default())
	if err != nil {
		return err
	}

	slog.Info("worker starting", slog.String("schedule", cfg.SyncSchedule))

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runSync は同期を1回実行し、レポートをJSONでoutに書き出す。
// ユーザー一覧の取得に失敗した場合のみエラーを返す。
func runSync(ctx context.Context, cfg *config.Config, out io.Writer) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := buildComponents(cfg, db)
	if err != nil {
		return err
	}

	report := c.orchestrator.Run(ctx)
	return writeReport(out, report)
}

// writeReport はレポートを整形済みJSONで書き出す。
func writeReport(out io.Writer, report *orchestrator.Report) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if !report.OK {
		return fmt.Errorf("sync failed: %s", report.Error)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// 引数なしの場合はすべての未適用マイグレーションを適用し、
// "down [N]" の場合は直近N件を取り消す。
func runMigrate(cfg *config.Config, args []string) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	down, steps, err := parseMigrateArgs(args)
	if err != nil {
		return err
	}

	if down {
		if err := database.Rollback(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back", slog.Int("steps", steps))
		return nil
	}

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// parseMigrateArgs はmigrateサブコマンドの引数を解析する。
func parseMigrateArgs(args []string) (down bool, steps int, err error) {
	if len(args) == 0 || args[0] == "up" {
		return false, 0, nil
	}
	if args[0] != "down" {
		return false, 0, fmt.Errorf("unknown migrate direction %q", args[0])
	}
	steps = 1
	if len(args) > 1 {
		steps, err = strconv.Atoi(args[1])
		if err != nil || steps <= 0 {
			return false, 0, fmt.Errorf("invalid rollback steps %q", args[1])
		}
	}
	return true, steps, nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
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
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
