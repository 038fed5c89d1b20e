// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/trendpulse/internal/aggregate"
	"github.com/hitoshi/trendpulse/internal/cache"
	"github.com/hitoshi/trendpulse/internal/config"
	"github.com/hitoshi/trendpulse/internal/handler"
	"github.com/hitoshi/trendpulse/internal/logger"
	"github.com/hitoshi/trendpulse/internal/metrics"
	"github.com/hitoshi/trendpulse/internal/middleware"
	"github.com/hitoshi/trendpulse/internal/security"
	"github.com/hitoshi/trendpulse/internal/source"
	"github.com/hitoshi/trendpulse/internal/worker/refresh"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

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

	return runServe(cfg)
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーとキャッシュ更新ワーカーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTextSanitizer()

	// 2. ソースアダプタの初期化
	// 設定済みURLはリクエスト送信前に静的検証し、危険なものを起動時に除外する
	mirrorURLs := validURLs(ssrfGuard, source.DefaultMirrors)
	feedURLs := validURLs(ssrfGuard, source.DefaultFeeds)

	mirrors := source.NewMirrorPool(
		mirrorURLs, source.MirrorMarker,
		ssrfGuard.NewSafeClient(cfg.ProbeTimeout), slog.Default(),
	)
	fetchClient := ssrfGuard.NewSafeClient(cfg.FetchTimeout)
	pool := source.NewPool(cfg.FetchMaxConcurrent)

	adapters := []source.Adapter{
		source.NewSearchAdapter(mirrors, fetchClient, pool, cfg.FetchMaxSize, slog.Default()),
		source.NewAccountsAdapter(mirrors, fetchClient, pool, nil, cfg.FetchMaxSize, slog.Default()),
		source.NewFeedAdapter(fetchClient, sanitizer, pool, feedURLs, cfg.FetchMaxSize, slog.Default()),
	}

	// 3. キャッシュとメトリクスの初期化
	resultCache := cache.New(cfg.CacheTTL, cfg.CacheMaxEntries)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 集約パイプラインの構築
	aggregator := aggregate.New(adapters, resultCache, collector, slog.Default(), aggregate.Config{
		GatherFactor:       cfg.GatherFactor,
		RelevanceFloor:     cfg.RelevanceFloor,
		QualityFloor:       cfg.QualityFloor,
		StalenessWindow:    cfg.StalenessWindow,
		EngagementOverride: cfg.EngagementOverride,
		RelevanceWeight:    cfg.RelevanceWeight,
		QualityWeight:      cfg.QualityWeight,
		EngagementDivisor:  cfg.EngagementDivisor,
		EngagementCap:      cfg.EngagementCap,
		QueryBoost:         cfg.QueryBoost,
		DiversityCap:       cfg.DiversityCap,
	})

	// 5. ルーターの構築
	// configのRateLimitGeneralはreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Aggregator:        aggregator,
		PostsConfig: handler.PostsHandlerConfig{
			DefaultLimit: cfg.DefaultLimit,
			MaxLimit:     cfg.MaxLimit,
			MaxQueryLen:  cfg.MaxQueryLen,
		},
		Cache:    resultCache,
		Gatherer: registry,
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// 7. キャッシュ更新ワーカーをバックグラウンドで起動
	if cfg.RefreshInterval > 0 {
		warmer := refresh.NewWarmer(aggregator, slog.Default(), cfg.RefreshLimit)
		go warmer.Start(workerCtx, cfg.RefreshInterval)
	}

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")
	cancelWorker()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// validURLs は静的検証を通過したURLのみを返す。
// 除外されたURLは警告ログに記録する。
func validURLs(guard security.SSRFGuardService, urls []string) []string {
	valid := make([]string, 0, len(urls))
	for _, u := range urls {
		if err := guard.ValidateURL(u); err != nil {
			slog.Warn("excluding unsafe configured URL",
				slog.String("url", u),
				slog.String("error", err.Error()),
			)
			continue
		}
		valid = append(valid, u)
	}
	return valid
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
