// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mailcrypt-service/config"
	"mailcrypt-service/internal/handler"
	"mailcrypt-service/internal/infra"
	"mailcrypt-service/internal/pgp"
	"mailcrypt-service/internal/repository"
	"mailcrypt-service/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	cfg := config.Load()

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		return err
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// トレース情報付きロガーを設定
	infra.SetupLogger(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}
	slog.Info("configuration loaded", "config", cfg)

	db, err := infra.NewDB(cfg)
	if err != nil {
		return err
	}

	sealer, err := infra.NewSealer(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := sealer.Close(); closeErr != nil {
			slog.Error("failed to close sealer", "error", closeErr)
		}
	}()

	// DI
	vault := usecase.NewVault(repository.NewKeyRepository(db), sealer)
	lifecycle := usecase.NewLifecycleManager(vault,
		usecase.ProfileGenerator(pgp.Profile{Algorithm: cfg.KeyAlgorithm, RSABits: cfg.KeyRSABits}),
		usecase.WithWorkers(cfg.KeyGenWorkers),
		usecase.WithGenerationTimeout(cfg.KeyGenTimeout),
	)
	builder := usecase.NewEnvelopeBuilder(vault, usecase.NewVaultDirectory(vault),
		usecase.WithLookupTimeout(cfg.DirectoryLookupTimeout),
	)
	gate := usecase.NewDecryptionGate(vault)
	diagnostics := usecase.NewDiagnosticsService(lifecycle, vault)

	router := handler.NewRouter(
		handler.NewKeyHandler(lifecycle, vault),
		handler.NewEnvelopeHandler(builder, gate),
		handler.NewDiagnosticsHandler(diagnostics),
	)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		// 実行中の鍵生成ジョブを中断して終了を待つ
		if err := lifecycle.Shutdown(shutdownCtx); err != nil {
			slog.Error("key generation shutdown error", "error", err)
		}
	}()

	slog.Info("starting server", "port", cfg.Port)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	slog.Info("server stopped")
	return nil
}
