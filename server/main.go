package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voxlane/voxlane/asr"
	"github.com/voxlane/voxlane/auth"
	"github.com/voxlane/voxlane/schedule"
	"github.com/voxlane/voxlane/server/middleware"
	"github.com/voxlane/voxlane/store"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// sqliteFilePath extracts the filesystem path from a sqlite URL so the
// parent directory can be created before the driver opens it.
func sqliteFilePath(databaseURL string) string {
	p := strings.TrimPrefix(databaseURL, "sqlite://")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}

func openStore(ctx context.Context, log *logrus.Entry) (store.TaskStore, error) {
	if dbURL := os.Getenv("ASR_DATABASE_URL"); dbURL != "" {
		log.WithField("backend", "postgres").Info("opening task store")
		return store.NewPostgresStore(ctx, dbURL)
	}

	sqlitePath := envOr("ASR_SQLITE_PATH", "sqlite://./asr_data/database/storage.db?mode=rwc")
	if err := os.MkdirAll(filepath.Dir(sqliteFilePath(sqlitePath)), 0o755); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"backend": "sqlite",
		"path":    sqlitePath,
	}).Info("opening task store")
	return store.NewSQLiteStore(ctx, sqlitePath)
}

func openAuthStorage(log *logrus.Entry) (auth.Storage, error) {
	if addr := os.Getenv("ASR_REDIS_ADDR"); addr != "" {
		log.WithField("addr", addr).Info("using redis key storage")
		return auth.NewRedisStorage(addr, "", 0)
	}
	log.Info("using in-memory key storage")
	return auth.NewMemoryStorage(), nil
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.WithField("component", "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	audioDir := envOr("ASR_AUDIO_PATH", "./asr_data/audio/")
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		log.WithError(err).Fatal("failed to create audio directory")
	}

	taskStore, err := openStore(ctx, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open task store")
	}
	defer taskStore.Close()

	authStorage, err := openAuthStorage(log)
	if err != nil {
		log.WithError(err).Fatal("failed to open key storage")
	}
	defer authStorage.Close()
	authSvc := auth.NewService(authStorage)

	// a fresh admin key every boot; clients keep their own keys in Redis
	adminKey, err := authSvc.CreateKey(ctx, "bootstrap-admin", []auth.Permission{
		auth.PermissionAdmin,
		auth.PermissionTranscribe,
		auth.PermissionSpeakerDiarization,
		auth.PermissionEmotionRecognition,
	}, auth.DefaultRateLimit(), nil)
	if err != nil {
		log.WithError(err).Fatal("failed to create bootstrap admin key")
	}
	log.WithField("key", adminKey.Key).Warn("bootstrap admin key created")

	dispatcher := schedule.NewDispatcher()
	manager := schedule.NewManager(taskStore, dispatcher)

	whisperAddr := envOr("ASR_WHISPER_ADDR", "http://localhost:9000")
	manager.RegisterProcessor(schedule.NewTranscribeProcessor(asr.NewRemoteEngine(whisperAddr)))

	sched := schedule.NewScheduler(manager)
	workers := envIntOr("ASR_TRANSCRIBE_WORKERS", 2)
	for i := 0; i < workers; i++ {
		sched.SpawnWorker(ctx, store.KindTranscribe)
	}
	log.WithFields(logrus.Fields{
		"transcribe_workers": workers,
		"whisper_addr":       whisperAddr,
	}).Info("scheduler configured")

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	if days := envIntOr("ASR_RETENTION_DAYS", 0); days > 0 {
		go runRetention(ctx, manager, days)
	}

	api := NewAPI(manager, authSvc, audioDir)

	addr := envOr("ASR_LISTEN_ADDR", ":8080")
	srv := &http.Server{
		Addr:    addr,
		Handler: middleware.CORS(api.Routes()),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server failed")
	}

	// wait for in-flight tasks to finish
	<-schedDone
	log.Info("shutdown complete")
}

// runRetention deletes old terminal tasks once a day.
func runRetention(ctx context.Context, manager *schedule.Manager, days int) {
	log := logrus.WithField("component", "retention")
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := manager.Cleanup(ctx, days); err != nil {
				log.WithError(err).Error("retention cleanup failed")
			}
		}
	}
}
