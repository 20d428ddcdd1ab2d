// Command songsync-server runs the songsync remote backend.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/songsync-app/songsync/internal/remote/recordstore"
	"github.com/songsync-app/songsync/internal/remote/server"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	listen := flag.String("listen", envOrDefault("SONGSYNC_LISTEN", "0.0.0.0:8730"), "Listen address")
	dataDir := flag.String("data-dir", envOrDefault("SONGSYNC_DATA_DIR", "/var/lib/songsync-server"), "Data directory")
	token := flag.String("token", os.Getenv("SONGSYNC_TOKEN"), "Shared access token (generated if empty)")
	logLevel := flag.String("log-level", envOrDefault("SONGSYNC_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", envOrDefault("SONGSYNC_LOG_FORMAT", "json"), "Log format (json, text)")
	logFile := flag.String("log-file", os.Getenv("SONGSYNC_LOG_FILE"), "Log file with rotation (stdout if empty)")
	tlsCert := flag.String("tls-cert", os.Getenv("SONGSYNC_TLS_CERT"), "TLS certificate file")
	tlsKey := flag.String("tls-key", os.Getenv("SONGSYNC_TLS_KEY"), "TLS key file")
	flag.Parse()

	// Setup logger
	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if *logFile != "" {
		out = &lumberjack.Logger{
			Filename:   *logFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
		}
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	logger := slog.New(handler)

	// Validate data dir
	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "error", err, "path", *dataDir)
		os.Exit(1)
	}

	// Record store
	records, err := recordstore.NewBboltStore(filepath.Join(*dataDir, "records.db"))
	if err != nil {
		logger.Error("failed to open record store", "error", err)
		os.Exit(1)
	}
	defer records.Close()

	// Access token
	accessToken := *token
	if accessToken == "" {
		accessToken = generateToken()
		fmt.Fprintf(os.Stderr, "generated access token: %s\n", accessToken)
	}

	cfg := server.DefaultServerConfig()
	cfg.TokenHash = server.HashToken(accessToken)

	// Handler
	h, handlerCleanup := server.Handler(records, cfg, logger)
	defer handlerCleanup()

	// HTTP server
	srv := &http.Server{
		Addr:         *listen,
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return context.Background() },
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting songsync-server", "listen", *listen, "data_dir", *dataDir)
		var err error
		if *tlsCert != "" && *tlsKey != "" {
			err = srv.ListenAndServeTLS(*tlsCert, *tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func generateToken() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
