// Command example-app runs a small HTTP server instrumented with the
// Apitally agent. It exists for local development against a Hub (or a
// Hub mock via APITALLY_HUB_BASE_URL).
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	_ "go.uber.org/automaxprocs"

	apitally "github.com/apitally/apitally-go"
	"github.com/apitally/apitally-go/pkg/model"
	"github.com/apitally/apitally-go/pkg/nethttp"
)

func main() {
	clientID := os.Getenv("APITALLY_CLIENT_ID")
	env := os.Getenv("APITALLY_ENV")

	client, err := apitally.New(apitally.Config{
		ClientID: clientID,
		Env:      env,
		RequestLogging: &model.RequestLoggingConfig{
			Enabled:            true,
			LogQueryParams:     true,
			LogRequestHeaders:  true,
			LogRequestBody:     true,
			LogResponseHeaders: true,
			LogResponseBody:    true,
			LogException:       true,
		},
	})
	if err != nil {
		slog.Error("failed to initialize apitally", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /hello/{name}", func(w http.ResponseWriter, r *http.Request) {
		nethttp.SetConsumer(r, &model.Consumer{Identifier: "demo", Name: "Demo User"})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"hello": r.PathValue("name")})
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	client.SetStartupData(
		[]model.PathInfo{
			{Method: "GET", Path: "/hello/{name}"},
			{Method: "GET", Path: "/healthz"},
		},
		nethttp.Versions(""),
		"go:nethttp",
	)

	srv := &http.Server{
		Addr:    ":8080",
		Handler: nethttp.Middleware(client)(mux),
	}

	go func() {
		slog.Info("example app listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("shutdown signal received", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	client.Shutdown(shutdownCtx)
}
