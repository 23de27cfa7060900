// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/balance_screen/internal/config"
	"github.com/relabs-tech/balance_screen/internal/sensors"
	"github.com/relabs-tech/balance_screen/internal/session"
)

// Prober checks sensor availability without starting a session.
type Prober interface {
	Probe(ctx context.Context) sensors.ProbeResult
}

type startRequest struct {
	UserID string `json:"user_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RunWeb serves the HTTP API and websocket feed until SIGINT/SIGTERM.
func RunWeb() error {
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := NewStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()

	return serve(ctx, stack)
}

// serve runs the HTTP server for stack until ctx is done.
func serve(ctx context.Context, stack *Stack) error {
	hub := NewHub(stack.Controller)
	stack.Controller.AddListener(hub.Broadcast)
	defer hub.Close()

	router := NewRouter(stack.Controller, stack.Sensors, hub)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", stack.Config.WebServerPort),
		Handler:           handlers.LoggingHandler(os.Stdout, router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Println("web: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// NewRouter builds the API. hub may be nil to leave out /ws.
func NewRouter(ctrl *session.Controller, prober Prober, hub *Hub) http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/session", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, ctrl.Snapshot())
	}).Methods(http.MethodGet)

	api.HandleFunc("/session/acknowledge", func(w http.ResponseWriter, _ *http.Request) {
		if err := ctrl.AcknowledgeInstructions(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ctrl.Snapshot())
	}).Methods(http.MethodPost)

	api.HandleFunc("/session/start", func(w http.ResponseWriter, r *http.Request) {
		var req startRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}
		if err := ctrl.Start(r.Context(), req.UserID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, ctrl.Snapshot())
	}).Methods(http.MethodPost)

	api.HandleFunc("/session/reset", func(w http.ResponseWriter, _ *http.Request) {
		ctrl.Reset()
		writeJSON(w, http.StatusOK, ctrl.Snapshot())
	}).Methods(http.MethodPost)

	api.HandleFunc("/session/result", func(w http.ResponseWriter, _ *http.Request) {
		rec, ok := ctrl.Result()
		if !ok {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "no completed session"})
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}).Methods(http.MethodGet)

	api.HandleFunc("/probe", func(w http.ResponseWriter, r *http.Request) {
		// A probe opens the source a second time; only allowed while no
		// session holds it.
		if s := ctrl.Snapshot().State; s != session.Idle && s != session.Instructions {
			writeError(w, fmt.Errorf("%w: probe in %s", session.ErrInvalidState, s))
			return
		}
		res := prober.Probe(r.Context())
		status := http.StatusOK
		if !res.Available {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, res)
	}).Methods(http.MethodGet)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())

	if hub != nil {
		r.HandleFunc("/ws", hub.ServeWS)
	}

	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(r)
}

// statusFor maps controller errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInstructionsNotAcknowledged), errors.Is(err, session.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, sensors.ErrSensorUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("json encode error: %v", err)
	}
}
