// Package api is the thin HTTP gateway in front of the pipeline: intent
// intake, status queries, cancellation, gas quotes and the operational
// endpoints. Heavier surfaces (auth, rate limiting) live outside.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/prometheus"
	"github.com/rs/cors"

	"github.com/mantlenetworkio/relayer/relayer"
)

var DefaultConfig = Config{
	ListenAddr:   ":8080",
	CORSOrigins:  []string{"*"},
	MaxPageLimit: 100,
	ReadTimeout:  30 * time.Second,
	WriteTimeout: 30 * time.Second,
}

type Config struct {
	ListenAddr   string
	CORSOrigins  []string
	MaxPageLimit int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c *Config) String() string {
	return fmt.Sprintf("ListenAddr: %s, CORSOrigins: %v, MaxPageLimit: %d", c.ListenAddr, c.CORSOrigins, c.MaxPageLimit)
}

// Server serves the gateway endpoints over a stdlib mux wrapped with CORS.
type Server struct {
	config  Config
	relayer *relayer.Relayer
	httpSrv *http.Server
	started time.Time
}

func NewServer(r *relayer.Relayer, config Config) *Server {
	s := &Server{config: config, relayer: r}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /transactions", s.handleSubmit)
	mux.HandleFunc("GET /transactions/{id}", s.handleStatus)
	mux.HandleFunc("POST /transactions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /users/{address}/transactions", s.handleList)
	mux.HandleFunc("GET /gas-price", s.handleGasPrice)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.Handle("GET /metrics", prometheus.Handler(metrics.DefaultRegistry))

	handler := cors.New(cors.Options{
		AllowedOrigins: config.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(mux)

	s.httpSrv = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.started = time.Now()
	go func() {
		log.Info("Gateway listening", "addr", s.config.ListenAddr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Gateway server failed", "err", err)
		}
	}()
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// writeJSON renders a response body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn("Response encoding failed", "err", err)
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError renders a client error with one of the documented codes.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}
