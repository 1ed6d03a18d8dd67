package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/picogrid/legion-missions/pkg/engine"
	"github.com/picogrid/legion-missions/pkg/logger"
	"github.com/picogrid/legion-missions/pkg/mission"
	"github.com/picogrid/legion-missions/pkg/telemetry"
)

const (
	DefaultAddr     = ":8080"
	shutdownTimeout = 5 * time.Second
	maxCommandBytes = 1 << 20
)

// Options wires the HTTP surface to the engine. Hub and Gate are optional;
// their routes are left out when nil.
type Options struct {
	Addr   string
	Engine *engine.Engine
	Mux    *telemetry.Multiplexer
	Hub    *telemetry.Hub
	Gate   *mission.ThresholdGate
}

// Server exposes missions, commands, telemetry and metrics over HTTP
type Server struct {
	httpServer *http.Server
	opts       Options
	log        logger.Logger
}

// New creates a configured HTTP server
func New(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	s := &Server{
		opts: opts,
		log:  logger.Default().WithPrefix("http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/missions", s.listMissions)
	mux.HandleFunc("GET /api/missions/{droneId}", s.getMission)
	mux.HandleFunc("GET /api/missions/{droneId}/journal", s.getJournal)
	mux.HandleFunc("POST /api/commands", s.postCommand)
	if opts.Mux != nil {
		mux.HandleFunc("GET /api/telemetry", s.listTelemetry)
	}
	if opts.Hub != nil {
		mux.Handle("GET /ws", opts.Hub)
	}
	if opts.Gate != nil {
		mux.HandleFunc("GET /api/weather", s.getWeather)
		mux.HandleFunc("PUT /api/weather", s.putWeather)
	}

	// No read or write timeout: /ws connections are long lived and manage
	// their own deadlines.
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           metricsMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Networkf("HTTP server listening on %s", s.opts.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	if s.opts.Hub != nil {
		s.opts.Hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}

type missionList struct {
	Active   []mission.Mission `json:"active"`
	Archived []mission.Mission `json:"archived"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":         "ok",
		"activeMissions": len(s.opts.Engine.Active()),
	}
	if s.opts.Hub != nil {
		body["wsClients"] = s.opts.Hub.Clients()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) listMissions(w http.ResponseWriter, r *http.Request) {
	list := missionList{
		Active:   s.opts.Engine.Active(),
		Archived: s.opts.Engine.Archived(),
	}
	switch r.URL.Query().Get("state") {
	case "active":
		list.Archived = nil
	case "archived":
		list.Active = nil
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getMission(w http.ResponseWriter, r *http.Request) {
	droneID := r.PathValue("droneId")
	m, ok := s.opts.Engine.Status(droneID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no mission for drone %s", droneID))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) getJournal(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Engine.Journal().Entries(r.PathValue("droneId")))
}

func (s *Server) postCommand(w http.ResponseWriter, r *http.Request) {
	var cmd engine.Command
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBytes))
	if err := dec.Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid command: %v", err))
		return
	}
	if cmd.DroneID == "" {
		writeError(w, http.StatusBadRequest, "droneId is required")
		return
	}

	res := s.opts.Engine.Handle(cmd)
	writeJSON(w, commandStatus(res), res)
}

func commandStatus(res engine.Result) int {
	if res.Accepted {
		return http.StatusOK
	}
	switch res.Rejection {
	case engine.RejectInvalid:
		return http.StatusUnprocessableEntity
	case engine.RejectNotFound:
		return http.StatusNotFound
	case engine.RejectFault:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}

func (s *Server) listTelemetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Mux.All())
}

func (s *Server) getWeather(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conditions": s.opts.Gate.Conditions(),
		"assessment": s.opts.Gate.CheckSafety(0, 0),
	})
}

func (s *Server) putWeather(w http.ResponseWriter, r *http.Request) {
	c := s.opts.Gate.Conditions()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBytes)).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid conditions: %v", err))
		return
	}
	s.opts.Gate.SetConditions(c)
	a := s.opts.Gate.CheckSafety(0, 0)
	if !a.Safe {
		s.log.Warnf("Weather updated, flights blocked (risk %s)", a.RiskLevel)
	} else {
		s.log.Infof("Weather updated, risk %s", a.RiskLevel)
	}
	s.getWeather(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
