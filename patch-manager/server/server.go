package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/afero"
)

type Config struct {
	Address          string
	Port             int
	ExpectedRequests int
	BuildsPath       string
	FailuresPath     string
}

type response struct {
	StatusCode int    `json:"status_code"`
	Details    string `json:"details"`
}

// Server accepts build callbacks until the expected number has arrived and
// then asks the app to shut down.
type Server struct {
	cfg      Config
	tracker  *Tracker
	metrics  *Metrics
	registry *prometheus.Registry
	log      log.Logger

	httpServer       *http.Server
	listener         net.Listener
	shutdownCallback func(error)
	wg               sync.WaitGroup
	quit             chan struct{}
	stopped          atomic.Bool
}

func New(cfg Config, fs afero.Fs, registry *prometheus.Registry, logger log.Logger, shutdownCallback func(error)) (*Server, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	tracker, err := NewTracker(fs, cfg.BuildsPath, cfg.FailuresPath, cfg.ExpectedRequests, logger)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:              cfg,
		tracker:          tracker,
		metrics:          NewMetrics(registry),
		registry:         registry,
		log:              logger,
		shutdownCallback: shutdownCallback,
		quit:             make(chan struct{}),
	}
	s.metrics.SetPending(tracker.Pending())
	return s, nil
}

func (s *Server) Tracker() *Tracker {
	return s.tracker
}

// Handler routes callbacks, health checks and metrics.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/{build}/{status}", s.handleResult).Methods(http.MethodGet, http.MethodPost)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return c.Handler(r)
}

func (s *Server) Start(_ context.Context) error {
	addr := net.JoinHostPort(s.cfg.Address, strconv.Itoa(s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	s.listener = listener
	s.httpServer = &http.Server{Handler: s.Handler()}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Patch server failed", "err", err)
			if s.shutdownCallback != nil {
				s.shutdownCallback(err)
			}
		}
	}()
	go func() {
		defer s.wg.Done()
		select {
		case <-s.tracker.Done():
			s.log.Info("Received all expected results", "results", len(s.tracker.Results()))
			if s.shutdownCallback != nil {
				s.shutdownCallback(nil)
			}
		case <-s.quit:
		}
	}()

	s.log.Info("Patch server listening", "addr", listener.Addr().String(), "expected", s.tracker.Expected())
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.stopped.Swap(true) {
		return nil
	}
	close(s.quit)
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

func (s *Server) Stopped() bool {
	return s.stopped.Load()
}

func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK")) //nolint:errcheck
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	build := vars["build"]
	status := vars["status"]

	err := s.tracker.Record(build, status)
	resp := response{StatusCode: http.StatusOK, Details: fmt.Sprintf("recorded %s for %s", status, build)}
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidStatus):
		resp = response{StatusCode: http.StatusBadRequest, Details: err.Error()}
		status = "invalid"
	case errors.Is(err, ErrUnknownBuild):
		s.log.Warn("Received result for unexpected build", "build", build, "status", status)
		resp = response{StatusCode: http.StatusNotFound, Details: err.Error()}
	default:
		s.log.Error("Failed to record result", "build", build, "err", err)
		resp = response{StatusCode: http.StatusInternalServerError, Details: err.Error()}
	}
	s.metrics.RecordCallback(status, strconv.Itoa(resp.StatusCode), s.tracker.Pending())
	s.writeResponse(w, resp)
}

func (s *Server) writeResponse(w http.ResponseWriter, resp response) {
	body, err := json.MarshalIndent(resp, "", "    ")
	if err != nil {
		s.log.Error("failed to marshal response", "err", err)
		resp.StatusCode = http.StatusInternalServerError
		body = []byte("internal server error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body); err != nil {
		s.log.Error("failed to send response", "err", err)
	}
}
