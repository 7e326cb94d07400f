package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/ctt-hpc/ctt/pkg/log"
	"github.com/ctt-hpc/ctt/pkg/metrics"
	"github.com/ctt-hpc/ctt/pkg/notify"
	"github.com/ctt-hpc/ctt/pkg/reconciler"
	"github.com/ctt-hpc/ctt/pkg/storage"
	"github.com/ctt-hpc/ctt/pkg/tracker"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// OperatorHeader names the acting operator on mutating requests
const OperatorHeader = "X-CTT-Operator"

// Options configures the API server
type Options struct {
	ReadOnly        bool   // Reject every mutating request
	DefaultOperator string // Used when a request carries no OperatorHeader
}

// Server is the operator REST API
type Server struct {
	opts     Options
	store    storage.Store
	tracker  *tracker.Tracker
	resolver *reconciler.Resolver
	lock     *tracker.Lock
	sink     notify.Sink
	router   *mux.Router
	logger   zerolog.Logger
	server   *http.Server
}

// NewServer creates the API server and registers its routes
func NewServer(opts Options, trk *tracker.Tracker, resolver *reconciler.Resolver, lock *tracker.Lock, sink notify.Sink) *Server {
	if opts.DefaultOperator == "" {
		opts.DefaultOperator = "api"
	}
	if sink == nil {
		sink = notify.NewLogSink()
	}
	s := &Server{
		opts:     opts,
		store:    trk.Store(),
		tracker:  trk,
		resolver: resolver,
		lock:     lock,
		sink:     sink,
		router:   mux.NewRouter(),
		logger:   log.WithComponent("api"),
	}
	s.routes()
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.logRequests)

	r.Handle("/health", metrics.HealthHandler()).Methods(http.MethodGet)
	r.Handle("/ready", metrics.ReadyHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	if s.opts.ReadOnly {
		v1.Use(readOnly)
	}

	v1.HandleFunc("/targets", s.listTargets).Methods(http.MethodGet)
	v1.HandleFunc("/targets/{name}", s.getTarget).Methods(http.MethodGet)
	v1.HandleFunc("/targets/{name}/offline", s.offlineTarget).Methods(http.MethodPost)
	v1.HandleFunc("/targets/{name}/online", s.onlineTarget).Methods(http.MethodPost)

	v1.HandleFunc("/issues", s.listIssues).Methods(http.MethodGet)
	v1.HandleFunc("/issues", s.createIssue).Methods(http.MethodPost)
	v1.HandleFunc("/issues/{id}", s.getIssue).Methods(http.MethodGet)
	v1.HandleFunc("/issues/{id}/close", s.closeIssue).Methods(http.MethodPost)
	v1.HandleFunc("/issues/{id}/comments", s.addComment).Methods(http.MethodPost)
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve serves the API on l until Shutdown is called
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info().Str("addr", l.Addr().String()).Msg("api listening")
	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and serves the API
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Shutdown gracefully stops the server. A later Serve returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
