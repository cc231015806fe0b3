// Package server exposes the agent runtime over HTTP and WebSocket: chat
// endpoints (synchronous, streaming, and queued), agent CRUD, job control,
// configuration and credential management, and a fan-out hub that pushes
// job and message updates to subscribed clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/propagation"

	"github.com/operantlabs/operant/internal/auth"
	"github.com/operantlabs/operant/internal/config"
	"github.com/operantlabs/operant/internal/jobs"
	"github.com/operantlabs/operant/internal/observability"
	"github.com/operantlabs/operant/internal/registry"
	"github.com/operantlabs/operant/internal/usage"
)

// Options carries the server's dependencies. Config and Registry are
// required; everything else has a working default.
type Options struct {
	Config     *config.Config
	ConfigPath string
	// Credentials resolves provider API keys. Nil loads nothing and
	// leaves every hosting that needs a key unavailable.
	Credentials *config.Credentials
	Registry    *registry.Registry
	Version     string
	Logger      *slog.Logger
	// Metrics receives runtime counters. Nil disables instrumentation.
	Metrics *observability.Metrics
	// Tracer opens a span around every turn. Nil skips tracing.
	Tracer *observability.Tracer
}

// Server is the HTTP and WebSocket front end of the runtime.
type Server struct {
	configPath string
	creds      *config.Credentials
	registry   *registry.Registry
	version    string
	log        *slog.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer

	// confMu guards conf; handlers read a value snapshot and PATCH
	// replaces the pointer.
	confMu sync.RWMutex
	conf   *config.Config

	auth      *auth.Service
	hub       *hub
	events    *observability.MemoryEventStore
	archive   *jobs.Archive
	ledger    *usage.Ledger
	manager   *jobs.Manager
	engine    *engine
	processor *jobs.Processor
	scheduler *jobs.Scheduler

	httpServer *http.Server
	listener   net.Listener
	watcher    *fsnotify.Watcher
	startTime  time.Time
}

// New assembles the runtime: job archive, manager, worker pool, prune
// scheduler, execution engine, and the WebSocket hub.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("agent registry is required")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default().With("component", "server")
	}
	creds := opts.Credentials
	if creds == nil {
		var err error
		creds, err = config.LoadCredentials("")
		if err != nil {
			return nil, err
		}
	}

	var authService *auth.Service
	if opts.Config.Auth.Secret != "" {
		authService = auth.NewService(auth.Config{
			Secret:      opts.Config.Auth.Secret,
			TokenExpiry: opts.Config.Auth.TokenExpiry,
		})
	}

	archive, err := jobs.OpenArchive(opts.Config.Jobs.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open job archive: %w", err)
	}
	archive.SetTracer(opts.Tracer)

	s := &Server{
		configPath: opts.ConfigPath,
		creds:      creds,
		registry:   opts.Registry,
		version:    opts.Version,
		log:        log,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		conf:       opts.Config,
		auth:       authService,
		archive:    archive,
	}

	s.hub = newHub(s)
	s.manager = jobs.NewManager(
		jobs.WithArchive(archive),
		jobs.WithPublisher(s.hub),
		jobs.WithLogger(log),
	)

	prices, err := usage.NewPriceTable(opts.Config.Usage.PricingPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load pricing table: %w", err)
	}
	s.ledger, err = usage.OpenLedger(opts.Config.Usage.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage ledger: %w", err)
	}
	s.events = observability.NewMemoryEventStore(0)
	recLog := observability.NewLogger(observability.LogConfig{
		Level:  opts.Config.Logging.Level,
		Format: opts.Config.Logging.Format,
	})
	s.engine = newEngine(engineConfig{
		Snapshot: s.snapshot,
		Creds:    creds,
		Registry: opts.Registry,
		Tracker:  usage.NewTracker(usage.DefaultTrackerConfig()),
		Ledger:   s.ledger,
		Prices:   prices,
		Sink:     s.hub,
		Metrics:  opts.Metrics,
		Recorder: observability.NewEventRecorder(s.events, recLog),
		Tracer:   opts.Tracer,
		Logger:   log,
	})

	s.processor = jobs.NewProcessor(s.manager, s.engine.RunJob, jobs.ProcessorConfig{
		Workers:   opts.Config.Jobs.Workers,
		QueueSize: opts.Config.Jobs.QueueSize,
		Logger:    log,
		Tracer:    opts.Tracer,
	})

	s.scheduler, err = jobs.NewScheduler(s.manager, s.enqueueScheduled, jobs.SchedulerConfig{
		PruneSchedule: opts.Config.Jobs.PruneSchedule,
		Retention:     opts.Config.Jobs.Retention,
		Logger:        log,
		Tracer:        opts.Tracer,
	})
	if err != nil {
		return nil, err
	}

	return s, nil
}

// snapshot returns a copy of the live configuration.
func (s *Server) snapshot() config.Config {
	s.confMu.RLock()
	defer s.confMu.RUnlock()
	return *s.conf
}

// Start launches the worker pool, registers agent schedules, and begins
// serving HTTP. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	s.startTime = time.Now()

	if err := s.processor.Start(ctx); err != nil {
		return err
	}
	s.syncAllSchedules()
	s.scheduler.Start()

	if err := s.watchConfig(); err != nil {
		s.log.Warn("config watch unavailable", "error", err)
	}

	addr := s.snapshot().Server.Addr()
	server := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", "error", err)
		}
	}()

	s.log.Info("starting http server", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop drains the HTTP server, scheduler, and worker pool.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx := ctx
	var cancel context.CancelFunc
	if shutdownCtx == nil {
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		s.httpServer = nil
		s.listener = nil
	}
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("config watcher close: %w", err))
		}
		s.watcher = nil
	}
	s.hub.closeAll()
	if err := s.scheduler.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := s.processor.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := s.archive.Close(); err != nil {
		errs = append(errs, fmt.Errorf("archive close: %w", err))
	}
	if err := s.ledger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("ledger close: %w", err))
	}
	return errors.Join(errs...)
}

// routes wires the management mux. Health, metrics, and the WebSocket
// upgrade stay outside the auth middleware; the upgrade authenticates
// its own request headers.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/ws/", s.hub)

	mux.HandleFunc("/v1/chat", s.handleChat)
	mux.HandleFunc("/v1/chat/async", s.handleChatAsync)
	mux.HandleFunc("/v1/chat/agents/", s.handleAgentChat)

	mux.HandleFunc("/v1/jobs", s.handleJobs)
	mux.HandleFunc("/v1/jobs/", s.handleJobByID)

	mux.HandleFunc("/v1/agents", s.handleAgents)
	mux.HandleFunc("/v1/agents/", s.handleAgentSubroutes)

	mux.HandleFunc("/v1/config", s.handleConfig)
	mux.HandleFunc("/v1/config/schema", s.handleConfigSchema)
	mux.HandleFunc("/v1/credentials", s.handleCredentials)
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/v1/models/", s.handleModelsByProvider)
	mux.HandleFunc("/v1/tools", s.handleTools)

	open := map[string]bool{
		"/health":  true,
		"/metrics": true,
	}
	middleware := auth.Middleware(s.auth, open, s.log)
	return s.traceHTTP(s.withOpenWS(middleware(mux), mux))
}

// traceHTTP opens a server span per request, honoring an incoming W3C
// trace context. WebSocket upgrades are skipped; their lifetime is the
// connection, not a request.
func (s *Server) traceHTTP(next http.Handler) http.Handler {
	if s.tracer == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			next.ServeHTTP(w, r)
			return
		}
		ctx := s.tracer.ExtractContext(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := s.tracer.TraceHTTPRequest(ctx, r.Method, r.URL.Path)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withOpenWS routes WebSocket upgrades around the bearer middleware; the
// hub validates credentials itself so browser clients can authenticate
// during the handshake.
func (s *Server) withOpenWS(guarded, open http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			open.ServeHTTP(w, r)
			return
		}
		guarded.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}

// enqueueScheduled submits a cron-triggered prompt as a regular job.
func (s *Server) enqueueScheduled(agentID, prompt string) error {
	agent, err := s.registry.Get(agentID)
	if err != nil {
		return err
	}
	job := s.manager.Create(jobs.CreateParams{
		AgentID: agentID,
		Prompt:  prompt,
		Hosting: agent.Hosting,
		Model:   agent.Model,
		Persist: true,
	})
	return s.processor.Enqueue(job.ID)
}

// syncAllSchedules registers the cron schedules of every stored agent.
func (s *Server) syncAllSchedules() {
	page := 1
	for {
		result := s.registry.List(registry.ListOptions{Page: page, PerPage: 100})
		if len(result.Agents) == 0 {
			return
		}
		for _, agent := range result.Agents {
			state, err := s.registry.LoadState(agent.ID)
			if err != nil {
				s.log.Warn("failed to load agent state for schedules", "agent_id", agent.ID, "error", err)
				continue
			}
			if len(state.Schedules) > 0 {
				s.scheduler.SyncSchedules(agent.ID, state.Schedules)
			}
		}
		if page*result.PerPage >= result.Total {
			return
		}
		page++
	}
}
