package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-phone/internal/bus"
	"github.com/loqalabs/loqa-phone/internal/capability"
	"github.com/loqalabs/loqa-phone/internal/config"
	"github.com/loqalabs/loqa-phone/internal/eventstore"
	"github.com/loqalabs/loqa-phone/internal/llm"
	"github.com/loqalabs/loqa-phone/internal/natsserver"
	"github.com/loqalabs/loqa-phone/internal/router"
	"github.com/loqalabs/loqa-phone/internal/stt"
	"github.com/loqalabs/loqa-phone/internal/tts"
	"github.com/loqalabs/loqa-phone/internal/tts/backend"
	"github.com/loqalabs/loqa-phone/internal/tts/pipeline"
	"golang.org/x/sync/errgroup"
)

const prunerInterval = time.Hour

type service interface {
	Start() error
	Close()
	Healthy() bool
}

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	nats     *natsserver.EmbeddedServer
	bus      *bus.Client
	store    *eventstore.Store
	registry *capability.Registry
	speech   *backend.Backend
	services []service

	httpServer *http.Server
	ready      atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up telemetry, the bus, the event store and the speech
// services, then serves HTTP until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	tel, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if terr := tel.shutdown(shutdownCtx); terr != nil {
			r.logger.Error("telemetry shutdown error", slogError(terr))
		}
	}()

	if err := r.startComponents(ctx, tel.synthesis); err != nil {
		return errors.Join(err, r.stopComponents())
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.HandleFunc("GET /readyz", r.handleReady)
	mux.HandleFunc("GET /v1/nodes", r.handleNodes)
	mux.HandleFunc("GET /v1/sessions", r.handleSessions)
	mux.HandleFunc("GET /v1/sessions/{id}/events", r.handleSessionEvents)
	var metricsServer *http.Server
	if tel.scrape != nil {
		if bind := r.cfg.Telemetry.PrometheusBind; bind != "" {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("GET /metrics", tel.scrape)
			metricsServer = &http.Server{Addr: bind, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
		} else {
			mux.Handle("GET /metrics", tel.scrape)
		}
	}
	if r.speech != nil {
		speech := newSpeechHandler(r.speech, r.speech.SampleRate, r.cfg.TTS, r.logger)
		speech.metrics = tel.speech
		mux.Handle("/v1/speech", speech)
		mux.HandleFunc("GET /v1/speech/ws", speech.ServeWS)
	}

	addr := net.JoinHostPort(r.cfg.HTTP.Bind, strconv.Itoa(r.cfg.HTTP.Port))
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if metricsServer != nil {
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	if r.store != nil {
		g.Go(func() error {
			r.store.RunPruner(gctx, prunerInterval)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var errs []error
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("tts_mode", r.cfg.TTS.Mode),
		slog.String("node", r.cfg.Node.ID))

	return errors.Join(g.Wait(), r.stopComponents())
}

func (r *Runtime) startComponents(ctx context.Context, synthesis *pipeline.Metrics) error {
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	r.nats = embedded
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	r.bus, err = bus.Connect(ctx, busCfg, r.cfg.Node.ID, r.logger)
	if err != nil {
		return err
	}

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}

	r.registry, err = capability.NewRegistry(ctx, r.cfg.Node, capability.FromConfig(r.cfg), r.bus, r.logger)
	if err != nil {
		return fmt.Errorf("start capability registry: %w", err)
	}

	speech, err := backend.New(r.cfg.TTS, synthesis, r.logger)
	switch {
	case err == nil:
		r.speech = speech
	case r.cfg.TTS.Enabled:
		return fmt.Errorf("create tts backend: %w", err)
	default:
		r.logger.Warn("speech endpoint disabled", slog.String("mode", r.cfg.TTS.Mode), slogError(err))
	}

	if r.cfg.STT.Enabled {
		recognizer, err := stt.NewRecognizer(r.cfg.STT)
		if err != nil {
			return fmt.Errorf("create stt recognizer: %w", err)
		}
		r.services = append(r.services, stt.NewService(ctx, r.cfg.STT, r.bus, recognizer, r.logger))
	}
	if r.cfg.LLM.Enabled {
		generator, err := llm.NewGenerator(r.cfg.LLM)
		if err != nil {
			return fmt.Errorf("create llm generator: %w", err)
		}
		r.services = append(r.services, llm.NewService(ctx, r.cfg.LLM, r.bus, generator, r.logger))
	}
	if r.cfg.TTS.Enabled {
		r.services = append(r.services, tts.NewService(ctx, r.cfg.TTS, r.bus, r.speech, r.store, r.logger))
	}
	r.services = append(r.services, router.NewService(ctx, r.cfg.Agent, r.bus, r.logger))

	for _, svc := range r.services {
		if err := svc.Start(); err != nil {
			return err
		}
	}
	return nil
}

// stopComponents releases everything startComponents acquired, in reverse
// order. It is safe to call after a partial start.
func (r *Runtime) stopComponents() error {
	var errs []error
	for i := len(r.services) - 1; i >= 0; i-- {
		r.services[i].Close()
	}
	r.services = nil
	if r.speech != nil {
		if err := r.speech.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close tts backend: %w", err))
		}
		r.speech = nil
	}
	if r.registry != nil {
		r.registry.Close()
		r.registry = nil
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event store: %w", err))
		}
		r.store = nil
	}
	if r.bus != nil {
		r.bus.Close()
		r.bus = nil
	}
	if r.nats != nil {
		r.nats.Shutdown()
		r.nats = nil
	}
	return errors.Join(errs...)
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.isReady() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) isReady() bool {
	if !r.ready.Load() || !r.bus.Healthy() {
		return false
	}
	for _, svc := range r.services {
		if !svc.Healthy() {
			return false
		}
	}
	return true
}

// handleNodes lists known nodes. ?capability=tts narrows the list and
// &mode=orpheus further matches the backend mode.
func (r *Runtime) handleNodes(w http.ResponseWriter, req *http.Request) {
	nodes := []capability.NodeInfo{}
	if r.registry != nil {
		var filter func(capability.NodeInfo) bool
		query := req.URL.Query()
		if name := query.Get("capability"); name != "" {
			filter = capability.WithCapabilityFilter(name)
			if mode := query.Get("mode"); mode != "" {
				filter = capability.WithAttributeFilter(name, "mode", mode)
			}
		}
		if found := r.registry.Query(filter); found != nil {
			nodes = found
		}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (r *Runtime) handleSessions(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	sessions, err := r.store.ListSessions(req.Context(), limit)
	if err != nil {
		r.logger.Error("list sessions failed", slogError(err))
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []eventstore.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (r *Runtime) handleSessionEvents(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	events, err := r.store.ListSessionEvents(req.Context(), req.PathValue("id"), limit)
	if err != nil {
		r.logger.Error("list session events failed", slogError(err))
		http.Error(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
