// Package server exposes the cached snapshot over HTTP.
package server

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"time"

	"emperror.dev/errors"
	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v4/process"
	log "github.com/sirupsen/logrus"

	"github.com/srodi/hotspot-exporter/pkg/classify"
	"github.com/srodi/hotspot-exporter/pkg/collector/memory"
	"github.com/srodi/hotspot-exporter/pkg/config"
	"github.com/srodi/hotspot-exporter/pkg/exposition"
	"github.com/srodi/hotspot-exporter/pkg/types"
)

const shutdownTimeout = 5 * time.Second

// Cache is the read side of the cache coordinator.
type Cache interface {
	Read() *types.MetricsSnapshot
	Updating() bool
	Trigger(ctx context.Context) bool
	Classifier() *classify.Classifier
}

// Server serves /metrics, /health, /subgroups and /config.
type Server struct {
	router *mux.Router
	server *http.Server
	cache  Cache
	cfg    config.Config

	// base outlives requests; on-demand refreshes run under it.
	base context.Context
	self *process.Process
	now  func() time.Time
}

// New builds the router. Nothing listens until Start.
func New(c Cache, cfg config.Config) *Server {
	s := &Server{
		router: mux.NewRouter(),
		cache:  c,
		cfg:    cfg,
		base:   context.Background(),
		now:    time.Now,
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.self = p
	} else {
		log.WithError(err).Warn("self telemetry unavailable")
	}
	s.registerRoutes()
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/metrics", s.metrics).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	s.router.HandleFunc("/subgroups", s.subgroups).Methods(http.MethodGet)
	s.router.HandleFunc("/config", s.config).Methods(http.MethodGet)
}

// Start listens on the configured address until ctx is done, then shuts the
// listener down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.base = ctx
	s.server = &http.Server{
		Addr:              s.cfg.Address(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("server listening on %s", s.cfg.Address())
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.WrapIf(err, "listen")
	case <-ctx.Done():
	}

	log.Debug("shutting down http server")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(sctx); err != nil {
		return errors.WrapIf(err, "shutdown")
	}
	return nil
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	s.cache.Trigger(s.base)

	var buf bytes.Buffer
	state := exposition.CacheState{Updating: s.cache.Updating(), Now: s.now()}
	if err := exposition.Write(&buf, s.cache.Read(), state, s.cfg.Exposition()); err != nil {
		log.Errorf("error encoding metrics: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", exposition.ContentType())
	_, _ = w.Write(buf.Bytes())
}

// SelfStats is the exporter's own resource usage.
type SelfStats struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	OpenFDs    int32   `json:"open_fds"`
}

// RulesInfo identifies the classification rules in use.
type RulesInfo struct {
	Count       int    `json:"count"`
	Fingerprint string `json:"fingerprint"`
}

// Health is the /health response body.
type Health struct {
	Status          string            `json:"status"`
	GeneratedAt     time.Time         `json:"generated_at"`
	AgeSeconds      float64           `json:"age_seconds"`
	Updating        bool              `json:"updating"`
	Diagnostics     types.Diagnostics `json:"diagnostics"`
	Rules           RulesInfo         `json:"rules"`
	Self            *SelfStats        `json:"self,omitempty"`
	HostMemoryBytes uint64            `json:"host_memory_bytes,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	snap := s.cache.Read()
	body := Health{
		Status:      "ok",
		GeneratedAt: snap.GeneratedAt,
		Updating:    s.cache.Updating(),
		Diagnostics: snap.Diagnostics,
		Rules:       rulesInfo(s.cache.Classifier()),
		Self:        s.selfStats(r.Context()),
	}
	if !snap.GeneratedAt.IsZero() {
		body.AgeSeconds = s.now().Sub(snap.GeneratedAt).Seconds()
	}
	if total, err := memory.TotalBytes(s.cfg.ProcRoot); err == nil {
		body.HostMemoryBytes = total
	}

	status := http.StatusOK
	if !snap.Diagnostics.Success {
		body.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func (s *Server) selfStats(ctx context.Context) *SelfStats {
	if s.self == nil {
		return nil
	}
	var out SelfStats
	if mem, err := s.self.MemoryInfoWithContext(ctx); err == nil {
		out.RSSBytes = mem.RSS
	}
	if pct, err := s.self.CPUPercentWithContext(ctx); err == nil {
		out.CPUPercent = pct
	}
	if fds, err := s.self.NumFDsWithContext(ctx); err == nil {
		out.OpenFDs = fds
	}
	return &out
}

func rulesInfo(cl *classify.Classifier) RulesInfo {
	if cl == nil {
		return RulesInfo{}
	}
	rs := cl.Rules()
	return RulesInfo{Count: rs.Len(), Fingerprint: rs.Fingerprint()}
}

// Subgroups is the /subgroups response body.
type Subgroups struct {
	Fingerprint string          `json:"fingerprint"`
	Rules       []classify.Rule `json:"rules"`
}

func (s *Server) subgroups(w http.ResponseWriter, r *http.Request) {
	cl := s.cache.Classifier()
	if cl == nil {
		writeJSON(w, http.StatusOK, Subgroups{Rules: []classify.Rule{}})
		return
	}
	rs := cl.Rules()
	writeJSON(w, http.StatusOK, Subgroups{Fingerprint: rs.Fingerprint(), Rules: rs.Rules()})
}

func (s *Server) config(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Errorf("error encoding response: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
