package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/droneguard/internal/config"
	"github.com/agenthands/droneguard/internal/core"
	"github.com/agenthands/droneguard/internal/driver"
	"github.com/agenthands/droneguard/internal/llm"
	"github.com/agenthands/droneguard/internal/store"
)

type Server struct {
	Inspector *core.Inspector
	Hub       *Hub
	Lines     LineSummarizer

	// BaseCtx outlives requests; background batches run under it. Close
	// cancels it.
	BaseCtx        context.Context
	MaxUploadBytes int64
	Now            func() time.Time

	// ShutdownTimeout bounds how long Close waits for background work.
	ShutdownTimeout time.Duration

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// LineSummarizer is served by the graph recorder when Memgraph is configured.
type LineSummarizer interface {
	LineSummaries(ctx context.Context) ([]driver.LineSummary, error)
}

const defaultShutdownTimeout = 10 * time.Second

func New(ctx context.Context, in *core.Inspector, hub *Hub) *Server {
	in.Notifier = hub
	base, cancel := context.WithCancel(ctx)
	return &Server{
		Inspector:       in,
		Hub:             hub,
		BaseCtx:         base,
		MaxUploadBytes:  config.Default().Server.MaxUploadBytes,
		Now:             time.Now,
		ShutdownTimeout: defaultShutdownTimeout,
		cancel:          cancel,
	}
}

// Go runs fn under BaseCtx. Close waits for it before releasing resources.
func (s *Server) Go(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.BaseCtx)
	}()
}

// NewServer wires store, analyzer, optional graph recorder and the websocket
// hub from cfg.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	st, err := store.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	analyzer, err := llm.NewAnalyzer(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize analyzer: %w", err)
	}

	opts := core.DefaultOptions()
	opts.BatchDelay = cfg.Batch.Delay.Duration
	opts.StopOnQuota = cfg.Batch.StopOnQuota
	opts.ReportTitle = cfg.Report.Title
	in := core.NewInspector(st, analyzer, opts)
	n, err := in.Recover(ctx)
	if err != nil {
		st.Close()
		if c, ok := analyzer.(llm.Closer); ok {
			c.Close()
		}
		return nil, fmt.Errorf("failed to recover interrupted items: %w", err)
	}
	if n > 0 {
		slog.Warn("reset items interrupted by a previous run", "count", n)
	}

	s := New(ctx, in, NewHub())
	s.MaxUploadBytes = cfg.Server.MaxUploadBytes
	s.closers = append(s.closers, st.Close)
	if c, ok := analyzer.(llm.Closer); ok {
		s.closers = append(s.closers, c.Close)
	}

	if cfg.Memgraph.URI != "" {
		d, err := driver.NewMemgraphDriver(ctx, cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password)
		if err != nil {
			// The graph mirror is optional; the dashboard works without it.
			slog.Warn("memgraph disabled", "error", err)
		} else {
			if err := d.BuildIndices(ctx); err != nil {
				slog.Warn("failed to build memgraph indices", "error", err)
			}
			rec := driver.NewRecorder(d)
			in.Recorder = rec
			s.Lines = rec
			s.closers = append(s.closers, func() error { return d.Close(context.Background()) })
		}
	}

	slog.Info("server initialized",
		"storage", cfg.Storage.Driver,
		"mode", cfg.Analysis.Mode,
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"graph", s.Lines != nil)
	return s, nil
}

// Close stops background work started through the server, waits for it
// up to ShutdownTimeout, then releases the hub, recorder and store.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.shutdown() })
	return s.closeErr
}

func (s *Server) shutdown() error {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	var errs []error
	if err := s.Inspector.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("batch still running: %w", err))
	}
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("background workers still running: %w", ctx.Err()))
	}

	s.Hub.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/", s.Dashboard)
	r.GET("/health", s.Health)

	api := r.Group("/api")
	{
		api.POST("/images", s.UploadImages)
		api.GET("/images", s.ListImages)
		api.DELETE("/images", s.ClearImages)
		api.GET("/images/:id", s.GetImage)
		api.DELETE("/images/:id", s.RemoveImage)
		api.GET("/images/:id/source", s.ImageSource)
		api.POST("/images/:id/analyze", s.AnalyzeImage)
		api.PUT("/images/:id/feedback", s.SetFeedback)

		api.POST("/batch", s.StartBatch)
		api.GET("/batch", s.BatchStatus)

		api.GET("/stats", s.Stats)
		api.GET("/report", s.Report)
		api.GET("/geo", s.GeoPoints)
		api.GET("/lines", s.LineSummaries)
		api.GET("/ws", s.Events)
	}

	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.FullPath() == "/health" {
			return
		}
		slog.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client", c.ClientIP())
	}
}
