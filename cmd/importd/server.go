package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/directory-import/pkg/importer"
	"github.com/Sternrassler/directory-import/pkg/importjob"
	"github.com/Sternrassler/directory-import/pkg/logging"
	"github.com/Sternrassler/directory-import/pkg/metrics"
	"github.com/Sternrassler/directory-import/pkg/runner"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the import job HTTP API",
	Long: `The serve command starts an HTTP server exposing start, drive, pause, resume,
reset and progress operations for import jobs, plus /health and /metrics.
With server.auto_run enabled every started or resumed job is driven in the
background until it completes, fails or is paused.`,
	RunE: runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	logger := logging.NewLogger("importd")
	s := loadSettings()

	a, err := newApp(cmd.Context(), s, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var sup *supervisor
	if s.AutoRun {
		rcfg := s.runnerConfig()
		rcfg.Logger = logger
		r, err := runner.New(a.engine, rcfg)
		if err != nil {
			return err
		}
		sup = newSupervisor(r, logger)
		defer sup.Stop()
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    ":" + s.ServerPort,
		Handler: newRouter(newServer(a, sup, logger)),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Server failed")
		}
	}()
	logger.Info().
		Str("addr", srv.Addr).
		Str("storage", s.Storage).
		Bool("auto_run", s.AutoRun).
		Msg("Starting import server")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutting down server...")

	timeout := s.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	logger.Info().Msg("Server exited")
	return nil
}

// server serves the job API for one engine.
type server struct {
	engine     *importer.Engine
	options    importer.Options
	supervisor *supervisor
	ping       func(context.Context) error
	logger     zerolog.Logger
}

func newServer(a *app, sup *supervisor, logger zerolog.Logger) *server {
	return &server{
		engine:     a.engine,
		options:    a.settings.options(),
		supervisor: sup,
		ping:       a.ping,
		logger:     logger,
	}
}

func newRouter(s *server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	jobs := r.Group("/jobs/:id")
	jobs.GET("", s.progress)
	jobs.DELETE("", s.reset)
	jobs.POST("/start", s.start)
	jobs.POST("/drive", s.drive)
	jobs.POST("/pause", s.pause)
	jobs.POST("/resume", s.resume)

	return r
}

// requestLogger logs each request at debug level.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status_code", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

// health handles GET /health
func (s *server) health(c *gin.Context) {
	if err := s.ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// progress handles GET /jobs/:id
func (s *server) progress(c *gin.Context) {
	p, err := s.engine.GetProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.annotate(p))
}

// start handles POST /jobs/:id/start
func (s *server) start(c *gin.Context) {
	p, err := s.engine.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.launch(p)
	c.JSON(http.StatusOK, s.annotate(p))
}

// drive handles POST /jobs/:id/drive?batch_size=&safety_margin=
func (s *server) drive(c *gin.Context) {
	opts := s.options
	for _, q := range []struct {
		name string
		dst  *int
	}{
		{"batch_size", &opts.BatchSize},
		{"safety_margin", &opts.SafetyMargin},
	} {
		raw, ok := c.GetQuery(q.name)
		if !ok {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + q.name})
			return
		}
		*q.dst = v
	}

	p, err := s.engine.DriveBatch(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.annotate(p))
}

// pause handles POST /jobs/:id/pause
func (s *server) pause(c *gin.Context) {
	p, err := s.engine.Pause(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.annotate(p))
}

// resume handles POST /jobs/:id/resume
func (s *server) resume(c *gin.Context) {
	p, err := s.engine.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.launch(p)
	c.JSON(http.StatusOK, s.annotate(p))
}

// reset handles DELETE /jobs/:id
func (s *server) reset(c *gin.Context) {
	if err := s.engine.Reset(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// jobResponse is a progress view plus whether a background runner drives the job.
type jobResponse struct {
	importer.Progress
	AutoRun bool `json:"auto_run"`
}

func (s *server) annotate(p importer.Progress) jobResponse {
	return jobResponse{
		Progress: p,
		AutoRun:  s.supervisor != nil && s.supervisor.Active(p.JobID),
	}
}

func (s *server) launch(p importer.Progress) {
	if s.supervisor == nil || p.Status != importjob.StatusRunning {
		return
	}
	s.supervisor.Launch(p.JobID)
}

func (s *server) fail(c *gin.Context, err error) {
	var cfgErr *importer.ConfigError
	switch {
	case errors.Is(err, importer.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &cfgErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error().Err(err).Str("job_id", c.Param("id")).Msg("Job operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
