package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/brandon/onebox/internal/config"
	"github.com/brandon/onebox/internal/index"
)

// Syncer triggers ingestion passes and reports connection health. The
// ConnectionManager implements it; triggered cycles run on the ingestion
// pipeline's own lifecycle, not the HTTP request's.
type Syncer interface {
	SyncAll()
	States() map[string]string
}

// Server is the thin HTTP query/trigger API. It reads the search store
// directly; ingestion failures never surface here.
type Server struct {
	cfg    *config.Config
	idx    *index.Index
	syncer Syncer
	logger *logrus.Logger
	engine *gin.Engine
}

// NewServer creates the API server and registers its routes.
func NewServer(cfg *config.Config, idx *index.Index, syncer Syncer, logger *logrus.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		idx:    idx,
		syncer: syncer,
		logger: logger,
		engine: engine,
	}

	engine.GET("/healthz", s.handleHealth)
	apiGroup := engine.Group("/api")
	apiGroup.GET("/emails/sync", s.handleSync)
	apiGroup.GET("/search", s.handleSearch)

	return s
}

// Handler exposes the router (used by tests).
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.HTTPAddr,
		Handler: s.engine,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.WithField("addr", s.cfg.HTTPAddr).Info("HTTP API listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleSync triggers one ingestion pass for every account. The pass runs in
// the background; the response does not wait for it.
func (s *Server) handleSync(c *gin.Context) {
	s.syncer.SyncAll()
	c.JSON(http.StatusAccepted, gin.H{
		"success":  true,
		"message":  "Sync triggered",
		"accounts": s.cfg.AccountNames(),
	})
}

// handleSearch queries the index, bypassing the ingestion pipeline.
func (s *Server) handleSearch(c *gin.Context) {
	limit := s.cfg.SearchResultLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid limit"})
			return
		}
		limit = parsed
	}

	docs, err := s.idx.Search(c.Request.Context(), index.SearchOptions{
		Query:    c.Query("q"),
		Category: c.Query("category"),
		Folder:   c.Query("folder"),
		Account:  c.Query("account"),
		Limit:    limit,
	})
	if err != nil {
		s.logger.WithError(err).Error("Search failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "search failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(docs),
		"data":    docs,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": s.syncer.States(),
	})
}
