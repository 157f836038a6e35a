// Package control exposes the operator HTTP surface: live threshold tuning,
// presets, open positions, metrics and the trade event websocket.
package control

import (
	"context"
	"errors"
	"net/http"
	"time"

	"bithumb-dip-bot-go/internal/configstore"
	"bithumb-dip-bot-go/internal/metrics"
	"bithumb-dip-bot-go/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PositionSource returns the latest published ledger view.
type PositionSource interface {
	Positions() []models.Position
}

type Server struct {
	router    *gin.Engine
	store     *configstore.Store
	positions PositionSource
	events    http.Handler
	logger    *zap.Logger
	srv       *http.Server
}

// NewServer wires the routes. positions and events may be nil.
func NewServer(addr string, store *configstore.Store, positions PositionSource, events http.Handler, logger *zap.Logger) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(requestLogger(logger))

	s := &Server{
		router:    r,
		store:     store,
		positions: positions,
		events:    events,
		logger:    logger,
	}
	s.routes()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/config", s.getConfig)
	s.router.PUT("/config", s.replaceConfig)
	s.router.PUT("/config/:key", s.setConfigKey)

	s.router.GET("/presets", s.listPresets)
	s.router.POST("/presets/:name", s.applyPreset)

	s.router.GET("/positions", s.listPositions)

	if s.events != nil {
		s.router.GET("/ws/events", gin.WrapH(s.events))
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 在后台启动 HTTP 服务
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting control server", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control server failed", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Get())
}

func (s *Server) replaceConfig(c *gin.Context) {
	var cfg models.TradingConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		s.reject(c, http.StatusBadRequest, err)
		return
	}
	s.commit(c, s.store.Replace(cfg))
}

type setValueRequest struct {
	Value interface{} `json:"value"`
}

func (s *Server) setConfigKey(c *gin.Context) {
	var req setValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.reject(c, http.StatusBadRequest, err)
		return
	}
	s.commit(c, s.store.Set(c.Param("key"), req.Value))
}

func (s *Server) listPresets(c *gin.Context) {
	out := gin.H{}
	for _, name := range s.store.Presets() {
		p, _ := s.store.Preset(name)
		out[name] = p
	}
	c.JSON(http.StatusOK, gin.H{"presets": out})
}

func (s *Server) applyPreset(c *gin.Context) {
	s.commit(c, s.store.ApplyNamedPreset(c.Param("name")))
}

func (s *Server) listPositions(c *gin.Context) {
	positions := []models.Position{}
	if s.positions != nil {
		if p := s.positions.Positions(); p != nil {
			positions = p
		}
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

// commit 统一处理配置变更结果
func (s *Server) commit(c *gin.Context, err error) {
	switch {
	case err == nil:
		metrics.ConfigUpdates.WithLabelValues("ok").Inc()
		cfg := s.store.Get()
		s.logger.Info("trading config updated", zap.String("path", c.Request.URL.Path), zap.Any("config", cfg))
		c.JSON(http.StatusOK, cfg)
	case errors.Is(err, configstore.ErrUnknownPreset):
		s.reject(c, http.StatusNotFound, err)
	default:
		s.reject(c, http.StatusBadRequest, err)
	}
}

func (s *Server) reject(c *gin.Context, status int, err error) {
	metrics.ConfigUpdates.WithLabelValues("rejected").Inc()
	s.logger.Warn("config update rejected", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(status, gin.H{"error": err.Error()})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("RequestID", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/metrics" || c.Request.URL.Path == "/health" {
			return
		}
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString("RequestID")),
		)
	}
}
