package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gin-gonic/gin"
)

// StatusAPI is the local read-only HTTP surface the desktop UI shell
// polls. It serves only the aggregated view: raw transport errors never
// leave the supervisor.
type StatusAPI struct {
	sup    *Supervisor
	logger *zap.Logger
	server *http.Server
}

// NewStatusAPI builds the API bound to the given supervisor.
func NewStatusAPI(addr string, sup *Supervisor, logger *zap.Logger) *StatusAPI {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := &StatusAPI{
		sup:    sup,
		logger: logger,
		server: &http.Server{Addr: addr, Handler: router},
	}
	api.registerRoutes(router)
	return api
}

func (a *StatusAPI) registerRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	v1.GET("/status", a.handleStatus)
	v1.GET("/metrics", a.handleMetrics)
	v1.GET("/streaming", a.handleStreaming)
	v1.GET("/alerts", a.handleAlerts)
	v1.GET("/can-record", a.handleCanRecord)
	v1.GET("/debug", a.handleDebug)
}

func (a *StatusAPI) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  a.sup.Status(),
		"overall": a.sup.Overall(),
		"device":  a.sup.Device(),
	})
}

func (a *StatusAPI) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, a.sup.Metrics())
}

func (a *StatusAPI) handleStreaming(c *gin.Context) {
	c.JSON(http.StatusOK, a.sup.StreamingState())
}

func (a *StatusAPI) handleAlerts(c *gin.Context) {
	alerts := a.sup.Alerts()
	c.JSON(http.StatusOK, gin.H{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

func (a *StatusAPI) handleCanRecord(c *gin.Context) {
	c.JSON(http.StatusOK, a.sup.CanRecord())
}

func (a *StatusAPI) handleDebug(c *gin.Context) {
	c.JSON(http.StatusOK, a.sup.DebugInfo())
}

// Start serves the API in the background.
func (a *StatusAPI) Start() {
	go func() {
		a.logger.Info("status API listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("status API server error", zap.Error(err))
		}
	}()
}

// Shutdown stops the API server gracefully.
func (a *StatusAPI) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("status API shutdown", zap.Error(err))
	}
}
