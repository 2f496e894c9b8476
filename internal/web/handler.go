package web

import (
	"net/http"

	"devicebridge"
	"devicebridge/internal/logger"
	"devicebridge/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the operational endpoints of a running simulation:
// health, prometheus metrics, a live summary and the websocket reading feed.
type Handler struct {
	snapshot func() devicebridge.RunSummary
	feed     *LiveFeed
	mets     *metrics.Metrics
	log      *logger.Logger
}

func NewHandler(snapshot func() devicebridge.RunSummary, feed *LiveFeed, mets *metrics.Metrics, log *logger.Logger) *Handler {
	return &Handler{snapshot: snapshot, feed: feed, mets: mets, log: log}
}

func (h *Handler) InitRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", h.healthz)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		h.mets.Registry, promhttp.HandlerOpts{},
	)))

	api := router.Group("/api/v1")
	{
		api.GET("/summary", h.summary)
	}

	router.GET("/ws/live", h.wsLive)

	return router
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// summary returns live run progress; final sink tallies appear only in the
// end-of-run summary.
func (h *Handler) summary(c *gin.Context) {
	c.JSON(http.StatusOK, h.snapshot())
}
