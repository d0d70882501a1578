package server

import (
	"net/http"
	"time"

	"github.com/danmuck/ledctl/internal/transport/ws"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "0.1.0"

func (s *Service) registerRoutes() {
	s.router.GET("/ws", gin.WrapH(ws.NewHandler(s.registry, s.wsOptions(), s.cfg.Origins...)))

	s.router.GET("/health", func(c *gin.Context) {
		peers := make(map[string]int)
		for role, n := range s.registry.Peers() {
			peers[role.String()] = n
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(s.started).String(),
			"node":     s.cfg.Name,
			"version":  version,
			"peers":    peers,
			"attached": s.registry.Attached(),
		})
	})

	s.router.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": s.registry.Sessions()})
	})

	s.router.GET("/state", func(c *gin.Context) {
		st := s.lights.State().Snapshot()
		body := gin.H{
			"mode":       st.Mode.String(),
			"color":      gin.H{"r": st.Color.R, "g": st.Color.G, "b": st.Color.B},
			"brightness": st.Brightness,
			"updated_ms": st.UpdatedMS,
		}
		if st.Label != nil {
			body["label"] = *st.Label
		}
		c.JSON(http.StatusOK, body)
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
