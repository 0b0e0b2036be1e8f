package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# Signal Collector

Collects trading signals from monitored channels and keeps them in sync with
their source messages.

## Routes

- GET /healthz
- GET /readyz
- GET /api/health
- GET /swagger/index.html
- GET /api/channels
- GET /api/channels/:id/signals?limit&offset
- GET /api/symbols
- GET /api/symbols/:symbol/signals?limit&offset
- GET /api/signals/:id
- GET /api/signals/:id/editions
- GET /api/stats/channels
- GET /api/stats/symbols
- GET /api/settings
- PUT /api/settings/:key  {"enabled": true|false}
- GET /api/ws/events (websocket)

## Envelope

All /api responses use {"code", "message", "data", "meta"}; code 0 means ok.
`)
	})
}
