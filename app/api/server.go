package api

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// NewServer creates a new HTTP server with all routes configured
func NewServer(handler *Handler, apiAccessKey string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health", "/metrics"},
	}))

	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler, apiAccessKey)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler, apiAccessKey string) {
	r.GET("/feeds/:name", handler.GetFeed)
	r.GET("/health", handler.GetHealth)
	r.GET("/stats", handler.GetStats)
	if handler.metrics != nil {
		r.GET("/metrics", gin.WrapH(handler.metrics))
	}

	// The review API mutates items, so it only exists behind a key.
	if apiAccessKey != "" {
		api := r.Group("/api")
		api.Use(authMiddleware(apiAccessKey))
		{
			api.GET("/sources", handler.APIListSources)
			api.POST("/sources/:name/sync", handler.APISyncSource)
			api.GET("/runs", handler.APIListRuns)
			api.GET("/items", handler.APIListItems)
			api.GET("/items/:id", handler.APIGetItem)
			api.POST("/items/:id/publish", handler.APIPublishItem)
			api.POST("/items/:id/approve", handler.APIApproveItem)
			api.POST("/items/:id/schedule", handler.APIScheduleItem)
			api.POST("/items/:id/reject", handler.APIRejectItem)
		}
		slog.Info("API endpoints enabled with authentication")
	} else {
		slog.Info("API endpoints disabled (API_ACCESS_KEY not set)")
	}

	r.GET("/", func(c *gin.Context) {
		endpoints := map[string]string{
			"feed":    "/feeds/<name>",
			"health":  "/health",
			"stats":   "/stats",
			"metrics": "/metrics",
		}

		if apiAccessKey != "" {
			endpoints["sources"] = "/api/sources (requires X-API-Key header)"
			endpoints["sync"] = "/api/sources/<name>/sync (POST, requires X-API-Key header)"
			endpoints["runs"] = "/api/runs (requires X-API-Key header)"
			endpoints["items"] = "/api/items?status=needs_review (requires X-API-Key header)"
			endpoints["review"] = "/api/items/<id>/{publish,approve,schedule,reject} (POST, requires X-API-Key header)"
		}

		c.JSON(http.StatusOK, gin.H{
			"service":     "AstroBot",
			"description": "NASA feed ingestion, translation and publishing pipeline",
			"endpoints":   endpoints,
			"api_status": map[string]interface{}{
				"enabled":       apiAccessKey != "",
				"auth_required": apiAccessKey != "",
				"header":        "X-API-Key",
			},
		})
	})

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
}

// authMiddleware accepts the key in X-API-Key or as a bearer token
func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-API-Key")

		if providedKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if providedKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Provide API key in X-API-Key header or Authorization: Bearer <key>",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiAccessKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "The provided API key is not valid",
			})
			return
		}

		c.Next()
	}
}
