package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/astrobot/app/cfg"
	"github.com/lysyi3m/astrobot/app/database"
	"github.com/lysyi3m/astrobot/app/feed"
	"github.com/lysyi3m/astrobot/app/pipeline"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func NewHandler(configCache *feed.ConfigCache, itemRepo database.ItemRepository,
	postRepo database.PostRepository, runRepo database.RunRepository,
	publisher ReviewService, runner SyncRunner, metrics http.Handler) *Handler {
	return &Handler{
		configCache: configCache,
		itemRepo:    itemRepo,
		postRepo:    postRepo,
		runRepo:     runRepo,
		publisher:   publisher,
		runner:      runner,
		metrics:     metrics,
		generator:   feed.NewGenerator(cfg.GetVersion()),
	}
}

func (h *Handler) GetFeed(c *gin.Context) {
	name := c.Param("name")

	feedConfig, err := h.configCache.GetConfig(name)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	now := time.Now().UTC()
	posts, err := h.postRepo.ListPosts(c.Request.Context(), name, now, defaultListLimit)
	if err != nil {
		slog.Error("Database error", "operation", "list_posts", "source", name, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	channel := feed.Channel{
		Title:       "AstroBot: " + name,
		Link:        feedConfig.URL,
		Description: fmt.Sprintf("Translated posts from %s", feedConfig.URL),
		SelfLink:    selfLink(c),
	}

	rss, err := h.generator.Run(channel, posts, now)
	if err != nil {
		slog.Error("RSS generation error", "source", name, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(posts)))
	c.Header("X-Feed-Name", name)

	c.String(http.StatusOK, rss)
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"status":                "ok",
		"timestamp":             time.Now().UTC().Format(time.RFC3339),
		"loaded_configurations": h.configCache.GetConfigCount(),
	}

	if _, err := h.itemRepo.CountByStatus(c.Request.Context()); err != nil {
		slog.Error("Database error", "operation", "health_check", "error", err)
		health["status"] = "degraded"
		health["error"] = "database unavailable"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	counts, err := h.itemRepo.CountByStatus(ctx)
	if err != nil {
		slog.Error("Database error", "operation", "count_items", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	posts, err := h.postRepo.CountPosts(ctx)
	if err != nil {
		slog.Error("Database error", "operation", "count_posts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	byStatus := make(map[string]int, len(counts))
	total := 0
	for status, count := range counts {
		byStatus[string(status)] = count
		total += count
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"items": map[string]interface{}{
			"total":     total,
			"by_status": byStatus,
		},
		"posts":   posts,
		"sources": h.configCache.GetConfigCount(),
	})
}

func (h *Handler) APIListSources(c *gin.Context) {
	configs := h.configCache.GetConfigs()

	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	sources := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		feedConfig := configs[name]
		sourceInfo := map[string]interface{}{
			"name":             feedConfig.Name,
			"url":              feedConfig.URL,
			"enabled":          feedConfig.Settings.Enabled,
			"max_items":        feedConfig.Settings.MaxItems,
			"refresh_interval": feedConfig.Settings.RefreshEvery().String(),
			"auto_publish":     feedConfig.Publish.AutoPublish,
		}

		if run, err := h.runRepo.LastRun(c.Request.Context(), name); err == nil && run != nil {
			sourceInfo["last_run"] = runJSON(run)
		}

		sources = append(sources, sourceInfo)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"sources": sources,
		"total":   len(sources),
	})
}

func (h *Handler) APISyncSource(c *gin.Context) {
	name := c.Param("name")

	run, err := h.runner.Run(c.Request.Context(), name, pipeline.TriggerManual)
	if err != nil && run == nil {
		h.writeError(c, "sync_source", err)
		return
	}

	status := http.StatusOK
	if err != nil {
		slog.Error("Manual sync failed", "source", name, "error", err)
		status = http.StatusBadGateway
	}

	c.JSON(status, gin.H{"run": runJSON(run)})
}

func (h *Handler) APIListRuns(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultListLimit)
	if !ok {
		return
	}

	runs, err := h.runRepo.ListRuns(c.Request.Context(), c.Query("source"), min(limit, maxListLimit))
	if err != nil {
		h.writeError(c, "list_runs", err)
		return
	}

	result := make([]map[string]interface{}, 0, len(runs))
	for i := range runs {
		result = append(result, runJSON(&runs[i]))
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"runs":  result,
		"total": len(result),
	})
}

func (h *Handler) APIListItems(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultListLimit)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}

	filter := database.ItemFilter{
		Source: c.Query("source"),
		Limit:  min(limit, maxListLimit),
		Offset: offset,
	}
	for _, status := range strings.Split(c.Query("status"), ",") {
		if status = strings.TrimSpace(status); status != "" {
			filter.Statuses = append(filter.Statuses, database.ItemStatus(status))
		}
	}

	items, err := h.itemRepo.ListItems(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, "list_items", err)
		return
	}

	result := make([]map[string]interface{}, 0, len(items))
	for i := range items {
		result = append(result, itemJSON(&items[i]))
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"items":  result,
		"total":  len(result),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (h *Handler) APIGetItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}

	item, err := h.itemRepo.GetItem(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "get_item", err)
		return
	}
	if item == nil {
		h.writeError(c, "get_item", pipeline.ErrItemNotFound)
		return
	}

	c.JSON(http.StatusOK, itemJSON(item))
}

func (h *Handler) APIPublishItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}

	if err := h.publisher.Publish(c.Request.Context(), id); err != nil {
		h.writeError(c, "publish_item", err)
		return
	}

	h.respondWithItem(c, id)
}

func (h *Handler) APIApproveItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}

	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "message": err.Error()})
		return
	}

	if err := h.publisher.Approve(c.Request.Context(), id, req.Reviewer, req.Note); err != nil {
		h.writeError(c, "approve_item", err)
		return
	}

	h.respondWithItem(c, id)
}

func (h *Handler) APIScheduleItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}

	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "message": err.Error()})
		return
	}

	if err := h.publisher.Schedule(c.Request.Context(), id, req.ScheduledFor.UTC()); err != nil {
		h.writeError(c, "schedule_item", err)
		return
	}

	h.respondWithItem(c, id)
}

func (h *Handler) APIRejectItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}

	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "message": err.Error()})
		return
	}

	if err := h.publisher.Reject(c.Request.Context(), id, req.Reason, req.Reviewer); err != nil {
		h.writeError(c, "reject_item", err)
		return
	}

	h.respondWithItem(c, id)
}

func (h *Handler) respondWithItem(c *gin.Context, id int64) {
	item, err := h.itemRepo.GetItem(c.Request.Context(), id)
	if err != nil || item == nil {
		c.JSON(http.StatusOK, gin.H{"id": id})
		return
	}
	c.JSON(http.StatusOK, itemJSON(item))
}

// writeError maps pipeline errors onto HTTP status codes.
func (h *Handler) writeError(c *gin.Context, operation string, err error) {
	var invalidState *pipeline.InvalidStateError
	var inProgress *pipeline.SyncInProgressError

	switch {
	case errors.Is(err, pipeline.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
	case errors.Is(err, pipeline.ErrSourceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
	case errors.As(err, &invalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "Invalid item state", "message": err.Error()})
	case errors.As(err, &inProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "Sync already in progress", "message": err.Error()})
	default:
		slog.Error("Request failed", "operation", operation, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

func selfLink(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.Path
}

func itemID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid item id"})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, fallback int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + key + " parameter"})
		return 0, false
	}
	return value, true
}

func itemJSON(item *database.FeedItem) map[string]interface{} {
	return map[string]interface{}{
		"id":                  item.ID,
		"source":              item.Source,
		"guid":                item.GUID,
		"url":                 item.URL,
		"title":               item.Title,
		"summary":             item.Summary,
		"translated_title":    item.TranslatedTitle,
		"translated_summary":  item.TranslatedSummary,
		"translation_status":  item.TranslationStatus,
		"translation_error":   item.TranslationError,
		"source_published_at": item.SourcePublishedAt,
		"status":              item.Status,
		"review_reason":       item.ReviewReason,
		"scheduled_for":       item.ScheduledFor,
		"post_id":             item.PostID,
		"posted_at":           item.PostedAt,
		"reviewed_by":         item.ReviewedBy,
		"reviewed_at":         item.ReviewedAt,
		"review_note":         item.ReviewNote,
		"last_error":          item.LastError,
		"created_at":          item.CreatedAt,
		"updated_at":          item.UpdatedAt,
	}
}

func runJSON(run *database.RunRecord) map[string]interface{} {
	if run == nil {
		return nil
	}
	return map[string]interface{}{
		"id":          run.ID,
		"source":      run.Source,
		"trigger":     run.Trigger,
		"status":      run.Status,
		"message":     run.Message,
		"started_at":  run.StartedAt,
		"finished_at": run.FinishedAt,
		"duration_ms": run.DurationMs,
		"counters":    run.Counters,
	}
}
