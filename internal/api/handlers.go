package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/feed-fetcher/internal/cfg"
	"github.com/lysyi3m/feed-fetcher/internal/database"
	"github.com/lysyi3m/feed-fetcher/internal/dialect"
	"github.com/lysyi3m/feed-fetcher/internal/tasks"
)

const healthTimeout = 2 * time.Second

func NewHandler(store database.Store, scheduler tasks.SchedulerInterface, registry *dialect.Registry) *Handler {
	return &Handler{
		store:     store,
		scheduler: scheduler,
		registry:  registry,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	health := gin.H{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   cfg.GetVersion(),
		"database":  h.store.DatabaseType(),
		"dialects":  h.registry.Count(),
	}

	if err := h.store.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		health["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	if counts, err := h.store.CountFeeds(ctx, time.Now()); err == nil {
		health["feeds"] = counts.Total
	}

	health["status"] = "ok"
	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	counts, err := h.store.CountFeeds(c.Request.Context(), time.Now())
	if err != nil {
		slog.Error("Database error", "operation", "count_feeds", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"feeds": gin.H{
			"total":      counts.Total,
			"terminated": counts.Terminated,
			"due":        counts.Due,
		},
		"scheduler": h.scheduler.Stats(),
		"dialects":  h.registry.Keys(),
	})
}

func (h *Handler) APIGetFeed(c *gin.Context) {
	feedID, ok := parseFeedID(c)
	if !ok {
		return
	}

	feed, err := h.store.GetFeed(c.Request.Context(), feedID)
	if err != nil {
		slog.Error("Database error", "operation", "get_feed", "feed_id", feedID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if feed == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}

	itemCount, err := h.store.CountItems(c.Request.Context(), feedID)
	if err != nil {
		slog.Error("Database error", "operation", "count_items", "feed_id", feedID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	_, supported := h.registry.Lookup(tasks.PublisherKey(feed.SourceURL))

	c.JSON(http.StatusOK, feedResponse{
		ID:              feed.ID,
		OwnerID:         feed.OwnerID,
		SourceURL:       feed.SourceURL,
		RefreshInterval: feed.RefreshInterval.String(),
		NextScanAt:      feed.NextScanAt,
		Terminated:      feed.Terminated,
		Supported:       supported,
		Title:           feed.Title,
		Description:     feed.Description,
		SiteLink:        feed.SiteLink,
		Language:        feed.Language,
		Image:           feed.Image,
		TTL:             feed.TTL,
		LastBuildDate:   feed.LastBuildDate,
		Extra:           feed.Extra,
		ItemCount:       itemCount,
		UpdatedAt:       feed.UpdatedAt,
	})
}

// APIPullFeed makes the feed due immediately; the scheduler picks it up on
// its next pass.
func (h *Handler) APIPullFeed(c *gin.Context) {
	h.updateFeed(c, "pull", h.store.PullNow, "scheduled")
}

// APIResumeFeed clears the terminated flag of a feed.
func (h *Handler) APIResumeFeed(c *gin.Context) {
	h.updateFeed(c, "resume", h.store.Resume, "resumed")
}

func (h *Handler) updateFeed(c *gin.Context, operation string, update func(context.Context, int64) error, status string) {
	feedID, ok := parseFeedID(c)
	if !ok {
		return
	}

	err := update(c.Request.Context(), feedID)
	if errors.Is(err, database.ErrFeedNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}
	if err != nil {
		slog.Error("Database error", "operation", operation, "feed_id", feedID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	slog.Info("Feed updated via API", "operation", operation, "feed_id", feedID)
	c.JSON(http.StatusAccepted, gin.H{"id": feedID, "status": status})
}

func parseFeedID(c *gin.Context) (int64, bool) {
	feedID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || feedID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid feed id"})
		return 0, false
	}
	return feedID, true
}
