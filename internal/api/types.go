package api

import (
	"time"

	"github.com/lysyi3m/feed-fetcher/internal/database"
	"github.com/lysyi3m/feed-fetcher/internal/dialect"
	"github.com/lysyi3m/feed-fetcher/internal/tasks"
)

type Handler struct {
	store     database.Store
	scheduler tasks.SchedulerInterface
	registry  *dialect.Registry
}

type feedResponse struct {
	ID              int64             `json:"id"`
	OwnerID         int64             `json:"owner_id"`
	SourceURL       string            `json:"source_url"`
	RefreshInterval string            `json:"refresh_interval"`
	NextScanAt      *time.Time        `json:"next_scan_at"`
	Terminated      bool              `json:"terminated"`
	Supported       bool              `json:"supported"`
	Title           string            `json:"title,omitempty"`
	Description     string            `json:"description,omitempty"`
	SiteLink        string            `json:"site_link,omitempty"`
	Language        string            `json:"language,omitempty"`
	Image           string            `json:"image,omitempty"`
	TTL             *int              `json:"ttl,omitempty"`
	LastBuildDate   *time.Time        `json:"last_build_date,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
	ItemCount       int               `json:"item_count"`
	UpdatedAt       time.Time         `json:"updated_at"`
}
