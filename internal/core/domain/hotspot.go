// Package domain defines the hotspot engine entities and the lifecycle graph.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"
)

// PlatformObservation is one appearance of a signal on a platform.
type PlatformObservation struct {
	Platform  string    `json:"platform"`
	Rank      int       `json:"rank"`
	HeatScore int64     `json:"heat_score"`
	SeenAt    time.Time `json:"seen_at"`
	Key       string    `json:"key"`
}

// ObservationKey identifies an observation for idempotent merges.
func ObservationKey(keyword string, obs PlatformObservation) string {
	h := sha256.New()
	_, _ = h.Write([]byte(keyword))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(obs.Platform))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.Itoa(obs.Rank)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(obs.SeenAt.UTC().Truncate(time.Second).Format(time.RFC3339)))

	return hex.EncodeToString(h.Sum(nil))
}

// Hotspot is a tracked trending signal.
type Hotspot struct {
	ID                string
	Keyword           string
	NormalizedKeyword string
	Embedding         []float32
	ClusterID         string
	FirstSeenAt       time.Time
	SecondSeenAt      *time.Time
	LastSeenAt        time.Time
	AppearanceCount   int
	Platforms         []PlatformObservation
	Status            Status

	// First-stage judgment. ScreenedAt is set once the keep/reject decision exists.
	ScreenedAt   *time.Time
	IsFiltered   bool
	FilterReason string
	FilteredAt   *time.Time

	// Second-stage judgment, recorded separately from the first stage.
	SecondStageRejectionReason string
	SecondStageRejectedAt      *time.Time

	LastCrawledAt     *time.Time
	CrawlCount        int
	CrawlCountDay     time.Time
	CrawlStartedAt    *time.Time
	CrawlFailedCount  int
	CrawlData         json.RawMessage
	AnalysisStartedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasObservation reports whether an observation with key was already merged.
func (h *Hotspot) HasObservation(key string) bool {
	for _, p := range h.Platforms {
		if p.Key == key {
			return true
		}
	}

	return false
}

// CrawlsOn returns the number of crawl claims made on day.
func (h *Hotspot) CrawlsOn(day time.Time) int {
	if !h.CrawlCountDay.Equal(day) {
		return 0
	}

	return h.CrawlCount
}

// Clone returns a deep copy safe to hand out from in-memory stores.
func (h *Hotspot) Clone() *Hotspot {
	c := *h
	c.Embedding = append([]float32(nil), h.Embedding...)
	c.Platforms = append([]PlatformObservation(nil), h.Platforms...)
	c.CrawlData = append(json.RawMessage(nil), h.CrawlData...)

	return &c
}

// DayOf truncates t to the calendar day in loc, used for the daily crawl cap.
func DayOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}

	lt := t.In(loc)

	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, time.UTC)
}

// Cluster is a named group of semantically related hotspots.
type Cluster struct {
	ID                string
	Name              string
	Keywords          []string
	SelectedHotspotID string
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Judgment is a keep/reject decision with its reasoning.
type Judgment struct {
	Keep   bool
	Reason string
}
