package db

import (
	"strings"
	"testing"
	"time"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
)

func TestBuildTransition_GuardsAndPatch(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	day := domain.DayOf(now, time.UTC)

	sql, args := buildTransition(domain.Transition{
		HotspotID: "7f7e4c9e-9a55-4c39-8d43-2f1f0f3f6a01",
		From:      domain.StatusValidated,
		To:        domain.StatusCrawling,
		Patch:     domain.Patch{CrawlStartedAt: &now, CountCrawlOn: &day},
	})

	for _, want := range []string{
		"status = $1",
		"crawl_started_at = $2",
		"crawl_count = CASE WHEN crawl_count_day = $3::date THEN crawl_count + 1 ELSE 1 END",
		"WHERE id = $4 AND status = $5",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("sql %q missing %q", sql, want)
		}
	}

	if len(args) != 5 {
		t.Fatalf("args = %d, want 5", len(args))
	}

	if args[4] != string(domain.StatusValidated) {
		t.Fatalf("from arg = %v, want validated", args[4])
	}
}

func TestBuildTransition_ClearWinsOverSet(t *testing.T) {
	now := time.Now()

	sql, _ := buildTransition(domain.Transition{
		From: domain.StatusCrawling,
		To:   domain.StatusOutdated,
		Patch: domain.Patch{
			CrawlStartedAt:         &now,
			ClearCrawlStartedAt:    true,
			ClearAnalysisStartedAt: true,
		},
		LastSeenBefore:     now,
		CrawlStartedBefore: now,
	})

	if !strings.Contains(sql, "crawl_started_at = NULL") || strings.Contains(sql, "crawl_started_at = $") {
		t.Fatalf("crawl_started_at not cleared: %q", sql)
	}

	if !strings.Contains(sql, "analysis_started_at = NULL") {
		t.Fatalf("analysis_started_at not cleared: %q", sql)
	}

	if !strings.Contains(sql, "last_seen_at < $") || !strings.Contains(sql, "crawl_started_at < $") {
		t.Fatalf("guards missing: %q", sql)
	}
}

func TestBuildTransition_CrawlCapGuards(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	day := domain.DayOf(now, time.UTC)

	sql, args := buildTransition(domain.Transition{
		HotspotID:    "7f7e4c9e-9a55-4c39-8d43-2f1f0f3f6a01",
		From:         domain.StatusValidated,
		To:           domain.StatusCrawling,
		Patch:        domain.Patch{CrawlStartedAt: &now, CountCrawlOn: &day},
		CrawlCap:     4,
		CrawlCapDay:  day,
		CooledBefore: now.Add(-6 * time.Hour),
	})

	for _, want := range []string{
		"(crawl_count_day IS DISTINCT FROM $6::date OR crawl_count < $7)",
		"(last_crawled_at IS NULL OR last_crawled_at < $8)",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("sql %q missing %q", sql, want)
		}
	}

	if len(args) != 8 {
		t.Fatalf("args = %d, want 8", len(args))
	}
}

func TestHotspotColumns_Prefixed(t *testing.T) {
	cols := hotspotColumns("h")
	if !strings.HasPrefix(cols, "h.id, h.keyword") {
		t.Fatalf("hotspotColumns(h) = %q", cols)
	}

	if strings.Contains(hotspotColumns(""), "embedding") {
		t.Fatal("embedding must not be selected")
	}

	if got := prefixed("s", "id,\n\tkeyword"); got != "s.id, s.keyword" {
		t.Fatalf("prefixed = %q", got)
	}
}

func TestGateTime_TruncatesToMicroseconds(t *testing.T) {
	in := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.FixedZone("x", 3600))

	got := gateTime(in)
	if got.Nanosecond() != 123456000 || got.Location() != time.UTC {
		t.Fatalf("gateTime = %v", got)
	}
}

func TestSanitizeUTF8(t *testing.T) {
	if got := SanitizeUTF8("ok\xffok"); got != "okok" {
		t.Fatalf("SanitizeUTF8 = %q", got)
	}

	if got := SanitizeUTF8("热搜"); got != "热搜" {
		t.Fatalf("SanitizeUTF8 changed valid text: %q", got)
	}
}

func TestUUIDRoundTrip(t *testing.T) {
	id := "7f7e4c9e-9a55-4c39-8d43-2f1f0f3f6a01"
	if got := fromUUID(toUUID(id)); got != id {
		t.Fatalf("round trip = %q", got)
	}

	if toUUID("not-a-uuid").Valid {
		t.Fatal("invalid uuid must be NULL")
	}
}
