// Package channels delivers push payloads to Telegram, webhooks and email.
package channels

import (
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lueurxax/hotspot-engine/internal/core/ports"
	"github.com/lueurxax/hotspot-engine/internal/platform/config"
)

// Channel names as stored on push items.
const (
	NameTelegram = "telegram"
	NameWebhook  = "webhook"
	NameEmail    = "email"
)

const logKeyChannel = "channel"

// Build creates every channel the configuration enables.
func Build(cfg *config.Config, logger *zerolog.Logger) ([]ports.Channel, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	var out []ports.Channel

	if tg := cfg.Telegram(); tg.Enabled() {
		ch, err := NewTelegram(tg, logger)
		if err != nil {
			return nil, err
		}

		out = append(out, ch)
	}

	if wh := cfg.Webhook(); wh.Enabled() {
		out = append(out, NewWebhook(wh))
	}

	if em := cfg.Email(); em.Enabled() {
		out = append(out, NewEmail(em))
	}

	for _, ch := range out {
		logger.Info().Str(logKeyChannel, ch.Name()).Msg("push channel enabled")
	}

	return out, nil
}

// report is the subset of the analysis report the renderers show.
type report struct {
	Summary       string   `json:"summary"`
	Audience      string   `json:"audience"`
	Opportunities []string `json:"opportunities"`
	Risks         []string `json:"risks"`
}

func parseReport(raw json.RawMessage) report {
	var r report
	if len(raw) == 0 {
		return r
	}

	// Free-form reports render without a body.
	_ = json.Unmarshal(raw, &r) //nolint:errcheck

	return r
}

// Title returns the one-line headline of a payload.
func Title(p ports.PushPayload) string {
	return fmt.Sprintf("[%s] %s (score %.0f)", strings.ToUpper(string(p.Priority)), p.Keyword, p.Score)
}

// RenderText formats a payload as plain text.
func RenderText(p ports.PushPayload) string {
	r := parseReport(p.Report)

	var sb strings.Builder

	sb.WriteString(Title(p))
	sb.WriteString("\n")

	if r.Summary != "" {
		sb.WriteString("\n")
		sb.WriteString(r.Summary)
		sb.WriteString("\n")
	}

	if r.Audience != "" {
		fmt.Fprintf(&sb, "\nAudience: %s\n", r.Audience)
	}

	writeList(&sb, "Opportunities", r.Opportunities, false)
	writeList(&sb, "Risks", r.Risks, false)

	return sb.String()
}

// RenderHTML formats a payload with Telegram-compatible HTML tags.
func RenderHTML(p ports.PushPayload) string {
	r := parseReport(p.Report)

	var sb strings.Builder

	fmt.Fprintf(&sb, "<b>%s</b>\n", html.EscapeString(Title(p)))

	if r.Summary != "" {
		fmt.Fprintf(&sb, "\n%s\n", html.EscapeString(r.Summary))
	}

	if r.Audience != "" {
		fmt.Fprintf(&sb, "\n<i>Audience:</i> %s\n", html.EscapeString(r.Audience))
	}

	writeList(&sb, "Opportunities", r.Opportunities, true)
	writeList(&sb, "Risks", r.Risks, true)

	return sb.String()
}

func writeList(sb *strings.Builder, title string, items []string, escape bool) {
	if len(items) == 0 {
		return
	}

	if escape {
		fmt.Fprintf(sb, "\n<b>%s</b>\n", title)
	} else {
		fmt.Fprintf(sb, "\n%s:\n", title)
	}

	for _, it := range items {
		if escape {
			it = html.EscapeString(it)
		}

		fmt.Fprintf(sb, "• %s\n", it)
	}
}

// Names returns the sorted names of chans.
func Names(chans []ports.Channel) []string {
	out := make([]string, 0, len(chans))
	for _, ch := range chans {
		out = append(out, ch.Name())
	}

	sort.Strings(out)

	return out
}
