package channels

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
	"github.com/lueurxax/hotspot-engine/internal/platform/config"
)

func testPayload() ports.PushPayload {
	return ports.PushPayload{
		PushID:    "p1",
		HotspotID: "h1",
		Keyword:   "露营 <装备>",
		Priority:  domain.PriorityHigh,
		Score:     87,
		Report: json.RawMessage(`{"summary":"Camping gear demand & growth","audience":"young families",` +
			`"opportunities":["folding chairs"],"risks":["seasonality"]}`),
	}
}

func TestRenderText(t *testing.T) {
	text := RenderText(testPayload())

	assert.True(t, strings.HasPrefix(text, "[HIGH] 露营 <装备> (score 87)\n"))
	assert.Contains(t, text, "Camping gear demand & growth")
	assert.Contains(t, text, "Audience: young families")
	assert.Contains(t, text, "Opportunities:\n• folding chairs")
	assert.Contains(t, text, "Risks:\n• seasonality")
}

func TestRenderHTML_Escapes(t *testing.T) {
	out := RenderHTML(testPayload())

	assert.Contains(t, out, "<b>[HIGH] 露营 &lt;装备&gt; (score 87)</b>")
	assert.Contains(t, out, "demand &amp; growth")
	assert.Contains(t, out, "<b>Opportunities</b>")
}

func TestRender_FreeFormReport(t *testing.T) {
	p := testPayload()
	p.Report = json.RawMessage(`"just text"`)

	assert.Equal(t, "[HIGH] 露营 <装备> (score 87)\n", RenderText(p))
}

func TestSplitMessage(t *testing.T) {
	t.Run("short text is one part", func(t *testing.T) {
		assert.Equal(t, []string{"hello"}, SplitMessage("hello", 10))
	})

	t.Run("breaks at lines", func(t *testing.T) {
		parts := SplitMessage("aaaa\nbbbb\ncccc\n", 10)
		assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, parts)
	})

	t.Run("long line is cut by units", func(t *testing.T) {
		parts := SplitMessage(strings.Repeat("x", 25), 10)
		assert.Equal(t, []string{"xxxxxxxxxx", "xxxxxxxxxx", "xxxxx"}, parts)
	})

	t.Run("surrogate pairs count twice", func(t *testing.T) {
		// each emoji is 2 UTF-16 units
		parts := SplitMessage(strings.Repeat("😀", 3), 4)
		assert.Equal(t, []string{"😀😀", "😀"}, parts)
	})
}

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}

	msg, ok := c.(tgbotapi.MessageConfig)
	if ok {
		f.sent = append(f.sent, msg)
	}

	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func TestTelegram_Send(t *testing.T) {
	bot := &fakeBot{}
	ch := newTelegram(bot, -100, nil)

	require.NoError(t, ch.Send(context.Background(), testPayload()))
	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(-100), bot.sent[0].ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, bot.sent[0].ParseMode)
	assert.True(t, bot.sent[0].DisableWebPagePreview)
	assert.Equal(t, NameTelegram, ch.Name())
}

func TestTelegram_SendError(t *testing.T) {
	ch := newTelegram(&fakeBot{err: errors.New("forbidden")}, -100, nil)

	err := ch.Send(context.Background(), testPayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden")
}

func TestWebhook_Send(t *testing.T) {
	var (
		got       WebhookMessage
		signature string
		body      []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		signature = r.Header.Get(SignatureHeader)
		_ = json.Unmarshal(body, &got)

		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhook(config.WebhookConfig{URL: srv.URL, Secret: "s3cret"})
	require.NoError(t, ch.Send(context.Background(), testPayload()))

	assert.Equal(t, "p1", got.PushID)
	assert.Equal(t, "high", got.Priority)
	assert.Equal(t, Title(testPayload()), got.Title)
	assert.Equal(t, Sign("s3cret", body), signature)
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhook(config.WebhookConfig{URL: srv.URL})

	err := ch.Send(context.Background(), testPayload())
	require.ErrorIs(t, err, errWebhookStatus)
	assert.Contains(t, err.Error(), "502")
}

type fakeDialer struct {
	messages []*gomail.Message
	err      error
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	f.messages = append(f.messages, m...)

	return f.err
}

func TestEmail_Send(t *testing.T) {
	dialer := &fakeDialer{}
	ch := NewEmail(config.EmailConfig{From: "bot@example.com", To: []string{"a@example.com", "b@example.com"}})
	ch.dialer = dialer

	require.NoError(t, ch.Send(context.Background(), testPayload()))
	require.Len(t, dialer.messages, 1)

	m := dialer.messages[0]
	assert.Equal(t, []string{"bot@example.com"}, m.GetHeader("From"))
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, m.GetHeader("To"))
	assert.Len(t, m.GetHeader("Subject"), 1)
}

func TestEmail_SendError(t *testing.T) {
	ch := NewEmail(config.EmailConfig{From: "bot@example.com", To: []string{"a@example.com"}})
	ch.dialer = &fakeDialer{err: errors.New("connection refused")}

	require.Error(t, ch.Send(context.Background(), testPayload()))
}

func TestBuild_SkipsDisabled(t *testing.T) {
	cfg := &config.Config{WebhookURL: "http://example.invalid/hook", SMTPHost: "smtp.example.com"}

	chans, err := Build(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{NameWebhook}, Names(chans))
}
