package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kjannette/stockwatch-backend/internal/httputil"
)

type Level string

const (
	LevelInfo Level = "info"
	LevelWarn Level = "warn"
	LevelOK   Level = "ok"
)

// Event is one ops notification. Dashboard and Symbols are empty for
// service-wide events.
type Event struct {
	Level     Level
	Title     string
	Detail    string
	Dashboard string
	Symbols   int
	At        time.Time
}

// Sender posts ops events to a Slack or Discord webhook. With no URL it
// only writes to the console.
type Sender struct {
	webhookURL string
	botName    string
	discord    bool
	httpClient *http.Client
	retry      httputil.RetryConfig
}

func NewSender(webhookURL, botName string) *Sender {
	if botName == "" {
		botName = "StockWatch"
	}
	return &Sender{
		webhookURL: webhookURL,
		botName:    botName,
		discord:    strings.Contains(webhookURL, "discord"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
		},
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}

// ServiceStarted announces a running server.
func (s *Sender) ServiceStarted(port int, provider, store string) {
	s.Post(Event{
		Level:  LevelInfo,
		Title:  "Service started",
		Detail: fmt.Sprintf("port %d, %s quotes, %s store", port, provider, store),
	})
}

// ServiceStopped announces a clean shutdown and how many dashboards it closed.
func (s *Sender) ServiceStopped(sessions int) {
	s.Post(Event{
		Level:  LevelInfo,
		Title:  "Service stopped",
		Detail: fmt.Sprintf("%d dashboard sessions closed", sessions),
	})
}

// RefreshFailed reports the first failing refresh cycle of a dashboard
// after a healthy one.
func (s *Sender) RefreshFailed(dashboard string, symbols int, err error) {
	s.Post(Event{
		Level:     LevelWarn,
		Title:     "Market data refresh failing",
		Detail:    err.Error(),
		Dashboard: dashboard,
		Symbols:   symbols,
	})
}

// RefreshRecovered reports the first healthy cycle after failures.
func (s *Sender) RefreshRecovered(dashboard string, symbols int) {
	s.Post(Event{
		Level:     LevelOK,
		Title:     "Market data refresh recovered",
		Dashboard: dashboard,
		Symbols:   symbols,
	})
}

// Send posts a free-form info event.
func (s *Sender) Send(msg string) {
	s.Post(Event{Level: LevelInfo, Title: msg})
}

// Post logs ev and delivers it to the webhook. Delivery failures are logged
// and dropped.
func (s *Sender) Post(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	fmt.Printf("[NOTIFY] %s %s\n", ev.At.Format(time.RFC3339), ev.line())

	if s.webhookURL == "" {
		return
	}

	var payload any = s.slackPayload(ev)
	if s.discord {
		payload = s.discordPayload(ev)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		fmt.Printf("[NOTIFY] marshal: %v\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		fmt.Printf("[NOTIFY] %s delivery failed after retries: %v\n", ev.Title, err)
		return
	}
	resp.Body.Close()
}

// line renders ev as a single console or chat line.
func (ev Event) line() string {
	var b strings.Builder
	b.WriteString(ev.Title)
	if ev.Dashboard != "" {
		fmt.Fprintf(&b, " (dashboard %s, %d symbols)", ev.Dashboard, ev.Symbols)
	}
	if ev.Detail != "" {
		b.WriteString(": ")
		b.WriteString(ev.Detail)
	}
	return b.String()
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Content  string         `json:"content"`
	Embeds   []discordEmbed `json:"embeds"`
}

type slackPayload struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

var levelColors = map[Level]int{
	LevelInfo: 0x3498db,
	LevelWarn: 0xe67e22,
	LevelOK:   0x2ecc71,
}

var levelEmoji = map[Level]string{
	LevelInfo: ":information_source:",
	LevelWarn: ":warning:",
	LevelOK:   ":white_check_mark:",
}

func (s *Sender) discordPayload(ev Event) discordPayload {
	embed := discordEmbed{
		Title:       ev.Title,
		Description: ev.Detail,
		Color:       levelColors[ev.Level],
		Timestamp:   ev.At.Format(time.RFC3339),
	}
	if ev.Dashboard != "" {
		embed.Fields = []discordField{
			{Name: "Dashboard", Value: ev.Dashboard, Inline: true},
			{Name: "Symbols", Value: fmt.Sprint(ev.Symbols), Inline: true},
		}
	}
	return discordPayload{
		Username: s.botName,
		Content:  fmt.Sprintf("[%s] %s", s.botName, ev.Title),
		Embeds:   []discordEmbed{embed},
	}
}

func (s *Sender) slackPayload(ev Event) slackPayload {
	return slackPayload{
		Username: s.botName,
		Text:     fmt.Sprintf("%s `%s`", levelEmoji[ev.Level], ev.line()),
	}
}
