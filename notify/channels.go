package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/yanun0323/logs"
)

var severityColor = map[Severity]int{
	Info:     0x3498db,
	Warning:  0xf1c40f,
	Critical: 0xe74c3c,
}

// Discord posts alerts as embeds to a Discord webhook.
type Discord struct {
	URL    string
	Footer string
	Client *http.Client
}

func NewDiscord(url string) *Discord {
	return &Discord{URL: url, Footer: "autotrader", Client: &http.Client{Timeout: 10 * time.Second}}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, a Alert) error {
	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title":       a.Title(),
				"description": describe(a),
				"color":       severityColor[a.Severity],
				"footer":      map[string]string{"text": d.Footer},
				"timestamp":   a.Time.UTC().Format(time.RFC3339),
			},
		},
	}
	return postJSON(ctx, d.Client, d.URL, payload)
}

func describe(a Alert) string {
	if len(a.Data) == 0 {
		return a.Message
	}
	keys := make([]string, 0, len(a.Data))
	for k := range a.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(a.Message)
	b.WriteString("\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n**%s**: %v", k, a.Data[k])
	}
	return b.String()
}

// Webhook posts the alert as plain JSON.
type Webhook struct {
	URL    string
	Client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, a Alert) error {
	return postJSON(ctx, w.Client, w.URL, struct {
		Alert
		Severity string `json:"severity"`
	}{a, a.Severity.String()})
}

func postJSON(ctx context.Context, client *http.Client, url string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned status: %d", url, resp.StatusCode)
	}
	return nil
}

// Log writes alerts to the process log.
type Log struct{}

func (Log) Name() string { return "log" }

func (Log) Send(_ context.Context, a Alert) error {
	switch a.Severity {
	case Critical:
		logs.Errorf("%s %s %v", a.Title(), a.Message, a.Data)
	case Warning:
		logs.Warnf("%s %s %v", a.Title(), a.Message, a.Data)
	default:
		logs.Infof("%s %s %v", a.Title(), a.Message, a.Data)
	}
	return nil
}
