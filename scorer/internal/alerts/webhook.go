package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

// payloadFuncs builds the JSON document each webhook type expects.
var payloadFuncs = map[string]func(*Alert) any{
	"slack": slackPayload,
	"teams": teamsPayload,
	"http":  func(a *Alert) any { return map[string]any{"source": "echoguard", "alert": a} },
}

// deliver posts a to every webhook whose URL resolves. Failures are logged and
// never retried; the next firing of the rule is the retry.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		build, ok := payloadFuncs[wh.Type]
		if !ok {
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}
		url := wh.URL()
		if url == "" {
			continue
		}

		body, err := json.Marshal(build(a))
		if err == nil {
			err = e.post(url, body)
		}
		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type, "rule", a.RuleName, "device_id", a.DeviceID, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered", "type", wh.Type, "rule", a.RuleName, "state", a.State)
	}
}

func slackPayload(a *Alert) any {
	verb := "fired"
	if a.State == "resolved" {
		verb = "resolved"
	}
	return map[string]string{
		"text": fmt.Sprintf("*%s* `%s` %s on %s\nfile: %s\nvalue: %s",
			severityLabel(a.Severity), a.RuleName, verb, a.DeviceID, a.File, formatValue(a.Value)),
	}
}

// teamsPayload renders a legacy Office 365 connector card.
func teamsPayload(a *Alert) any {
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a.Severity),
		"summary":    a.RuleName,
		"title":      "EchoGuard Alert: " + a.RuleName,
		"text":       a.Message,
		"sections": []map[string]any{{
			"facts": []map[string]string{
				{"name": "Device", "value": a.DeviceID},
				{"name": "File", "value": a.File},
				{"name": "Value", "value": formatValue(a.Value)},
				{"name": "State", "value": a.State},
			},
		}},
	}
}

func (e *Engine) post(url string, body []byte) error {
	resp, err := e.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alerts: post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("alerts: webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func formatValue(v float64) string { return strconv.FormatFloat(v, 'g', 6, 64) }

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	}
	return "[INFO]"
}

var severityColors = map[string]string{"critical": "FF4F6A", "warning": "FFAB40"}

func severityColor(s string) string {
	if c, ok := severityColors[s]; ok {
		return c
	}
	return "00D4FF"
}
