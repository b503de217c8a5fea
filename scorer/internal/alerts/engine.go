package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/echoguard/echoguard/scorer/internal/config"
	"github.com/echoguard/echoguard/scorer/internal/pipeline"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Alert is a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	DeviceID   string     `json:"device_id"`
	File       string     `json:"file"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

// Engine evaluates alert rules against pipeline results. It is safe for
// concurrent use.
type Engine struct {
	rules    []config.AlertRule
	webhooks []config.WebhookConfig

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName:deviceID"
	lastFire map[string]time.Time // cooldown per key
	history  []*Alert
	client   *http.Client
	now      func() time.Time
	wg       sync.WaitGroup
}

// New creates an Engine. An Engine without rules is valid; Evaluate is then a
// no-op.
func New(cfg config.AlertsConfig) *Engine {
	return &Engine{
		rules:    cfg.Rules,
		webhooks: cfg.Webhooks,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

// Observe implements pipeline.Observer.
func (e *Engine) Observe(_ context.Context, res *pipeline.Result, err error) error {
	if err != nil || res == nil {
		return nil
	}
	e.Evaluate(res)
	return nil
}

// Evaluate tests every rule against res. Rules that fire outside their
// cooldown are recorded and delivered asynchronously; firing rules whose
// condition no longer holds for the device are resolved.
func (e *Engine) Evaluate(res *pipeline.Result) {
	now := e.now()
	for _, rule := range e.rules {
		key := rule.Name + ":" + res.DeviceID
		fires, value := evalCondition(rule.Condition, res)

		var a *Alert
		if fires {
			a = e.fire(key, rule, res, value, now)
		} else {
			a = e.resolve(key, now)
		}
		if a == nil {
			continue
		}
		if a.State == "firing" {
			slog.Warn("alert fired", "rule", a.RuleName, "device_id", a.DeviceID,
				"file", a.File, "value", a.Value, "severity", a.Severity)
		} else {
			slog.Info("alert resolved", "rule", a.RuleName, "device_id", a.DeviceID)
		}
		e.async(a)
	}
}

// fire records a firing alert for key and returns a copy, or nil while the
// rule is cooling down.
func (e *Engine) fire(key string, rule config.AlertRule, res *pipeline.Result, value float64, now time.Time) *Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cooldown := rule.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if now.Sub(e.lastFire[key]) <= cooldown {
		return nil
	}
	sev := rule.Severity
	if sev == "" {
		sev = "warning"
	}
	a := &Alert{
		ID:       fmt.Sprintf("%s:%d", key, now.UnixNano()),
		RuleName: rule.Name,
		DeviceID: res.DeviceID,
		File:     res.Event.Key,
		Severity: sev,
		Value:    value,
		Message:  fmt.Sprintf("%s on %s (%s): %s, value %g", rule.Name, res.DeviceID, res.Event.Key, rule.Condition, value),
		FiredAt:  now,
		State:    "firing",
	}
	e.active[key] = a
	e.lastFire[key] = now
	cp := *a
	return &cp
}

// resolve moves a firing alert for key into history and returns a copy, or
// nil when nothing is firing.
func (e *Engine) resolve(key string, now time.Time) *Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.active[key]
	if !ok {
		return nil
	}
	delete(e.active, key)
	a.State = "resolved"
	a.ResolvedAt = &now
	e.history = append(e.history, a)
	if n := len(e.history) - maxHistoryLen; n > 0 {
		e.history = e.history[n:]
	}
	cp := *a
	return &cp
}

// Active returns copies of all firing alerts plus alerts resolved within the
// past hour, newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))
	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Wait blocks until in-flight webhook deliveries finish.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) async(a *Alert) {
	if len(e.webhooks) == 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.deliver(a)
	}()
}
