package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"skywatchcore/internal/fanout"
	"skywatchcore/pkg/models"
)

// Repository is the persistence surface the engine needs, implemented by
// internal/store.Store.
type Repository interface {
	ListAlertRules() ([]models.AlertRule, error)
	InsertAlertHistory(h *models.AlertHistory) error
	TouchAlertRuleCooldown(id string, at time.Time) error
}

// Publisher fans a "triggered" event out on the "alerts" topic.
type Publisher interface {
	Publish(topic fanout.Topic, event string, payload interface{}) error
}

// Notifier enqueues an operator push for a rule fire.
type Notifier interface {
	EnqueueSimple(key, title, body string, critical bool)
}

// compiledRules is the read-mostly snapshot the engine atomically swaps in
// whenever a rule CRUD invalidates it, per spec.md §4.3's "Rule cache".
type compiledRules struct {
	rules []models.AlertRule
}

// Engine is the composed AlertEngine: compiled rule snapshot (lock-free
// reads via atomic.Pointer), per-(rule,icao) cooldown bookkeeping, and the
// fire pipeline (AlertHistory write, fan-out publish, webhook POST,
// notification enqueue).
type Engine struct {
	repo      Repository
	publisher Publisher
	notifier  Notifier
	client    *http.Client
	rx        models.ReceiverLocation

	snapshot atomic.Pointer[compiledRules]

	mu       sync.Mutex
	cooldown map[string]time.Time
}

func New(repo Repository, publisher Publisher, notifier Notifier, rx models.ReceiverLocation) *Engine {
	e := &Engine{
		repo:      repo,
		publisher: publisher,
		notifier:  notifier,
		client:    &http.Client{Timeout: 10 * time.Second},
		rx:        rx,
		cooldown:  make(map[string]time.Time),
	}
	e.snapshot.Store(&compiledRules{})
	return e
}

// Invalidate triggers a rebuild of the compiled snapshot from the
// repository. Call after any rule CRUD.
func (e *Engine) Invalidate() error {
	rules, err := e.repo.ListAlertRules()
	if err != nil {
		return fmt.Errorf("alerts: reload rules: %w", err)
	}
	e.snapshot.Store(&compiledRules{rules: rules})
	return nil
}

// CheckAll evaluates every enabled, scheduled rule against every aircraft in
// obs, firing each rule/aircraft pair whose cooldown has elapsed.
func (e *Engine) CheckAll(ctx context.Context, now time.Time, obs []models.AircraftObservation) {
	snap := e.snapshot.Load()
	if snap == nil || len(snap.rules) == 0 {
		return
	}
	for i := range obs {
		e.checkAircraft(ctx, now, snap.rules, &obs[i])
	}
}

func (e *Engine) checkAircraft(ctx context.Context, now time.Time, rules []models.AlertRule, o *models.AircraftObservation) {
	ec := &evalContext{obs: o}
	if o.Lat != nil && o.Lon != nil {
		ec.distanceNM = models.HaversineNM(e.rx.Lat, e.rx.Lon, *o.Lat, *o.Lon)
		ec.hasDistance = true
	}
	for i := range rules {
		r := &rules[i]
		if !r.Enabled {
			continue
		}
		if !r.ActiveAt(now) {
			continue
		}
		if !matches(r, ec) {
			continue
		}
		e.fire(ctx, now, r, o)
	}
}

func (e *Engine) cooldownKey(ruleID, icao string) string {
	return ruleID + "|" + icao
}

func (e *Engine) cooledDown(key string, cooldown time.Duration, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.cooldown[key]; ok && cooldown > 0 && now.Sub(last) < cooldown {
		return false
	}
	e.cooldown[key] = now
	return true
}

// fire implements spec.md §4.3's firing contract: write an AlertHistory
// row, publish to "alerts", optionally POST the webhook, optionally enqueue
// a notification. Firing installs a fresh cooldown entry.
func (e *Engine) fire(ctx context.Context, now time.Time, r *models.AlertRule, o *models.AircraftObservation) {
	key := e.cooldownKey(r.ID, o.ICAO)
	cooldown := time.Duration(r.CooldownSeconds) * time.Second
	if !e.cooledDown(key, cooldown, now) {
		return
	}

	msg := fmt.Sprintf("Rule %q matched %s", r.Name, o.ICAO)
	hist := &models.AlertHistory{
		RuleID:      r.ID,
		ICAO:        o.ICAO,
		Callsign:    o.Callsign,
		Message:     msg,
		Priority:    r.Priority,
		Snapshot:    *o,
		TriggeredAt: now,
	}

	if e.repo != nil {
		if err := e.repo.InsertAlertHistory(hist); err != nil {
			log.Printf("[ALERTS] failed to persist alert history for rule %s: %v", r.ID, err)
		}
		if err := e.repo.TouchAlertRuleCooldown(r.ID, now); err != nil {
			log.Printf("[ALERTS] failed to touch cooldown for rule %s: %v", r.ID, err)
		}
	}

	if e.publisher != nil {
		if err := e.publisher.Publish(fanout.TopicAlerts, "triggered", hist); err != nil {
			log.Printf("[ALERTS] fan-out publish failed for rule %s: %v", r.ID, err)
		}
	}

	if r.WebhookURL != "" {
		go e.postWebhook(ctx, r, o, msg, now)
	}

	if e.notifier != nil {
		e.notifier.EnqueueSimple(key, "Alert: "+r.Name, msg, r.Priority == models.PriorityCritical)
	}
}

type webhookBody struct {
	RuleName     string      `json:"rule_name"`
	Message      string      `json:"message"`
	Priority     string      `json:"priority"`
	ICAO         string      `json:"icao"`
	Callsign     string      `json:"callsign"`
	AircraftData interface{} `json:"aircraft_data"`
	TriggeredAt  time.Time   `json:"triggered_at"`
}

// postWebhook fires the rule's configured webhook, fire-and-forget with a
// 10 second timeout, per spec.md §6's webhook egress contract: a failure is
// logged, never retried.
func (e *Engine) postWebhook(ctx context.Context, r *models.AlertRule, o *models.AircraftObservation, msg string, now time.Time) {
	body := webhookBody{
		RuleName: r.Name, Message: msg, Priority: string(r.Priority),
		ICAO: o.ICAO, Callsign: o.Callsign, AircraftData: o, TriggeredAt: now,
	}
	data, err := json.Marshal(body)
	if err != nil {
		log.Printf("[ALERTS] failed to marshal webhook body for rule %s: %v", r.ID, err)
		return
	}

	hookCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(hookCtx, http.MethodPost, r.WebhookURL, bytes.NewReader(data))
	if err != nil {
		log.Printf("[ALERTS] failed to build webhook request for rule %s: %v", r.ID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		log.Printf("[ALERTS] webhook POST failed for rule %s: %v", r.ID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Printf("[ALERTS] webhook for rule %s returned status %d", r.ID, resp.StatusCode)
	}
}

// sweepCooldowns drops cooldown entries no longer relevant, the same
// ticker-driven eviction shape as the teacher's Dispatcher.cleanupRecent.
func (e *Engine) sweepCooldowns(now time.Time, maxAge time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, t := range e.cooldown {
		if now.Sub(t) > maxAge {
			delete(e.cooldown, key)
		}
	}
}

// Run periodically sweeps stale cooldown entries until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			maxAge := time.Hour
			if snap := e.snapshot.Load(); snap != nil {
				for _, r := range snap.rules {
					if d := time.Duration(r.CooldownSeconds) * time.Second; d > maxAge {
						maxAge = d
					}
				}
			}
			e.sweepCooldowns(time.Now(), maxAge)
		}
	}
}
