// Package notify pushes operator notifications (emergency squawks, critical
// safety events, alert-rule triggers) to Apprise-style destination URLs
// (telegram://, pushover://, discord://, ...) per spec.md §6's notification
// egress. Grounded on the teacher's internal/webhook.Dispatcher shape
// (buffered event channel, a background Run loop, a per-key cooldown map
// swept on a ticker) but the outbound transport moves from a single
// hard-coded Discord webhook POST to github.com/containrrr/shoutrrr's
// multi-provider router, the ecosystem's Apprise-equivalent for Go and
// already the teacher's own dependency (go.mod).
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/containrrr/shoutrrr"
	"github.com/containrrr/shoutrrr/pkg/types"
	"golang.org/x/time/rate"

	"skywatchcore/pkg/models"
)

// sendRateLimit bounds outbound pushes across all destinations combined,
// independent of the per-key cooldown, so a burst of distinct keys (many
// aircraft tripping the same rule at once) can't hammer the notifier URLs.
const sendRateLimit = 2 // pushes per second

// NotifyType mirrors spec.md §6's notify_type values.
type NotifyType string

const (
	TypeInfo    NotifyType = "info"
	TypeWarning NotifyType = "warning"
	TypeFailure NotifyType = "failure"
)

// Request is one push request enqueued by a caller (SafetyMonitor's
// emergency/critical detections, AlertEngine's rule fires).
type Request struct {
	Key        string // cooldown key, e.g. "squawk_emergency:A12345" or "<rule id>|<icao>"
	Title      string
	Body       string
	NotifyType NotifyType
}

// Logger is the persistence surface for the append-only send log.
type Logger interface {
	InsertNotificationLog(l *models.NotificationLog) error
}

// Notifier fans a Request out to every configured destination URL, gated by
// a per-key cooldown so a persistent condition (an emergency squawk that
// refreshes every cycle) does not flood the destinations.
type Notifier struct {
	enabled  bool
	urls     []string
	cooldown time.Duration
	logger   Logger

	mu       sync.Mutex
	lastSent map[string]time.Time

	requests chan Request
	limiter  *rate.Limiter
}

type Options struct {
	Enabled         bool
	URLs            []string
	CooldownSeconds int
	Logger          Logger
}

func New(opts Options) *Notifier {
	cooldown := time.Duration(opts.CooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Notifier{
		enabled:  opts.Enabled && len(opts.URLs) > 0,
		urls:     opts.URLs,
		cooldown: cooldown,
		logger:   opts.Logger,
		lastSent: make(map[string]time.Time),
		requests: make(chan Request, 256),
		limiter:  rate.NewLimiter(sendRateLimit, sendRateLimit*2),
	}
}

// Enqueue submits a push request without blocking the caller; a full queue
// drops the request and logs, matching the teacher's Dispatcher.Send
// "queue full, dropping event" behavior.
func (n *Notifier) Enqueue(req Request) {
	if !n.enabled {
		return
	}
	if !n.shouldSend(req.Key) {
		return
	}
	select {
	case n.requests <- req:
	default:
		log.Printf("[NOTIFY] queue full, dropping %s", req.Key)
	}
}

// EnqueueSimple builds a Request from discrete fields, the shape the safety
// and alerts packages call without depending on this package's Request type.
// critical maps to TypeFailure so it routes through Apprise's highest notify
// level; everything else is TypeWarning.
func (n *Notifier) EnqueueSimple(key, title, body string, critical bool) {
	nt := TypeWarning
	if critical {
		nt = TypeFailure
	}
	n.Enqueue(Request{Key: key, Title: title, Body: body, NotifyType: nt})
}

func (n *Notifier) shouldSend(key string) bool {
	if key == "" {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.lastSent[key]; ok && time.Since(last) < n.cooldown {
		return false
	}
	n.lastSent[key] = time.Now()
	return true
}

// Run drains the request queue and sweeps the cooldown map until ctx is
// cancelled, the same ticker-driven cleanup shape as the teacher's
// Dispatcher.Run/cleanupRecent.
func (n *Notifier) Run(ctx context.Context) {
	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-n.requests:
			n.send(ctx, req)
		case <-sweep.C:
			n.sweepCooldowns()
		}
	}
}

func (n *Notifier) send(ctx context.Context, req Request) {
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := n.limiter.Wait(sendCtx); err != nil {
		log.Printf("[NOTIFY] rate limit wait failed for %s: %v", req.Key, err)
		n.logResult(req, false, fmt.Sprintf("rate limit wait: %v", err))
		return
	}

	sender, err := shoutrrr.CreateSender(n.urls...)
	if err != nil {
		n.logResult(req, false, fmt.Sprintf("create sender: %v", err))
		return
	}

	params := types.Params{"title": req.Title}
	errs := sender.Send(req.Body, &params)

	var failure error
	for _, e := range errs {
		if e != nil {
			failure = e
			break
		}
	}
	_ = sendCtx

	if failure != nil {
		log.Printf("[NOTIFY] send failed for %s: %v", req.Key, failure)
		n.logResult(req, false, failure.Error())
		return
	}
	n.logResult(req, true, "")
}

func (n *Notifier) logResult(req Request, sent bool, errMsg string) {
	if n.logger == nil {
		return
	}
	priority := models.PriorityInfo
	switch req.NotifyType {
	case TypeWarning:
		priority = models.PriorityWarning
	case TypeFailure:
		priority = models.PriorityCritical
	}
	entry := &models.NotificationLog{
		ConfigID: req.Key,
		Subject:  req.Title,
		Body:     req.Body,
		Priority: priority,
		Sent:     sent,
		Error:    errMsg,
		SentAt:   time.Now().UTC(),
	}
	if err := n.logger.InsertNotificationLog(entry); err != nil {
		log.Printf("[NOTIFY] failed to persist notification log: %v", err)
	}
}

func (n *Notifier) sweepCooldowns() {
	n.mu.Lock()
	defer n.mu.Unlock()
	cutoff := time.Now().Add(-10 * n.cooldown)
	for key, t := range n.lastSent {
		if t.Before(cutoff) {
			delete(n.lastSent, key)
		}
	}
}
