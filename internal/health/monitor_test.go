package health

import (
	"testing"
	"time"

	"skywatchcore/internal/config"
	"skywatchcore/internal/fanout"
)

type recordingPublisher struct {
	events []Stats
}

func (p *recordingPublisher) Publish(topic fanout.Topic, event string, payload interface{}) error {
	if topic == fanout.TopicStats {
		p.events = append(p.events, payload.(Stats))
	}
	return nil
}

type recordingNotifier struct {
	keys []string
}

func (n *recordingNotifier) EnqueueSimple(key, title, body string, critical bool) {
	n.keys = append(n.keys, key)
}

func TestCheckThresholdsFiresOnlyWhenExceeded(t *testing.T) {
	notifier := &recordingNotifier{}
	m := New(config.HealthThresholds{CPUPercent: 80, MemoryPercent: 90, TempCelsius: 70}, nil, notifier)

	m.checkThresholds(Stats{CPUPercent: 50, MemoryPercent: 50, TempCelsius: 40})
	if len(notifier.keys) != 0 {
		t.Fatalf("expected no notification below thresholds, got %v", notifier.keys)
	}

	m.checkThresholds(Stats{CPUPercent: 95, MemoryPercent: 50, TempCelsius: 40})
	if len(notifier.keys) != 1 || notifier.keys[0] != "health:cpu" {
		t.Fatalf("expected a single health:cpu notification, got %v", notifier.keys)
	}
}

func TestCheckThresholdsIgnoresDisabledChecks(t *testing.T) {
	notifier := &recordingNotifier{}
	m := New(config.HealthThresholds{}, nil, notifier)

	m.checkThresholds(Stats{CPUPercent: 100, MemoryPercent: 100, TempCelsius: 100})
	if len(notifier.keys) != 0 {
		t.Fatalf("expected zero-valued thresholds to disable all checks, got %v", notifier.keys)
	}
}

func TestCollectPublishesStats(t *testing.T) {
	pub := &recordingPublisher{}
	m := New(config.HealthThresholds{}, pub, nil)

	m.collect()
	if len(pub.events) != 1 {
		t.Fatalf("expected one stats publish, got %d", len(pub.events))
	}
}

func TestGetStatsUpdatesUptime(t *testing.T) {
	m := New(config.HealthThresholds{}, nil, nil)
	time.Sleep(10 * time.Millisecond)
	if m.GetStats().Uptime <= 0 {
		t.Fatal("expected uptime to increase")
	}
}
