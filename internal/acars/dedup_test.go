package acars

import (
	"testing"
	"time"

	"skywatchcore/pkg/models"
)

func newTestMessage(icao, label, text string, at time.Time) *models.AcarsMessage {
	m := &models.AcarsMessage{
		ICAO: icao, Label: label, Text: text, Timestamp: at,
	}
	m.Hash = contentHash(m)
	return m
}

func TestDedupSuppressesRepeatWithinTTL(t *testing.T) {
	d := newDedupCache()
	now := time.Now()

	first := newTestMessage("ABC123", "80", "OOOI EVENT", now)
	if d.seen(first) {
		t.Fatal("first occurrence should not be flagged as seen")
	}

	second := newTestMessage("ABC123", "80", "OOOI EVENT", now)
	if !d.seen(second) {
		t.Fatal("exact repeat within TTL should be flagged as seen")
	}
	// The duplicate count lives in the service's per-source counters, not in
	// dedupCache; drive the same datagram through the service twice.
	svc := New(Options{}, nil, nil)
	raw := []byte(`{"timestamp": 1700000000, "icao_hex": "ABC123", "label": "80", "text": "OOOI EVENT"}`)
	svc.handleDatagram(models.ChannelACARS, raw, now)
	svc.handleDatagram(models.ChannelACARS, raw, now.Add(5*time.Second))
	if got := svc.GetStats().Acars.Duplicates; got != 1 {
		t.Fatalf("expected duplicates counter 1, got %d", got)
	}
}

func TestDedupDistinguishesDifferentMessages(t *testing.T) {
	d := newDedupCache()
	now := time.Now()

	a := newTestMessage("ABC123", "80", "OOOI EVENT", now)
	b := newTestMessage("ABC123", "80", "DIFFERENT TEXT ENTIRELY", now)

	if d.seen(a) {
		t.Fatal("first message should not be seen")
	}
	if d.seen(b) {
		t.Fatal("message with different text should not be flagged as duplicate")
	}
}

func TestDedupIgnoresSubSecondJitter(t *testing.T) {
	d := newDedupCache()
	base := time.Now().Truncate(time.Second)

	a := newTestMessage("ABC123", "80", "OOOI EVENT", base)
	b := newTestMessage("ABC123", "80", "OOOI EVENT", base.Add(400*time.Millisecond))

	if d.seen(a) {
		t.Fatal("first message should not be seen")
	}
	if !d.seen(b) {
		t.Fatal("same-second jitter should still hash to the same dedup key")
	}
}
