package acars

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"skywatchcore/internal/fanout"
	"skywatchcore/pkg/models"
)

// Store is the persistence surface the service needs.
type Store interface {
	InsertAcarsMessage(m *models.AcarsMessage) error
}

// Publisher fans normalized messages out on the "acars" topic.
type Publisher interface {
	Publish(topic fanout.Topic, event string, payload interface{}) error
}

// SourceStats is a point-in-time snapshot of one UDP source's counters, per
// spec.md §4.5's statistics surface.
type SourceStats struct {
	Total      uint64
	Errors     uint64
	Duplicates uint64
	LastHour   int
}

// Stats is the combined acars/vdl2 statistics snapshot.
type Stats struct {
	Acars SourceStats
	Vdlm2 SourceStats
	Ring  int
}

type sourceCounters struct {
	mu         sync.Mutex
	total      uint64
	errors     uint64
	duplicates uint64
	recent     []time.Time
}

func (c *sourceCounters) recordTotal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
}

func (c *sourceCounters) recordError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors++
}

func (c *sourceCounters) recordDuplicate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.duplicates++
}

func (c *sourceCounters) recordAccepted(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent = append(c.recent, at)
}

func (c *sourceCounters) snapshot(now time.Time) SourceStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := now.Add(-time.Hour)
	kept := c.recent[:0]
	for _, t := range c.recent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.recent = kept
	return SourceStats{Total: c.total, Errors: c.errors, Duplicates: c.duplicates, LastHour: len(kept)}
}

// Service wires the UDP listeners through normalize -> dedup -> enrich ->
// ring -> persist -> publish, per spec.md §4.5.
type Service struct {
	store     Store
	publisher Publisher

	acarsListener *listener
	vdlm2Listener *listener

	dedup *dedupCache
	ring  *ring

	acarsCounters *sourceCounters
	vdlm2Counters *sourceCounters
}

// Options configures which listeners to start; a zero port disables that
// listener, per spec.md §6's AcarsEnabled/Vdlm2Port toggles.
type Options struct {
	AcarsPort int
	Vdlm2Port int
}

func New(opts Options, store Store, publisher Publisher) *Service {
	s := &Service{
		store:         store,
		publisher:     publisher,
		dedup:         newDedupCache(),
		ring:          newRing(),
		acarsCounters: &sourceCounters{},
		vdlm2Counters: &sourceCounters{},
	}
	if opts.AcarsPort > 0 {
		s.acarsListener = newListener(models.ChannelACARS, opts.AcarsPort)
	}
	if opts.Vdlm2Port > 0 {
		s.vdlm2Listener = newListener(models.ChannelVDL2, opts.Vdlm2Port)
	}
	return s
}

// Run starts the configured UDP listeners and blocks until ctx is cancelled
// or a listener fails to bind.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	started := false

	if s.acarsListener != nil {
		started = true
		g.Go(func() error {
			return s.acarsListener.run(ctx, s.handleDatagram)
		})
	}
	if s.vdlm2Listener != nil {
		started = true
		g.Go(func() error {
			return s.vdlm2Listener.run(ctx, s.handleDatagram)
		})
	}
	if !started {
		<-ctx.Done()
		return nil
	}
	return g.Wait()
}

func (s *Service) counters(channel models.AcarsChannel) *sourceCounters {
	if channel == models.ChannelVDL2 {
		return s.vdlm2Counters
	}
	return s.acarsCounters
}

// handleDatagram is the per-datagram pipeline: decode, dedup, enrich,
// buffer, persist, publish. Decode/persist/publish failures are logged and
// counted, never fatal to the listener loop.
func (s *Service) handleDatagram(channel models.AcarsChannel, data []byte, recvAt time.Time) {
	counters := s.counters(channel)
	counters.recordTotal()

	msg, err := parseDatagram(data, channel, recvAt)
	if err != nil {
		counters.recordError()
		log.Printf("[ACARS] %s decode error: %v", channel, err)
		return
	}

	msg.Hash = contentHash(msg)
	if s.dedup.seen(msg) {
		counters.recordDuplicate()
		return
	}

	enrich(msg)
	s.ring.add(msg)
	counters.recordAccepted(recvAt)

	if s.store != nil {
		if err := s.store.InsertAcarsMessage(msg); err != nil {
			log.Printf("[ACARS] failed to persist %s message: %v", channel, err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(fanout.TopicAcars, "message", msg); err != nil {
			log.Printf("[ACARS] fan-out publish failed: %v", err)
		}
		// Per-ICAO sub-topic, per spec.md §4.5's "acars/<icao>" output
		// contract, so a client tracking one aircraft can subscribe narrowly.
		if msg.ICAO != "" {
			icaoTopic := fanout.Topic("acars/" + msg.ICAO)
			if err := s.publisher.Publish(icaoTopic, "message", msg); err != nil {
				log.Printf("[ACARS] fan-out publish failed for %s: %v", icaoTopic, err)
			}
		}
	}
}

// Recent returns up to n of the most recently received messages across both
// channels, newest first.
func (s *Service) Recent(n int) []*models.AcarsMessage {
	return s.ring.recent(n)
}

// GetStats returns a snapshot of both sources' counters plus ring occupancy.
func (s *Service) GetStats() Stats {
	now := time.Now().UTC()
	return Stats{
		Acars: s.acarsCounters.snapshot(now),
		Vdlm2: s.vdlm2Counters.snapshot(now),
		Ring:  s.ring.len(),
	}
}
