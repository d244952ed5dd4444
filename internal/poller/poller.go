// Package poller drives the pipeline by fetching upstream aircraft JSON on a
// fixed cadence, per spec.md §4.1. Grounded on the teacher's
// internal/feed/client.go run-loop/reconnect shape, but the transport moves
// from a persistent TCP SBS/Beast stream to bounded-timeout HTTP GETs.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"skywatchcore/pkg/models"
)

// rawAircraft is the permissive wire shape returned by {base_url}/data/aircraft.json,
// per spec.md §6 and §9's "model the wire shape as a permissive map" guidance.
type rawAircraft struct {
	Hex      string      `json:"hex"`
	Flight   string      `json:"flight"`
	Lat      *float64    `json:"lat"`
	Lon      *float64    `json:"lon"`
	AltBaro  interface{} `json:"alt_baro"`
	AltGeom  *int        `json:"alt_geom"`
	GS       *float64    `json:"gs"`
	Track    *float64    `json:"track"`
	BaroRate *int        `json:"baro_rate"`
	GeomRate *int        `json:"geom_rate"`
	Squawk   string      `json:"squawk"`
	Category string      `json:"category"`
	Type     string      `json:"t"`
	RSSI     *float64    `json:"rssi"`
	DBFlags  int         `json:"dbFlags"`
}

type rawResponse struct {
	Aircraft []rawAircraft `json:"aircraft"`
}

// Pipeline is the downstream consumer; Poller hands it the merged observation
// list once per tick.
type Pipeline interface {
	Process(ctx context.Context, observations []models.AircraftObservation, storeDue bool)
}

type Stats struct {
	LastFetch      time.Time `json:"last_fetch"`
	LastFetchCount int       `json:"last_fetch_count"`
	TotalTicks     uint64    `json:"total_ticks"`
	PrimaryErrors  uint64    `json:"primary_errors"`
	SecondaryErrors uint64   `json:"secondary_errors"`
}

// Poller issues GET requests against the primary (1090) and optional
// secondary (978/UAT) aggregator URLs on a time.Ticker, merges the results
// (primary first), and hands the merged list to Pipeline.
type Poller struct {
	primaryURL   string
	secondaryURL string
	interval     time.Duration
	storeEvery   time.Duration
	client       *http.Client
	pipeline     Pipeline

	mu        sync.RWMutex
	stats     Stats
	lastStore time.Time

	totalTicks      uint64
	primaryErrors   uint64
	secondaryErrors uint64
}

type Options struct {
	PrimaryURL   string
	SecondaryURL string
	Interval     time.Duration
	StoreEvery   time.Duration
	Pipeline     Pipeline
}

func New(opts Options) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	storeEvery := opts.StoreEvery
	if storeEvery <= 0 {
		storeEvery = 15 * time.Second
	}
	return &Poller{
		primaryURL:   opts.PrimaryURL,
		secondaryURL: opts.SecondaryURL,
		interval:     interval,
		storeEvery:   storeEvery,
		client:       &http.Client{Timeout: 3 * time.Second},
		pipeline:     opts.Pipeline,
	}
}

// Run drives the poll loop until ctx is cancelled. A missed tick does not
// double-fire: time.Ticker drops ticks the receiver doesn't keep up with.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	var primary, secondary []models.AircraftObservation
	g, gCtx := errgroup.WithContext(tickCtx)

	g.Go(func() error {
		obs, err := p.fetch(gCtx, p.primaryURL, models.Source1090)
		if err != nil {
			atomic.AddUint64(&p.primaryErrors, 1)
			log.Printf("[POLLER] primary fetch failed: %v", err)
			return nil
		}
		primary = obs
		return nil
	})

	if p.secondaryURL != "" {
		g.Go(func() error {
			obs, err := p.fetch(gCtx, p.secondaryURL, models.Source978)
			if err != nil {
				atomic.AddUint64(&p.secondaryErrors, 1)
				log.Printf("[POLLER] secondary fetch skipped: %v", err)
				return nil
			}
			secondary = obs
			return nil
		})
	}

	// errgroup.Wait never returns an error here: both goroutines swallow
	// their own failures per spec.md §4.1's "logged and skipped" contract.
	_ = g.Wait()

	merged := make([]models.AircraftObservation, 0, len(primary)+len(secondary))
	merged = append(merged, primary...)
	merged = append(merged, secondary...)

	now := time.Now().UTC()
	atomic.AddUint64(&p.totalTicks, 1)

	p.mu.Lock()
	storeDue := now.Sub(p.lastStore) >= p.storeEvery
	if storeDue {
		p.lastStore = now
	}
	p.stats.LastFetch = now
	p.stats.LastFetchCount = len(merged)
	p.mu.Unlock()

	if p.pipeline != nil {
		p.pipeline.Process(ctx, merged, storeDue)
	}
}

func (p *Poller) fetch(ctx context.Context, baseURL string, channel models.SourceChannel) ([]models.AircraftObservation, error) {
	if baseURL == "" {
		return nil, nil
	}
	url := strings.TrimRight(baseURL, "/") + "/data/aircraft.json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var raw rawResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	now := time.Now().UTC()
	out := make([]models.AircraftObservation, 0, len(raw.Aircraft))
	for _, a := range raw.Aircraft {
		obs := toObservation(a, channel, now)
		if obs.Valid() {
			out = append(out, obs)
		}
	}
	return out, nil
}

func toObservation(a rawAircraft, channel models.SourceChannel, now time.Time) models.AircraftObservation {
	obs := models.AircraftObservation{
		ICAO:          strings.ToUpper(strings.TrimSpace(a.Hex)),
		Callsign:      strings.TrimSpace(a.Flight),
		Lat:           a.Lat,
		Lon:           a.Lon,
		GeomAltitudeFt: a.AltGeom,
		GroundSpeedKt: a.GS,
		TrackDeg:      a.Track,
		Squawk:        a.Squawk,
		SignalDbFS:    a.RSSI,
		CategoryCode:  a.Category,
		AircraftType:  a.Type,
		Channel:       channel,
		Military:      a.DBFlags&1 == 1,
		PolledAt:      now,
	}

	switch v := a.AltBaro.(type) {
	case string:
		if strings.EqualFold(v, "ground") {
			obs.OnGround = true
		}
	case float64:
		alt := int(v)
		obs.BaroAltitudeFt = &alt
	}

	if a.BaroRate != nil {
		obs.VerticalRateFpm = a.BaroRate
	} else if a.GeomRate != nil {
		obs.VerticalRateFpm = a.GeomRate
	}

	return obs
}

func (p *Poller) GetStats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stats := p.stats
	stats.TotalTicks = atomic.LoadUint64(&p.totalTicks)
	stats.PrimaryErrors = atomic.LoadUint64(&p.primaryErrors)
	stats.SecondaryErrors = atomic.LoadUint64(&p.secondaryErrors)
	return stats
}
