// Package coverage tracks maximum reception range per 10-degree bearing
// bucket, the statistic the teacher's range tracker computed for a single
// feed; here it is fed by every AircraftSighting the pipeline persists,
// exercising AircraftSighting.Bearing/BearingCardinal (see pkg/models/aircraft.go).
package coverage

import (
	"sync"
	"time"
)

type BucketStats struct {
	Bearing      int     `json:"bearing"`
	MaxRangeNM   float64 `json:"max_range_nm"`
	MaxRangeICAO string  `json:"max_range_icao,omitempty"`
	ContactCount int64   `json:"contact_count"`
}

type Stats struct {
	Buckets        []BucketStats `json:"buckets"`
	AllTimeMaxNM   float64       `json:"all_time_max_nm"`
	AllTimeMaxICAO string        `json:"all_time_max_icao,omitempty"`
	TotalContacts  int64         `json:"total_contacts"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// RangeBucket mirrors one persisted bearing bucket; store.RangeBucket is
// adapted to this shape at the composition root (main.go), the same
// adapter-struct idiom the teacher used for its range tracker.
type RangeBucket struct {
	Bearing      int
	MaxRangeNM   float64
	MaxRangeICAO string
	ContactCount int64
}

// Repository is the persistence surface for coverage bookkeeping, implemented
// by internal/store.Store via an adapter in main.go.
type Repository interface {
	SaveRangeCoverage(bucket int, maxNM float64, icao string, count int64) error
	LoadRangeCoverage() ([]RangeBucket, error)
}

type Tracker struct {
	mu             sync.RWMutex
	maxByBearing   [36]float64
	icaoByBearing  [36]string
	countByBearing [36]int64
	allTimeMaxNM   float64
	allTimeMaxICAO string
	repo           Repository
}

func New(repo Repository) *Tracker {
	t := &Tracker{repo: repo}
	if repo != nil {
		t.loadFromDB()
	}
	return t
}

func (t *Tracker) loadFromDB() {
	buckets, err := t.repo.LoadRangeCoverage()
	if err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range buckets {
		if b.Bearing < 0 || b.Bearing >= 36 {
			continue
		}
		t.maxByBearing[b.Bearing] = b.MaxRangeNM
		t.icaoByBearing[b.Bearing] = b.MaxRangeICAO
		t.countByBearing[b.Bearing] = b.ContactCount
		if b.MaxRangeNM > t.allTimeMaxNM {
			t.allTimeMaxNM = b.MaxRangeNM
			t.allTimeMaxICAO = b.MaxRangeICAO
		}
	}
}

// Record folds one sighting's bearing/distance into the coverage table.
func (t *Tracker) Record(bearingDeg, distanceNM float64, icao string) {
	if bearingDeg < 0 || bearingDeg >= 360 || distanceNM <= 0 {
		return
	}

	bucket := int(bearingDeg / 10)
	if bucket >= 36 {
		bucket = 35
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.countByBearing[bucket]++

	if distanceNM > t.maxByBearing[bucket] {
		t.maxByBearing[bucket] = distanceNM
		t.icaoByBearing[bucket] = icao
		if t.repo != nil {
			go t.repo.SaveRangeCoverage(bucket, distanceNM, icao, t.countByBearing[bucket])
		}
	}

	if distanceNM > t.allTimeMaxNM {
		t.allTimeMaxNM = distanceNM
		t.allTimeMaxICAO = icao
	}
}

func (t *Tracker) GetStats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Stats{
		Buckets:        make([]BucketStats, 36),
		AllTimeMaxNM:   t.allTimeMaxNM,
		AllTimeMaxICAO: t.allTimeMaxICAO,
		UpdatedAt:      time.Now(),
	}

	for i := 0; i < 36; i++ {
		stats.Buckets[i] = BucketStats{
			Bearing:      i * 10,
			MaxRangeNM:   t.maxByBearing[i],
			MaxRangeICAO: t.icaoByBearing[i],
			ContactCount: t.countByBearing[i],
		}
		stats.TotalContacts += t.countByBearing[i]
	}

	return stats
}
