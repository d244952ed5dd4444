package acars

import (
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"skywatchcore/pkg/models"
)

const (
	dedupCacheSize = 10_000
	dedupTTL       = 30 * time.Second
)

// dedupCache is a TTL'd LRU of content hashes. The Service holds a single
// instance shared by the ACARS and VDL2 listeners, so the same content
// arriving on both channels within the TTL is counted as a duplicate on the
// channel that delivered it second.
// golang-lru/v2/expirable is an ecosystem pick grounded on its repeated
// appearance across the retrieval pack (DataDog-datadog-agent, aistore,
// upbound-xgql) for exactly this TTL'd-cache shape.
type dedupCache struct {
	cache *expirable.LRU[string, struct{}]
}

func newDedupCache() *dedupCache {
	return &dedupCache{
		cache: expirable.NewLRU[string, struct{}](dedupCacheSize, nil, dedupTTL),
	}
}

// contentHash computes the dedup key from (timestamp rounded to whole
// seconds, ICAO, label, first 50 chars of text).
func contentHash(m *models.AcarsMessage) string {
	text := m.Text
	if len(text) > 50 {
		text = text[:50]
	}
	ts := m.Timestamp.Truncate(time.Second).Unix()
	return models.ShortHash(strconv.FormatInt(ts, 10), m.ICAO, m.Label, text)
}

// seen reports whether this message's content hash is already cached; a
// miss inserts it and returns false, a hit returns true. The caller (the
// per-source sourceCounters in service.go) is responsible for tracking the
// duplicate count. Expects m.Hash to already be populated by the caller.
func (d *dedupCache) seen(m *models.AcarsMessage) bool {
	key := m.Hash
	if d.cache.Contains(key) {
		return true
	}
	d.cache.Add(key, struct{}{})
	return false
}
