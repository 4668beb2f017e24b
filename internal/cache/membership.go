package cache

import (
	"context"
	"encoding/binary"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/rs/zerolog/log"
)

// Membership is an approximate set over known entity IDs, built once at
// startup and immutable afterwards. False negatives are impossible; false
// positives are bounded by the configured rate. Entities created after
// startup are invisible to the filter until the process restarts.
type Membership struct {
	filter *bloom.BloomFilter
}

// NewMembership sizes the filter for the expected cardinality and target
// false-positive rate, e.g. 1_000_000 and 0.01.
func NewMembership(capacity uint, fpRate float64) *Membership {
	return &Membership{filter: bloom.NewWithEstimates(capacity, fpRate)}
}

// Add inserts an ID. Not safe for use concurrently with MightContain; call
// only during the startup warmup.
func (m *Membership) Add(id int64) {
	m.filter.Add(idBytes(id))
}

// MightContain reports whether the ID may be in the set. Safe for concurrent
// readers once warmup is done.
func (m *Membership) MightContain(id int64) bool {
	return m.filter.Test(idBytes(id))
}

// WarmMembership loads every known ID from the given source into the filter.
func WarmMembership(ctx context.Context, m *Membership, listIDs func(context.Context) ([]int64, error)) error {
	ids, err := listIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		m.Add(id)
	}
	log.Info().Int("count", len(ids)).Msg("membership filter warmed")
	return nil
}

func idBytes(id int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return buf[:]
}
