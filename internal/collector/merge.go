package collector

import (
	"sync"

	"hostmetrics-agent/internal/model"
)

// Collision describes a key two collectors both tried to set.
type Collision struct {
	Key       string
	Owner     string
	Contender string
}

// Merge copies contrib into rec under collector name. timestamp and hostname
// are never copied. A key already owned by another collector keeps its
// first value and is reported as a collision.
func Merge(rec model.Record, owners map[string]string, name string, contrib model.Record) []Collision {
	var collisions []Collision
	for k, v := range contrib {
		if model.IsReserved(k) {
			continue
		}
		if owner, taken := owners[k]; taken {
			collisions = append(collisions, Collision{Key: k, Owner: owner, Contender: name})
			continue
		}
		owners[k] = name
		rec[k] = v
	}
	return collisions
}

// mergeBuffer holds the latest contribution of each collector in multi-rate mode.
type mergeBuffer struct {
	mu     sync.Mutex
	latest []model.Record
}

func newMergeBuffer(n int) *mergeBuffer {
	return &mergeBuffer{latest: make([]model.Record, n)}
}

func (b *mergeBuffer) put(i int, rec model.Record) {
	b.mu.Lock()
	b.latest[i] = rec
	b.mu.Unlock()
}

// snapshot returns the latest contributions in registration order.
func (b *mergeBuffer) snapshot() []model.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Record(nil), b.latest...)
}
