package bridge

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/zeebo/blake3"
)

// dedupeCapacity bounds how many fingerprints are held at once. Each entry
// costs 1 and internal overhead is not counted.
const dedupeCapacity = 100_000

// Deduper remembers recently seen (sender, message id) pairs so that a
// transport redelivering events after a reconnect does not submit twice.
type Deduper struct {
	mu     sync.Mutex
	ttl    time.Duration
	cost   int64
	cache  *ristretto.Cache[string, struct{}]
	logger *slog.Logger
}

// NewDeduper returns a Deduper that forgets fingerprints after ttl. A
// non-positive ttl disables de-duplication.
func NewDeduper(ttl time.Duration, logger *slog.Logger) (*Deduper, error) {
	return newDeduper(ttl, dedupeCapacity, logger)
}

func newDeduper(ttl time.Duration, capacity int64, logger *slog.Logger) (*Deduper, error) {
	if ttl <= 0 {
		return &Deduper{}, nil
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters:        capacity * 10,
		MaxCost:            capacity,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}
	return &Deduper{
		ttl:    ttl,
		cost:   1,
		cache:  c,
		logger: logger.With("component", "dedupe"),
	}, nil
}

// Seen records the pair and reports whether it was already recorded within
// the TTL. An empty message id is never considered seen.
func (d *Deduper) Seen(sender, messageID string) bool {
	if d == nil || d.cache == nil || messageID == "" {
		return false
	}
	key := fingerprint(sender, messageID)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.cache.Get(key); ok {
		return true
	}
	d.cache.SetWithTTL(key, struct{}{}, d.cost, d.ttl)
	d.cache.Wait()
	// Admission can refuse the entry; a redelivery of this message would
	// then go through.
	if _, ok := d.cache.Get(key); !ok {
		d.logger.Debug("fingerprint not admitted to dedupe cache",
			"sender", sender,
			"message_id", messageID,
		)
	}
	return false
}

func (d *Deduper) Close() {
	if d == nil || d.cache == nil {
		return
	}
	d.cache.Close()
}

func fingerprint(sender, messageID string) string {
	sum := blake3.Sum256([]byte(sender + "\x00" + messageID))
	return hex.EncodeToString(sum[:])
}
