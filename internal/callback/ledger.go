package callback

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

var (
	bucketUsage = []byte("usage")
	keyTotals   = []byte("totals")
)

// Ledger is the cumulative token-usage ledger. Counters only grow,
// except through an explicit Reset, and every update is persisted so
// totals survive restarts.
type Ledger struct {
	mu    sync.Mutex
	db    *bbolt.DB
	usage domain.Usage
}

// OpenLedger opens (or creates) the usage database and loads the
// persisted totals.
func OpenLedger(path string) (*Ledger, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening usage db: %w", err)
	}

	l := &Ledger{db: db, usage: domain.Usage{ByModel: map[string]domain.ModelUsage{}}}

	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketUsage)
		if err != nil {
			return err
		}
		data := b.Get(keyTotals)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &l.usage); err != nil {
			// A corrupt ledger starts over rather than blocking startup.
			l.usage = domain.Usage{ByModel: map[string]domain.ModelUsage{}}
		}
		if l.usage.ByModel == nil {
			l.usage.ByModel = map[string]domain.ModelUsage{}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("loading usage totals: %w", err)
	}
	return l, nil
}

// Add records one model call. A persistence failure keeps the in-memory
// totals correct and is returned for logging.
func (l *Ledger) Add(model string, inputTokens, outputTokens int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.usage.Calls++
	l.usage.InputTokens += int64(inputTokens)
	l.usage.OutputTokens += int64(outputTokens)

	mu := l.usage.ByModel[model]
	mu.Calls++
	mu.InputTokens += int64(inputTokens)
	mu.OutputTokens += int64(outputTokens)
	l.usage.ByModel[model] = mu

	return l.persist()
}

// Snapshot returns a copy of the current totals.
func (l *Ledger) Snapshot() domain.Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usage.Clone()
}

// Reset zeroes all counters, in memory and on disk.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.usage = domain.Usage{ByModel: map[string]domain.ModelUsage{}}
	return l.persist()
}

// persist writes the totals. Caller holds l.mu.
func (l *Ledger) persist() error {
	data, err := json.Marshal(l.usage)
	if err != nil {
		return fmt.Errorf("encoding usage: %w", err)
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsage).Put(keyTotals, data)
	})
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
