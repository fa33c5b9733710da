package crawler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const pendingPrefix = "run/"

// Pending is a crawl run some job is waiting on.
type Pending struct {
	RunID     string    `json:"runId"`
	ItemID    string    `json:"itemId"`
	TenantID  string    `json:"tenantId"`
	Room      string    `json:"room"`
	RootURL   string    `json:"rootUrl"`
	StartedAt time.Time `json:"startedAt"`
}

// PendingStore persists in-flight runs so a restarted server can fail the
// items nobody is waiting for any more.
type PendingStore struct {
	db *badger.DB
}

type badgerLogger struct{ logger *slog.Logger }

func (l badgerLogger) Errorf(msg string, args ...any)   { l.logger.Error(fmt.Sprintf(msg, args...)) }
func (l badgerLogger) Warningf(msg string, args ...any) { l.logger.Warn(fmt.Sprintf(msg, args...)) }
func (l badgerLogger) Infof(msg string, args ...any)    { l.logger.Debug(fmt.Sprintf(msg, args...)) }
func (l badgerLogger) Debugf(msg string, args ...any)   { l.logger.Debug(fmt.Sprintf(msg, args...)) }

// OpenPendingStore opens the store in dir. An empty dir keeps it in memory.
func OpenPendingStore(dir string, logger *slog.Logger) (*PendingStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create pending dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = badgerLogger{logger: logger.With("component", "badger")}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open pending store: %w", err)
	}
	return &PendingStore{db: db}, nil
}

func (s *PendingStore) Close() error {
	return s.db.Close()
}

// Put records p under its run id.
func (s *PendingStore) Put(p Pending) error {
	val, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pending run: %w", err)
	}
	return s.db.Update(func(tx *badger.Txn) error {
		return tx.Set([]byte(pendingPrefix+p.RunID), val)
	})
}

// Get returns the pending run, or nil when unknown.
func (s *PendingStore) Get(runID string) (*Pending, error) {
	var p *Pending
	err := s.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(pendingPrefix + runID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			p = &Pending{}
			return json.Unmarshal(val, p)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending run %s: %w", runID, err)
	}
	return p, nil
}

// Delete forgets runID. Unknown ids are ignored.
func (s *PendingStore) Delete(runID string) error {
	return s.db.Update(func(tx *badger.Txn) error {
		return tx.Delete([]byte(pendingPrefix + runID))
	})
}

// List returns every pending run.
func (s *PendingStore) List() ([]Pending, error) {
	var out []Pending
	err := s.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(pendingPrefix)
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var p Pending
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list pending runs: %w", err)
	}
	return out, nil
}
