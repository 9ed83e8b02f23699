package rewards

import (
	"sort"
	"sync"
	"time"

	"nuke-rewards/internal/infra/store"

	"github.com/cockroachdb/errors"
)

const (
	HistoryKey        = "reward_history"
	DefaultMaxHistory = 500
)

type HistoryStore interface {
	// Append stores record unless its id is already present. added is false for duplicates.
	Append(record CycleRecord) (added bool, err error)
	// List returns up to limit records, newest first. limit <= 0 returns all.
	List(limit int) ([]CycleRecord, error)
	Get(id string) (*CycleRecord, error)
	Since(t time.Time) ([]CycleRecord, error)
}

// KVHistory keeps cycle records as one document, oldest first, capped at max.
type KVHistory struct {
	kv  store.KV
	max int

	mu sync.Mutex
}

func NewKVHistory(kv store.KV, maxRecords int) *KVHistory {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxHistory
	}
	return &KVHistory{kv: kv, max: maxRecords}
}

func (h *KVHistory) load() ([]CycleRecord, error) {
	var records []CycleRecord
	if _, err := store.LoadJSON(h.kv, HistoryKey, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (h *KVHistory) Append(record CycleRecord) (bool, error) {
	if record.ID == "" {
		return false, errors.New("cycle record id is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	records, err := h.load()
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if r.ID == record.ID {
			return false, nil
		}
	}

	records = append(records, record)
	sort.SliceStable(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	if len(records) > h.max {
		records = records[len(records)-h.max:]
	}
	if err := store.SaveJSON(h.kv, HistoryKey, records); err != nil {
		return false, err
	}
	return true, nil
}

func (h *KVHistory) List(limit int) ([]CycleRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	records, err := h.load()
	if err != nil {
		return nil, err
	}
	out := make([]CycleRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, records[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Get returns nil, nil when id is unknown.
func (h *KVHistory) Get(id string) (*CycleRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	records, err := h.load()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID == id {
			r := records[i]
			return &r, nil
		}
	}
	return nil, nil
}

// Since returns records started at or after t, oldest first.
func (h *KVHistory) Since(t time.Time) ([]CycleRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	records, err := h.load()
	if err != nil {
		return nil, err
	}
	var out []CycleRecord
	for _, r := range records {
		if !r.StartedAt.Before(t) {
			out = append(out, r)
		}
	}
	return out, nil
}
