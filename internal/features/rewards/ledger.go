package rewards

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	logging "nuke-rewards/internal/infra/log"
	"nuke-rewards/internal/infra/store"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	LedgerKey           = "accumulated_rewards"
	ledgerSchemaVersion = 2
)

// AccumulatedReward is what a wallet is owed but has not been paid, in SOL.
type AccumulatedReward struct {
	Amount      decimal.Decimal `json:"amount"`
	RetryCount  int             `json:"retry_count"`
	Flagged     bool            `json:"flagged"`
	FlaggedAt   *time.Time      `json:"flagged_at,omitempty"`
	LastFailure string          `json:"last_failure,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type ledgerDocument struct {
	Version int                          `json:"version"`
	Wallets map[string]AccumulatedReward `json:"wallets"`
}

// UnpaidSource exposes carried balances to the payout merge step.
type UnpaidSource interface {
	Entries() (map[string]AccumulatedReward, error)
}

// Ledger is the durable wallet -> owed amount store. Every operation loads the
// whole document and writes it back through the KV's atomic Put.
type Ledger struct {
	kv         store.KV
	clock      clockwork.Clock
	maxRetries int

	mu sync.Mutex
}

// NewLedger opens the ledger and upgrades a legacy document in place.
func NewLedger(kv store.KV, clock clockwork.Clock, maxRetries int) (*Ledger, error) {
	if kv == nil {
		return nil, errors.New("store is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	l := &Ledger{kv: kv, clock: clock, maxRetries: maxRetries}

	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := kv.Get(LedgerKey)
	if errors.Is(err, store.ErrNotFound) {
		return l, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading ledger")
	}
	doc, migrated, err := decodeLedger(data, clock.Now())
	if err != nil {
		return nil, err
	}
	if migrated {
		if err := store.SaveJSON(kv, LedgerKey, doc); err != nil {
			return nil, errors.Wrap(err, "saving migrated ledger")
		}
		logging.LogInfo("Migrated accumulated rewards to current schema",
			zap.Int("version", ledgerSchemaVersion),
			zap.Int("wallets", len(doc.Wallets)))
	}
	return l, nil
}

// decodeLedger reads either schema. v1 is a bare {"wallet": amount} map.
func decodeLedger(data []byte, now time.Time) (ledgerDocument, bool, error) {
	var probe struct {
		Version *int `json:"version"`
	}
	if len(data) == 0 {
		return newLedgerDocument(), false, nil
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ledgerDocument{}, false, errors.Wrap(err, "decoding ledger")
	}

	if probe.Version == nil {
		doc, err := migrateLedgerV1(data, now)
		return doc, true, err
	}
	if *probe.Version != ledgerSchemaVersion {
		return ledgerDocument{}, false, errors.Newf("unsupported ledger schema version %d", *probe.Version)
	}

	var doc ledgerDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return ledgerDocument{}, false, errors.Wrap(err, "decoding ledger")
	}
	if doc.Wallets == nil {
		doc.Wallets = map[string]AccumulatedReward{}
	}
	return doc, false, nil
}

func migrateLedgerV1(data []byte, now time.Time) (ledgerDocument, error) {
	var legacy map[string]decimal.Decimal
	if err := json.Unmarshal(data, &legacy); err != nil {
		return ledgerDocument{}, errors.Wrap(err, "decoding legacy ledger")
	}

	doc := newLedgerDocument()
	for wallet, amount := range legacy {
		if wallet == "" || !amount.IsPositive() {
			continue
		}
		doc.Wallets[wallet] = AccumulatedReward{Amount: amount, UpdatedAt: now}
	}
	return doc, nil
}

func newLedgerDocument() ledgerDocument {
	return ledgerDocument{Version: ledgerSchemaVersion, Wallets: map[string]AccumulatedReward{}}
}

func (l *Ledger) load() (ledgerDocument, error) {
	data, err := l.kv.Get(LedgerKey)
	if errors.Is(err, store.ErrNotFound) {
		return newLedgerDocument(), nil
	}
	if err != nil {
		return ledgerDocument{}, errors.Wrap(err, "reading ledger")
	}
	doc, _, err := decodeLedger(data, l.clock.Now())
	return doc, err
}

func (l *Ledger) save(doc ledgerDocument) error {
	doc.Version = ledgerSchemaVersion
	return store.SaveJSON(l.kv, LedgerKey, doc)
}

func (l *Ledger) Get(wallet string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return decimal.Zero, err
	}
	return doc.Wallets[wallet].Amount, nil
}

// Add grows a wallet's balance. Callers must add each logical reward once.
func (l *Ledger) Add(wallet string, amount decimal.Decimal) error {
	if wallet == "" {
		return errors.New("wallet is required")
	}
	if !amount.IsPositive() {
		return errors.Wrapf(ErrInvalidAmount, "add %s to %s", amount, wallet)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return err
	}
	entry := doc.Wallets[wallet]
	entry.Amount = entry.Amount.Add(amount)
	entry.UpdatedAt = l.clock.Now()
	doc.Wallets[wallet] = entry

	if err := l.save(doc); err != nil {
		return err
	}
	logging.LogDebug("Accumulated reward",
		zap.String("wallet", wallet),
		zap.String("added_sol", amount.String()),
		zap.String("balance_sol", entry.Amount.String()))
	return nil
}

// Clear drops the entry, retry bookkeeping included. No-op when absent.
func (l *Ledger) Clear(wallet string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Wallets[wallet]; !ok {
		return nil
	}
	delete(doc.Wallets, wallet)
	return l.save(doc)
}

// RecordFailure bumps the wallet's retry count. flagged reports whether this
// failure crossed the max retry threshold for the first time.
func (l *Ledger) RecordFailure(wallet, cause string) (entry AccumulatedReward, flagged bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return AccumulatedReward{}, false, err
	}
	now := l.clock.Now()
	entry = doc.Wallets[wallet]
	entry.RetryCount++
	entry.LastFailure = cause
	entry.UpdatedAt = now
	if l.maxRetries > 0 && entry.RetryCount >= l.maxRetries && !entry.Flagged {
		entry.Flagged = true
		entry.FlaggedAt = &now
		flagged = true
	}
	doc.Wallets[wallet] = entry

	if err := l.save(doc); err != nil {
		return AccumulatedReward{}, false, err
	}
	return entry, flagged, nil
}

// Wallets lists wallets with a positive balance, sorted.
func (l *Ledger) Wallets() ([]string, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for w, e := range entries {
		if e.Amount.IsPositive() {
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (l *Ledger) Total() (decimal.Decimal, error) {
	entries, err := l.Entries()
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total, nil
}

// Entries returns a copy of every ledger entry.
func (l *Ledger) Entries() (map[string]AccumulatedReward, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return nil, err
	}
	return doc.Wallets, nil
}
