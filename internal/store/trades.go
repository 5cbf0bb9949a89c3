package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"perp-engine/pkg/types"
)

// TradeStore is the append-and-load trade-record persistence contract
// (spec.md §4.9). Durability requirement: open trades must survive a
// process restart so C6's reconciliation can sync them with the venue.
type TradeStore interface {
	Load(sinceTs time.Time, limit int) ([]types.TradeRecord, error)
	Upsert(trade types.TradeRecord) error
}

// JSONTradeStore implements TradeStore as a single JSON array file.
type JSONTradeStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONTradeStore opens (creating if absent) trades.json under dir.
func NewJSONTradeStore(dir string) (*JSONTradeStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}
	return &JSONTradeStore{path: filepath.Join(dir, "trades.json")}, nil
}

func (s *JSONTradeStore) readAllLocked() ([]types.TradeRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read trades: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var out []types.TradeRecord
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("store: unmarshal trades: %w", err)
	}
	return out, nil
}

func (s *JSONTradeStore) writeAllLocked(trades []types.TradeRecord) error {
	data, err := json.MarshalIndent(trades, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal trades: %w", err)
	}
	return atomicWrite(s.path, data)
}

// Load returns trades with Timestamp >= sinceTs, most recent first, capped
// at limit (0 means unlimited).
func (s *JSONTradeStore) Load(sinceTs time.Time, limit int) ([]types.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAllLocked()
	if err != nil {
		return nil, err
	}

	var matched []types.TradeRecord
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Timestamp.Before(sinceTs) {
			continue
		}
		matched = append(matched, all[i])
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	return matched, nil
}

// Upsert inserts trade if its ID is new, or overwrites the existing record
// with the same ID. Concurrent writers serialize via the store's mutex.
func (s *JSONTradeStore) Upsert(trade types.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readAllLocked()
	if err != nil {
		return err
	}

	for i := range all {
		if all[i].ID == trade.ID {
			all[i] = trade
			return s.writeAllLocked(all)
		}
	}
	all = append(all, trade)
	return s.writeAllLocked(all)
}
