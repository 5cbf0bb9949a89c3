package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"perp-engine/pkg/types"
)

func TestJSONSettingsStore_PutThenGetRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONSettingsStore(dir)
	if err != nil {
		t.Fatalf("NewJSONSettingsStore: %v", err)
	}

	settings := types.Settings{BotName: "bot1", Mode: types.ModeModerate, PositionSizePct: decimal.NewFromInt(5)}
	if err := s.Put("0xABC", settings); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get("0xabc") // case-insensitive wallet lookup
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.BotName != "bot1" || got.Mode != types.ModeModerate {
		t.Fatalf("got %+v, want bot1/moderate", got)
	}
}

func TestJSONSettingsStore_GetMissingIsNotFoundNotError(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewJSONSettingsStore(dir)
	_, ok, err := s.Get("0xnobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a wallet with no settings")
	}
}

func TestJSONTradeStore_UpsertInsertsThenOverwrites(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONTradeStore(dir)
	if err != nil {
		t.Fatalf("NewJSONTradeStore: %v", err)
	}

	trade := types.TradeRecord{ID: "t1", Status: types.TradeOpen, Timestamp: time.Now()}
	if err := s.Upsert(trade); err != nil {
		t.Fatalf("Upsert insert: %v", err)
	}

	trade.Status = types.TradeClosed
	if err := s.Upsert(trade); err != nil {
		t.Fatalf("Upsert overwrite: %v", err)
	}

	loaded, err := s.Load(time.Time{}, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("len(loaded) = %d, want 1 (overwrite, not append)", len(loaded))
	}
	if loaded[0].Status != types.TradeClosed {
		t.Fatalf("Status = %v, want closed", loaded[0].Status)
	}
}

func TestJSONTradeStore_LoadFiltersAndLimits(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewJSONTradeStore(dir)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		trade := types.TradeRecord{ID: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Hour)}
		if err := s.Upsert(trade); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	loaded, err := s.Load(base.Add(2*time.Hour), 2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("len(loaded) = %d, want 2 (limit applied)", len(loaded))
	}
	for _, tr := range loaded {
		if tr.Timestamp.Before(base.Add(2 * time.Hour)) {
			t.Fatalf("trade %s timestamp %s is before the sinceTs filter", tr.ID, tr.Timestamp)
		}
	}
}

func testKey() []byte {
	return []byte("01234567890123456789012345678901") // 32 bytes, the chacha20poly1305 key size
}

func TestJSONAgentStore_PutEncryptsAndGetDecrypts(t *testing.T) {
	dir := t.TempDir()
	key := testKey()[:32]
	s, err := NewJSONAgentStore(dir, key)
	if err != nil {
		t.Fatalf("NewJSONAgentStore: %v", err)
	}

	cred := types.AgentCredential{UserWallet: "0xUser", AgentAddress: "0xAgent", AgentKey: "super-secret-key", AgentName: "bot"}
	if err := s.Put("0xUser", cred); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get("0xuser")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.AgentKey != "super-secret-key" {
		t.Fatalf("AgentKey = %q, want the original plaintext after decryption", got.AgentKey)
	}
}

func TestJSONAgentStore_RejectsWrongKeySize(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewJSONAgentStore(dir, []byte("too-short")); err == nil {
		t.Fatal("expected an error for a non-32-byte encryption key")
	}
}
