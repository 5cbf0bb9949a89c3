package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"perp-engine/internal/clock"
	"perp-engine/internal/safety"
	"perp-engine/pkg/types"
)

type fakeEngine struct {
	control         *safety.Controller
	wallet          string
	agentConfigured bool
	mode            types.NetworkMode
}

func (f *fakeEngine) Control() *safety.Controller   { return f.control }
func (f *fakeEngine) Wallet() string                { return f.wallet }
func (f *fakeEngine) AgentConfigured() bool          { return f.agentConfigured }
func (f *fakeEngine) NetworkMode() types.NetworkMode { return f.mode }

func testHandlers(t *testing.T) (*Handlers, *fakeEngine) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := &fakeEngine{
		control:         safety.New(types.NetworkTestnet, clock.Real{}, logger),
		wallet:          "0xabc",
		agentConfigured: true,
		mode:            types.NetworkTestnet,
	}
	return NewHandlers(eng, logger), eng
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	h, _ := testHandlers(t)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleStatus_ReportsUnarmedInitially(t *testing.T) {
	h, _ := testHandlers(t)
	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/trading/status", nil))

	var got types.ControlState
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != types.Unarmed {
		t.Errorf("status = %q, want %q", got.Status, types.Unarmed)
	}
}

func TestHandleArm_SucceedsAndMarksRunning(t *testing.T) {
	t.Setenv("LIVE_TRADING_ENABLED", "true")
	h, eng := testHandlers(t)

	rec := postJSON(t, h.HandleArm, armRequest{
		Confirmation: safety.ArmConfirmation,
		Mode:         string(types.NetworkTestnet),
		RequestedBy:  "0xabc",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := eng.control.Snapshot().Status; got != types.Running {
		t.Errorf("status after arm = %q, want %q", got, types.Running)
	}
}

func TestHandleArm_BadConfirmationReturns400(t *testing.T) {
	t.Setenv("LIVE_TRADING_ENABLED", "true")
	h, _ := testHandlers(t)

	rec := postJSON(t, h.HandleArm, armRequest{
		Confirmation: "nope",
		Mode:         string(types.NetworkTestnet),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleDisarm(t *testing.T) {
	t.Setenv("LIVE_TRADING_ENABLED", "true")
	h, eng := testHandlers(t)
	eng.control.Arm(safety.ArmRequest{
		Confirmation: safety.ArmConfirmation, RequestedMode: types.NetworkTestnet, AgentConfigured: true,
	})

	rec := httptest.NewRecorder()
	h.HandleDisarm(rec, httptest.NewRequest(http.MethodPost, "/trading/disarm", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := eng.control.Snapshot().Status; got != types.Unarmed {
		t.Errorf("status after disarm = %q, want %q", got, types.Unarmed)
	}
}

func TestHandleKill_EngagesKillSwitch(t *testing.T) {
	h, eng := testHandlers(t)
	rec := postJSON(t, h.HandleKill, killRequest{Reason: "test"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !eng.control.Snapshot().KillSwitchActive {
		t.Error("expected kill switch active after HandleKill")
	}
}

func TestHandleResetKill_RequiresExactPhrase(t *testing.T) {
	h, eng := testHandlers(t)
	eng.control.Kill("test")

	rec := postJSON(t, h.HandleResetKill, resetKillRequest{Confirmation: "wrong"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for wrong phrase", rec.Code)
	}

	rec = postJSON(t, h.HandleResetKill, resetKillRequest{Confirmation: safety.ResetKillConfirmation})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for correct phrase", rec.Code)
	}
	if eng.control.Snapshot().KillSwitchActive {
		t.Error("expected kill switch cleared after correct reset phrase")
	}
}

func TestStubHandlers_ReturnNotImplemented(t *testing.T) {
	h, _ := testHandlers(t)
	for _, handler := range []http.HandlerFunc{h.HandleHistoryStub, h.HandleLeaderboardStub, h.HandlePerformanceStub} {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/trading/history", nil))
		if rec.Code != http.StatusNotImplemented {
			t.Errorf("status = %d, want 501", rec.Code)
		}
	}
}
