package types

import (
	"encoding/json"
	"testing"
)

func TestSession_JSON(t *testing.T) {
	dumpID := "dump-456"
	session := Session{
		ID:             "session-123",
		UserID:         "user-1",
		CreatedAt:      1700000000000,
		LastActivityAt: 1700000001000,
		CurrentDumpID:  &dumpID,
		DebuggerState:  DebuggerDumpOpen,
	}

	data, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded Session
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.ID != session.ID {
		t.Errorf("ID mismatch: got %s, want %s", decoded.ID, session.ID)
	}
	if decoded.UserID != session.UserID {
		t.Errorf("UserID mismatch: got %s, want %s", decoded.UserID, session.UserID)
	}
	if decoded.CurrentDumpID == nil || *decoded.CurrentDumpID != dumpID {
		t.Errorf("CurrentDumpID mismatch")
	}
}

func TestSession_OptionalFields(t *testing.T) {
	session := Session{ID: "session-123"}

	data, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]any
	json.Unmarshal(data, &raw)
	if _, ok := raw["currentDumpID"]; ok {
		t.Error("currentDumpID should be omitted when nil")
	}
}

func TestSessionHeader_TitleFallback(t *testing.T) {
	s := Session{ID: "s1", UserID: "u1"}
	h := s.Header("")
	if h.Title != "New session" {
		t.Errorf("expected default title, got %q", h.Title)
	}

	h2 := s.Header("crash.dmp")
	if h2.Title != "crash.dmp" {
		t.Errorf("expected dump-derived title, got %q", h2.Title)
	}
}

func TestReportMetadata_Satisfies(t *testing.T) {
	meta := ReportMetadata{
		DumpID:          "d1",
		GeneratedAt:     100,
		IncludesWatches: true,
	}

	if !meta.Satisfies(ReportOptions{Watches: true}) {
		t.Error("expected cached report with watches to satisfy a watches request")
	}
	if meta.Satisfies(ReportOptions{Security: true}) {
		t.Error("expected cached report without security to not satisfy a security request")
	}
	if !meta.Satisfies(ReportOptions{}) {
		t.Error("a superset should always satisfy an empty request")
	}
}

func TestEvidenceLedger_Matches(t *testing.T) {
	key := SnapshotKey{DumpID: "d1", GeneratedAt: 42}
	ledger := &EvidenceLedger{SessionID: "s1", Snapshot: key}

	if !ledger.Matches(key) {
		t.Error("expected ledger to match identical snapshot key")
	}
	if ledger.Matches(SnapshotKey{DumpID: "d1", GeneratedAt: 43}) {
		t.Error("expected ledger to not match a different GeneratedAt")
	}

	var nilLedger *EvidenceLedger
	if nilLedger.Matches(key) {
		t.Error("a nil ledger must never match, forcing a fresh one")
	}
}

func TestJsonRpcEnvelope_Classification(t *testing.T) {
	req := &JsonRpcEnvelope{JSONRPC: "2.0", ID: 1, Method: "session.create"}
	if !req.IsRequest() {
		t.Error("expected request classification")
	}

	note := &JsonRpcEnvelope{JSONRPC: "2.0", Method: "notify"}
	if !note.IsNotification() {
		t.Error("expected notification classification")
	}

	resp := &JsonRpcEnvelope{JSONRPC: "2.0", ID: 1, Result: json.RawMessage(`{}`)}
	if !resp.IsResponse() {
		t.Error("expected response classification")
	}
}

func TestUnmarshalWatchResult_Discriminant(t *testing.T) {
	data := []byte(`{"watchID":"w1","kind":"primitive","value":"42","clrType":"System.Int32"}`)
	result, err := UnmarshalWatchResult(data)
	if err != nil {
		t.Fatalf("UnmarshalWatchResult failed: %v", err)
	}
	prim, ok := result.(*PrimitiveResult)
	if !ok {
		t.Fatalf("expected *PrimitiveResult, got %T", result)
	}
	if prim.Value != "42" {
		t.Errorf("Value mismatch: got %s", prim.Value)
	}
	if result.ResultKind() != WatchResultPrimitive {
		t.Errorf("ResultKind mismatch: got %s", result.ResultKind())
	}
}

func TestDump_JSON(t *testing.T) {
	runtimeVersion := "8.0.1"
	dump := Dump{
		ID:             "d1",
		UserID:         "u1",
		Path:           "/data/u1/d1.dmp",
		Sha:            "abc123",
		RuntimeVersion: &runtimeVersion,
		Time:           DumpTime{Uploaded: 1700000000000},
	}

	data, err := json.Marshal(dump)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded Dump
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.RuntimeVersion == nil || *decoded.RuntimeVersion != runtimeVersion {
		t.Error("RuntimeVersion not round-tripped")
	}
}

func TestDefaultConfig_Quotas(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxSessionsPerUser != 5 {
		t.Errorf("expected default quota of 5, got %d", cfg.MaxSessionsPerUser)
	}
	if cfg.IdleTimeoutSeconds != 30*60 {
		t.Errorf("expected default idle timeout of 30 minutes, got %d", cfg.IdleTimeoutSeconds)
	}
	if cfg.AI.MaxIterations != 100 {
		t.Errorf("expected AI iteration cap of 100, got %d", cfg.AI.MaxIterations)
	}
}
