package debugger

import "testing"

func TestNewDialect_DefaultsToLLDB(t *testing.T) {
	d, err := NewDialect("", "")
	if err != nil {
		t.Fatalf("NewDialect: %v", err)
	}
	if d.Command() != "lldb" {
		t.Errorf("expected default binary lldb, got %q", d.Command())
	}
}

func TestNewDialect_CDB(t *testing.T) {
	d, err := NewDialect("dbgeng", "/custom/cdb.exe")
	if err != nil {
		t.Fatalf("NewDialect: %v", err)
	}
	if d.Command() != "/custom/cdb.exe" {
		t.Errorf("expected custom binary path honored, got %q", d.Command())
	}
}

func TestNewDialect_Unknown(t *testing.T) {
	if _, err := NewDialect("gdb", ""); err == nil {
		t.Error("expected error for unknown backend")
	}
}
