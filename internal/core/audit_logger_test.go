package core

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"
)

func TestAuditLogger_Log(t *testing.T) {
	dir := t.TempDir()
	audit := NewAuditLogger(dir, 10, DiscardLogger())

	if err := audit.Log("create_payment_intent", map[string]interface{}{"amount": 1000}, nil); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := audit.Log("capture_payment_intent", map[string]interface{}{"id": "pi_1"}, errors.New("boom")); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	name, _ := audit.file.current()
	file, err := os.Open(name)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = file.Close() }()

	var entries []map[string]interface{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("invalid audit line: %v", err)
		}
		entries = append(entries, entry)
	}

	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0]["action"] != "create_payment_intent" || entries[0]["ok"] != true {
		t.Errorf("Unexpected first entry: %v", entries[0])
	}
	if entries[1]["ok"] != false || entries[1]["error"] != "boom" || entries[1]["level"] != "error" {
		t.Errorf("Unexpected second entry: %v", entries[1])
	}
}

func TestAuditLogger_Rotation(t *testing.T) {
	dir := t.TempDir()
	audit := NewAuditLogger(dir, 0, DiscardLogger())

	if err := audit.Log("connection_token", nil, nil); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(audit.file.pathFor(time.Now())); !os.IsNotExist(err) {
		t.Errorf("Expected current file to be rotated away, stat err=%v", err)
	}
	files, _ := os.ReadDir(dir)
	if len(files) != 1 {
		t.Errorf("Expected one rotated file, got %d", len(files))
	}
}

func TestAuditLogger_Stats(t *testing.T) {
	audit := NewAuditLogger(t.TempDir(), 10, DiscardLogger())
	defer audit.Close()

	if err := audit.Log("get_payment_intent", map[string]interface{}{"id": "pi_1"}, nil); err != nil {
		t.Fatal(err)
	}
	stats := audit.GetStats()
	if stats["max_size_mb"] != int64(10) {
		t.Errorf("got max_size_mb %v, want 10", stats["max_size_mb"])
	}
	if stats["current_file"] == "" {
		t.Error("Expected a current file")
	}
}
