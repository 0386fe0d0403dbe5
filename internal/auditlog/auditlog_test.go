package auditlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLogConnectDisconnectToolCall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.log")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if err := l.LogConnect("client-1"); err != nil {
		t.Fatalf("LogConnect: %v", err)
	}
	if err := l.LogToolCall("client-1", "getContent", nil, true, 12, ""); err != nil {
		t.Fatalf("LogToolCall: %v", err)
	}
	if err := l.LogDisconnect("client-1"); err != nil {
		t.Fatalf("LogDisconnect: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var types []RecordType
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		types = append(types, rec.Type)
	}

	want := []RecordType{RecordConnect, RecordToolCall, RecordDisconnect}
	if len(types) != len(want) {
		t.Fatalf("expected %d records, got %d: %v", len(want), len(types), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("record %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}

func TestOpenRemovesStaleTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.log")
	stale := path + tempSuffix + "12345"
	if err := os.WriteFile(stale, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("seed stale file: %v", err)
	}

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("expected stale temp file to be removed on Open")
	}
}

func TestLogToolCallFailureIncludesError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.log")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if err := l.LogToolCall("c1", "type", nil, false, 5, "not attached"); err != nil {
		t.Fatalf("LogToolCall: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var rec Record
	if err := json.Unmarshal(data[:len(data)-1], &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Error != "not attached" {
		t.Fatalf("expected error to be recorded, got %q", rec.Error)
	}
	if rec.Success == nil || *rec.Success {
		t.Fatal("expected success=false")
	}
}
