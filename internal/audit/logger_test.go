package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestAppendWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	rec := Record{
		ID:        "t1",
		Agent:     "followup",
		PatientID: "10004235",
		Input:     "I feel dizzy",
		Intent:    "followup",
		Risk:      "ORANGE",
		Response:  "A nurse will call you today.",
	}
	if err := l.Append(rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	var got Record
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal line: %v", err)
	}
	if got.Agent != "followup" || got.Risk != "ORANGE" {
		t.Errorf("record = %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("Timestamp not filled in")
	}
}

func TestAppendIsAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	l, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.Append(Record{ID: "a", Agent: "help", Input: "hi", Response: "hello"})
	l.Close()

	// Reopening must not truncate.
	l, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	l.Append(Record{ID: "b", Agent: "help", Input: "hi again", Response: "hello"})
	l.Close()

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
}

func TestConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Append(Record{
				ID:       fmt.Sprintf("t%d", i),
				Agent:    "followup",
				Input:    "concurrent turn",
				Response: "ok",
			})
		}(i)
	}
	wg.Wait()

	lines := readLines(t, path)
	if len(lines) != n {
		t.Fatalf("got %d lines, want %d", len(lines), n)
	}
	seen := make(map[string]bool, n)
	for _, line := range lines {
		var r Record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			t.Fatalf("malformed line %q: %v", line, err)
		}
		if seen[r.ID] {
			t.Errorf("duplicate record %s", r.ID)
		}
		seen[r.ID] = true
	}
}

func TestWriteFailureGoesToChannel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	l, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	// Break the writer: close the handle and make reopening impossible by
	// replacing the path with a directory.
	l.mu.Lock()
	l.file.Close()
	l.file = nil
	l.mu.Unlock()
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := l.Append(Record{ID: "lost", Agent: "help", Input: "x", Response: "y"}); err != nil {
		t.Fatalf("Append returned error, want nil: %v", err)
	}

	select {
	case f := <-l.Failures():
		if f.Record.ID != "lost" {
			t.Errorf("failure record = %+v", f.Record)
		}
		if f.Err == nil {
			t.Error("failure has nil error")
		}
	default:
		t.Fatal("no failure reported")
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening log: %v", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scanning log: %v", err)
	}
	return lines
}
