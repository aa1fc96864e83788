package main

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestReadRequestLine_CompactsPrettyJSON(t *testing.T) {
	t.Parallel()
	in := strings.NewReader("{\n  \"tool_name\": \"Bash\",\n  \"tool_input\": {\"command\": \"ls\"}\n}\n")

	line, err := readRequestLine(in)
	if err != nil {
		t.Fatalf("readRequestLine() error = %v", err)
	}
	if strings.ContainsAny(string(line), "\n") {
		t.Errorf("line contains newlines: %q", line)
	}
	if !strings.Contains(string(line), `"tool_name":"Bash"`) {
		t.Errorf("line = %q, want compacted tool_name field", line)
	}
}

func TestReadRequestLine_Empty(t *testing.T) {
	t.Parallel()
	if _, err := readRequestLine(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestCompactLine_Invalid(t *testing.T) {
	t.Parallel()
	if _, err := compactLine([]byte("{not json")); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestClientPaths(t *testing.T) {
	t.Parallel()
	sock, pid := clientPaths("/tmp/approvd-test")
	if sock != filepath.Join("/tmp/approvd-test", "approvd.sock") {
		t.Errorf("socket path = %q", sock)
	}
	if pid != filepath.Join("/tmp/approvd-test", "approvd.pid") {
		t.Errorf("pid path = %q", pid)
	}

	// Empty data dir falls back to the home default.
	sock, _ = clientPaths("")
	if !strings.HasSuffix(sock, filepath.Join(".approvd", "approvd.sock")) {
		t.Errorf("default socket path = %q", sock)
	}
}
