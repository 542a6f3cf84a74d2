package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"proxypool_sentinel/proxypool/model"
)

func testProxies() []*model.Proxy {
	first := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	return []*model.Proxy{
		{
			IP: "1.1.1.1", Port: 8080, Protocol: "http", Country: "US",
			Status: model.StatusValid, SuccessCount: 5, ResponseTime: 120 * time.Millisecond,
			FirstSeen: first, LastChecked: first.Add(time.Hour),
		},
		{
			IP: "2.2.2.2", Port: 1080, Protocol: "socks5",
			Status: model.StatusValid, SuccessCount: 2, ResponseTime: 300 * time.Millisecond,
			FirstSeen: first, LastChecked: first.Add(2 * time.Hour),
		},
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"json", "csv", "txt"} {
		if _, err := ParseFormat(s); err != nil {
			t.Errorf("ParseFormat(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) should fail")
	}
}

func TestExportJSONCountMatches(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)

	proxies := testProxies()
	res, err := e.Export(proxies, model.StatusValid, FormatJSON)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if res.Skipped || res.Count != len(proxies) {
		t.Fatalf("result = %+v, want count %d", res, len(proxies))
	}

	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("export file unreadable: %v", err)
	}
	var decoded []*model.Proxy
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("export file is not valid json: %v", err)
	}
	if len(decoded) != res.Count {
		t.Errorf("file has %d records, result claims %d", len(decoded), res.Count)
	}
}

func TestExportCSVColumnOrder(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)

	res, err := e.Export(testProxies(), model.StatusValid, FormatCSV)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	f, err := os.Open(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("csv parse failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("csv has %d rows, want header + 2", len(rows))
	}

	wantHeader := strings.Join(csvColumns, ",")
	if got := strings.Join(rows[0], ","); got != wantHeader {
		t.Errorf("header = %s, want %s", got, wantHeader)
	}
	if rows[1][0] != "1.1.1.1" || rows[1][1] != "8080" || rows[1][5] != "120" {
		t.Errorf("first data row = %v", rows[1])
	}
	// Empty country stays an empty cell, not a shifted row.
	if rows[2][3] != "" || rows[2][2] != "socks5" {
		t.Errorf("second data row = %v", rows[2])
	}
}

func TestExportTXTOneAddrPerLine(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)

	res, err := e.Export(testProxies(), model.StatusValid, FormatTXT)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	data, _ := os.ReadFile(res.Path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("txt has %d lines, want 2", len(lines))
	}
	if lines[0] != "1.1.1.1:8080" || lines[1] != "2.2.2.2:1080" {
		t.Errorf("txt lines = %v", lines)
	}
}

func TestExportEmptySubsetSkipsFile(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)

	res, err := e.Export(nil, model.StatusValid, FormatJSON)
	if err != nil {
		t.Fatalf("empty export errored: %v", err)
	}
	if !res.Skipped || res.Count != 0 || res.Path != "" {
		t.Errorf("result = %+v, want skipped with no path", res)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("empty export left %d files behind", len(entries))
	}
}

func TestExportFilenamesDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)
	ts := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return ts }

	res, err := e.Export(testProxies(), model.StatusValid, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "valid_proxies_20260801_100000.json")
	if res.Path != want {
		t.Errorf("path = %s, want %s", res.Path, want)
	}

	// A later export with a different timestamp must not overwrite.
	e.now = func() time.Time { return ts.Add(time.Second) }
	res2, err := e.Export(testProxies(), model.StatusValid, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	if res2.Path == res.Path {
		t.Error("second export reused the first file name")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("export dir has %d files, want 2", len(entries))
	}
}
