package main

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nao1215/bucketcrawl/internal/config"
	"github.com/nao1215/bucketcrawl/internal/database"
	"github.com/nao1215/bucketcrawl/internal/mirror"
)

// bucketServer serves a small delimiter-listed bucket and its archives.
type bucketServer struct {
	*httptest.Server
	listings map[string]string
	objects  map[string][]byte
	requests atomic.Int64
}

func newBucketServer(t *testing.T) *bucketServer {
	t.Helper()

	archive := zipBytes(t, map[string]string{"BTCUSDT-1m-2024-01.csv": "1704067200000,42000.1\n"})
	sum := sha256.Sum256(archive)

	b := &bucketServer{
		listings: map[string]string{
			"data/": listingDoc("data/", []string{"data/futures/", "data/spot/"}, nil),
			"data/spot/": listingDoc("data/spot/", nil, []string{
				"data/spot/BTCUSDT-1m-2024-01.zip",
				"data/spot/BTCUSDT-1m-2024-01.zip.CHECKSUM",
				"data/spot/BTCUSDT-1m-2024-02.zip",
			}),
			"data/futures/": listingDoc("data/futures/", nil, nil),
		},
		objects: map[string][]byte{
			"data/spot/BTCUSDT-1m-2024-01.zip":          archive,
			"data/spot/BTCUSDT-1m-2024-01.zip.CHECKSUM": []byte(hex.EncodeToString(sum[:]) + "  BTCUSDT-1m-2024-01.zip\n"),
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		b.requests.Add(1)
		body, ok := b.listings[r.URL.Query().Get("prefix")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, body)
	})
	mux.HandleFunc("/archive/", func(w http.ResponseWriter, r *http.Request) {
		b.requests.Add(1)
		body, ok := b.objects[strings.TrimPrefix(r.URL.Path, "/archive/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	})

	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func (b *bucketServer) listingURL() string { return b.URL + "/list?delimiter=/&prefix=" }
func (b *bucketServer) archiveURL() string { return b.URL + "/archive/" }

func listingDoc(prefix string, children, keys []string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	sb.WriteString(`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&sb, "<Name>data.binance.vision</Name><Prefix>%s</Prefix><IsTruncated>false</IsTruncated>", prefix)
	for _, k := range keys {
		fmt.Fprintf(&sb, "<Contents><Key>%s</Key><Size>100</Size></Contents>", k)
	}
	for _, c := range children {
		fmt.Fprintf(&sb, "<CommonPrefixes><Prefix>%s</Prefix></CommonPrefixes>", c)
	}
	sb.WriteString("</ListBucketResult>")
	return sb.String()
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestEndToEnd(t *testing.T) {
	srv := newBucketServer(t)
	tmp := t.TempDir()
	cfgFile := filepath.Join(tmp, "bucketcrawl.yaml")
	if err := os.WriteFile(cfgFile, []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	saveDir := filepath.Join(tmp, "mirror")
	downloadDir := filepath.Join(tmp, "downloads")
	dbDir := filepath.Join(tmp, "db")

	common := []string{"-c", cfgFile, "--save-dir", saveDir}

	t.Run("crawl mirrors every prefix", func(t *testing.T) {
		args := append([]string{"crawl"}, common...)
		args = append(args, "--listing-url", srv.listingURL(), "--db-dir", dbDir,
			"--backoff", "1ms", "-f", "json", "-o", filepath.Join(tmp, "reports", "crawl.json"), "data/")
		stdout, stderr, err := execute(t, "", args...)
		if err != nil {
			t.Fatalf("crawl failed: %v\nstderr: %s", err, stderr)
		}

		var env struct {
			Kind  string `json:"kind"`
			Crawl struct {
				State   string `json:"state"`
				Visited int    `json:"visited"`
				Failed  int    `json:"failed"`
			} `json:"crawl"`
		}
		if err := json.Unmarshal([]byte(stdout), &env); err != nil {
			t.Fatalf("invalid JSON report: %v\n%s", err, stdout)
		}
		if env.Kind != "crawl" || env.Crawl.State != "drained" || env.Crawl.Visited != 3 || env.Crawl.Failed != 0 {
			t.Errorf("unexpected report %+v", env)
		}

		for _, p := range []string{"data/", "data/spot/", "data/futures/"} {
			path := filepath.Join(saveDir, filepath.FromSlash(p), mirror.FileName(p))
			if _, err := os.Stat(path); err != nil {
				t.Errorf("expected mirror file %s: %v", path, err)
			}
		}
		if _, err := os.Stat(filepath.Join(tmp, "reports", "crawl.json")); err != nil {
			t.Errorf("expected report file: %v", err)
		}
		if _, err := os.Stat(filepath.Join(saveDir, config.ErrorLogName)); err != nil {
			t.Errorf("expected error log: %v", err)
		}
	})

	t.Run("keys applies the month filter", func(t *testing.T) {
		args := append([]string{"keys"}, common...)
		args = append(args, "--year", "2024", "--month", "1")
		stdout, stderr, err := execute(t, "", args...)
		if err != nil {
			t.Fatalf("keys failed: %v\nstderr: %s", err, stderr)
		}
		if stdout != "data/spot/BTCUSDT-1m-2024-01.zip\n" {
			t.Errorf("unexpected keys %q", stdout)
		}
	})

	t.Run("count reports the inventory", func(t *testing.T) {
		args := append([]string{"count"}, common...)
		stdout, stderr, err := execute(t, "", args...)
		if err != nil {
			t.Fatalf("count failed: %v\nstderr: %s", err, stderr)
		}
		if !strings.Contains(stdout, "BUCKETCRAWL MIRROR INVENTORY") {
			t.Errorf("unexpected inventory output:\n%s", stdout)
		}
	})

	t.Run("download asks for confirmation", func(t *testing.T) {
		args := append([]string{"download"}, common...)
		args = append(args, "--archive-url", srv.archiveURL(), "--download-dir", downloadDir,
			"--year", "2024", "--month", "1")
		_, stderr, err := execute(t, "n\n", args...)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(stderr, "Aborted.") {
			t.Errorf("expected abort message, got %q", stderr)
		}
		if _, err := os.Stat(downloadDir); !os.IsNotExist(err) {
			t.Error("nothing should be downloaded after declining")
		}
	})

	t.Run("download verifies checksums", func(t *testing.T) {
		args := append([]string{"download"}, common...)
		args = append(args, "--archive-url", srv.archiveURL(), "--download-dir", downloadDir,
			"--year", "2024", "--month", "1", "--verify-checksums", "--backoff", "1ms", "-y")
		_, stderr, err := execute(t, "", args...)
		if err != nil {
			t.Fatalf("download failed: %v\nstderr: %s", err, stderr)
		}
		if _, err := os.Stat(filepath.Join(downloadDir, "data", "spot", "BTCUSDT-1m-2024-01.zip")); err != nil {
			t.Errorf("expected downloaded archive: %v", err)
		}
		if _, err := os.Stat(filepath.Join(downloadDir, "data", "spot", "BTCUSDT-1m-2024-02.zip")); !os.IsNotExist(err) {
			t.Error("archive outside the month filter must not be downloaded")
		}
	})

	t.Run("extract unpacks and deletes", func(t *testing.T) {
		args := append([]string{"extract"}, common...)
		args = append(args, "--download-dir", downloadDir)
		_, stderr, err := execute(t, "", args...)
		if err != nil {
			t.Fatalf("extract failed: %v\nstderr: %s", err, stderr)
		}
		csv := filepath.Join(downloadDir, "data", "spot", "BTCUSDT-1m-2024-01.csv")
		if content, err := os.ReadFile(csv); err != nil || !strings.HasPrefix(string(content), "1704067200000") {
			t.Errorf("expected extracted csv: %v", err)
		}
		if _, err := os.Stat(filepath.Join(downloadDir, "data", "spot", "BTCUSDT-1m-2024-01.zip")); !os.IsNotExist(err) {
			t.Error("expected archive to be deleted after extraction")
		}
	})

	t.Run("history lists the run", func(t *testing.T) {
		stdout, stderr, err := execute(t, "", "history", "--db-dir", dbDir)
		if err != nil {
			t.Fatalf("history failed: %v\nstderr: %s", err, stderr)
		}
		if !strings.Contains(stdout, "Recorded runs (1)") || !strings.Contains(stdout, "drained") {
			t.Errorf("unexpected history:\n%s", stdout)
		}
	})
}

func TestSyncCommand(t *testing.T) {
	srv := newBucketServer(t)
	tmp := t.TempDir()
	cfgFile := filepath.Join(tmp, "bucketcrawl.yaml")
	if err := os.WriteFile(cfgFile, []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	downloadDir := filepath.Join(tmp, "downloads")

	stdout, stderr, err := execute(t, "",
		"sync", "-c", cfgFile,
		"--listing-url", srv.listingURL(),
		"--archive-url", srv.archiveURL(),
		"--save-dir", filepath.Join(tmp, "mirror"),
		"--download-dir", downloadDir,
		"--db-dir", filepath.Join(tmp, "db"),
		"--year", "2024", "--month", "01",
		"--no-delete", "--backoff", "1ms", "-y",
		"data/")
	if err != nil {
		t.Fatalf("sync failed: %v\nstderr: %s", err, stderr)
	}

	for _, want := range []string{"BUCKETCRAWL SYNC REPORT", "crawl -> collect -> download -> extract"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("expected %q in report:\n%s", want, stdout)
		}
	}
	for _, name := range []string{"BTCUSDT-1m-2024-01.zip", "BTCUSDT-1m-2024-01.csv"} {
		if _, err := os.Stat(filepath.Join(downloadDir, "data", "spot", name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
}

func TestCrawlSeveralPrefixes(t *testing.T) {
	srv := newBucketServer(t)
	tmp := t.TempDir()
	cfgFile := filepath.Join(tmp, "bucketcrawl.yaml")
	if err := os.WriteFile(cfgFile, []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	dbDir := filepath.Join(tmp, "db")
	reportFile := filepath.Join(tmp, "crawl.json")

	_, stderr, err := execute(t, "",
		"crawl", "-c", cfgFile,
		"--listing-url", srv.listingURL(),
		"--save-dir", filepath.Join(tmp, "mirror"),
		"--db-dir", dbDir,
		"--retries", "0", "--backoff", "1ms",
		"-f", "json", "-o", reportFile,
		"missing/", "data/spot/")
	if err != nil {
		t.Fatalf("crawl failed: %v\nstderr: %s", err, stderr)
	}

	type crawlReport struct {
		RunID       string `json:"run_id"`
		StartPrefix string `json:"start_prefix"`
		Failed      int    `json:"failed"`
		Failures    []struct {
			Subject string `json:"subject"`
		} `json:"failures"`
	}

	f, err := os.Open(reportFile)
	if err != nil {
		t.Fatalf("failed to open report file: %v", err)
	}
	defer f.Close()

	reports := make(map[string]crawlReport)
	dec := json.NewDecoder(f)
	for dec.More() {
		var env struct {
			Crawl crawlReport `json:"crawl"`
		}
		if err := dec.Decode(&env); err != nil {
			t.Fatalf("invalid JSON in report file: %v", err)
		}
		reports[env.Crawl.StartPrefix] = env.Crawl
	}

	t.Run("report file keeps every target", func(t *testing.T) {
		if len(reports) != 2 {
			t.Fatalf("expected reports for both prefixes, got %v", reports)
		}
	})

	t.Run("failures stay with their own run", func(t *testing.T) {
		missing, spot := reports["missing/"], reports["data/spot/"]
		if missing.Failed != 1 || len(missing.Failures) != 1 || missing.Failures[0].Subject != "missing/" {
			t.Errorf("unexpected report for missing/: %+v", missing)
		}
		if spot.Failed != 0 || len(spot.Failures) != 0 {
			t.Errorf("data/spot/ must not carry failures of missing/: %+v", spot)
		}

		db, err := database.Open(dbDir, database.DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		failures, err := db.FailuresForRun(context.Background(), spot.RunID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(failures) != 0 {
			t.Errorf("stored failures for data/spot/ run: %+v", failures)
		}
		failures, err = db.FailuresForRun(context.Background(), missing.RunID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(failures) != 1 {
			t.Errorf("expected one stored failure for missing/, got %+v", failures)
		}
	})
}

func TestSyncReportFileKeepsEveryPrefix(t *testing.T) {
	srv := newBucketServer(t)
	tmp := t.TempDir()
	cfgFile := filepath.Join(tmp, "bucketcrawl.yaml")
	if err := os.WriteFile(cfgFile, []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	reportFile := filepath.Join(tmp, "sync.md")

	_, stderr, err := execute(t, "",
		"sync", "-c", cfgFile,
		"--listing-url", srv.listingURL(),
		"--save-dir", filepath.Join(tmp, "mirror"),
		"--no-db", "--no-download", "--no-extract",
		"--backoff", "1ms", "-y",
		"-f", "markdown", "-o", reportFile,
		"data/spot/", "data/futures/")
	if err != nil {
		t.Fatalf("sync failed: %v\nstderr: %s", err, stderr)
	}

	content, err := os.ReadFile(reportFile)
	if err != nil {
		t.Fatalf("failed to read report file: %v", err)
	}
	if n := strings.Count(string(content), "# Sync Report"); n != 2 {
		t.Errorf("expected two sync reports in file, got %d:\n%s", n, content)
	}
	for _, want := range []string{"`data/spot/`", "`data/futures/`"} {
		if !strings.Contains(string(content), want) {
			t.Errorf("expected %s in report file", want)
		}
	}
}

func TestCrawlUsageErrorBeforeNetwork(t *testing.T) {
	srv := newBucketServer(t)
	tmp := t.TempDir()
	cfgFile := filepath.Join(tmp, "bucketcrawl.yaml")
	if err := os.WriteFile(cfgFile, []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, _, err := execute(t, "", "crawl", "-c", cfgFile,
		"--listing-url", srv.listingURL(),
		"--save-dir", filepath.Join(tmp, "mirror"),
		"--no-db", "--year", "2024")
	if !config.IsUsageError(err) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if n := srv.requests.Load(); n != 0 {
		t.Errorf("expected no requests before validation, got %d", n)
	}
	if _, err := os.Stat(filepath.Join(tmp, "mirror")); !os.IsNotExist(err) {
		t.Error("expected no mirror directory after a usage error")
	}
}
