package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestProbes(t *testing.T) {
	srv := httptest.NewServer(buildMux(fakePinger{}))
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		_ = res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status=%d", path, res.StatusCode)
		}
	}
}

func TestReadyzReportsUnavailableStore(t *testing.T) {
	srv := httptest.NewServer(buildMux(fakePinger{err: errors.New("connection refused")}))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", res.StatusCode)
	}
	var body struct {
		Error struct {
			Category string `json:"category"`
			Code     string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Category != "storage" || body.Error.Code != "unavailable" {
		t.Fatalf("body=%+v", body)
	}
}

func sqliteURL(t *testing.T) string {
	t.Helper()
	return "sqlite:file:" + filepath.Join(t.TempDir(), "persistd.db") + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
}

// runCLI runs persistd with args and returns stdout, stderr and the exit code.
func runCLI(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var out, errb bytes.Buffer
	code := run(context.Background(), args, &out, &errb)
	return out.String(), errb.String(), code
}

func TestVersion(t *testing.T) {
	out, _, code := runCLI(t, "version")
	if code != 0 || !strings.HasPrefix(out, "persistd dev") {
		t.Fatalf("code=%d out=%q", code, out)
	}
}

func TestMigrate(t *testing.T) {
	db := sqliteURL(t)
	for range 2 {
		out, errOut, code := runCLI(t, "--database-url", db, "migrate")
		if code != 0 || strings.TrimSpace(out) != "migrated" {
			t.Fatalf("code=%d out=%q err=%q", code, out, errOut)
		}
	}
}

func TestAccountCommands(t *testing.T) {
	db := sqliteURL(t)
	steps := []struct {
		args []string
		want string
	}{
		{[]string{"account", "deposit", "acc-1", "100"}, "Account|acc-1 balance=100 sequence_nr=1"},
		{[]string{"account", "withdraw", "acc-1", "30"}, "Account|acc-1 balance=70 sequence_nr=2"},
		{[]string{"account", "balance", "acc-1"}, "Account|acc-1 balance=70 sequence_nr=2"},
		{[]string{"account", "rename", "acc-1", "Ada"}, "Profile|acc-1 holder=Ada renames=1 version=1"},
		{[]string{"account", "profile", "acc-1"}, "Profile|acc-1 holder=Ada renames=1 version=1"},
	}
	for _, s := range steps {
		out, errOut, code := runCLI(t, append([]string{"--database-url", db, "--lock", "local"}, s.args...)...)
		if code != 0 {
			t.Fatalf("%v: code=%d err=%q", s.args, code, errOut)
		}
		if got := strings.TrimSpace(out); got != s.want {
			t.Fatalf("%v: got %q want %q", s.args, got, s.want)
		}
	}
}

func TestAccountRejection(t *testing.T) {
	db := sqliteURL(t)
	_, errOut, code := runCLI(t, "--database-url", db, "account", "withdraw", "acc-1", "5")
	if code != 1 || !strings.Contains(errOut, "command_rejected: insufficient funds") {
		t.Fatalf("code=%d err=%q", code, errOut)
	}
	_, errOut, code = runCLI(t, "--database-url", db, "account", "deposit", "acc-1", "ten")
	if code != 1 || !strings.Contains(errOut, "invalid_amount") {
		t.Fatalf("code=%d err=%q", code, errOut)
	}
}

func TestAccountJSONWithRedisLockAndSnapshots(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("PERSIST_REDIS_ADDR", mr.Addr())
	t.Setenv("PERSIST_DELETE_EVENTS_TO_SNAPSHOT", "true")
	db := sqliteURL(t)
	common := []string{"--database-url", db, "--lock", "redis", "--snapshot-every", "2", "--writer-id", "node-a", "--format", "json"}

	for _, amt := range []string{"10", "20", "30"} {
		if _, errOut, code := runCLI(t, append(common, "account", "deposit", "acc-9", amt)...); code != 0 {
			t.Fatalf("deposit %s: %s", amt, errOut)
		}
	}
	out, errOut, code := runCLI(t, append(common, "account", "balance", "acc-9")...)
	if code != 0 {
		t.Fatal(errOut)
	}
	var got struct {
		PersistenceID string `json:"persistence_id"`
		Balance       int64  `json:"balance"`
		SequenceNr    int64  `json:"sequence_nr"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.PersistenceID != "Account|acc-9" || got.Balance != 60 || got.SequenceNr != 3 {
		t.Fatalf("got %+v", got)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("locks left behind: %v", keys)
	}
}

func TestInvalidSettingsAreRejected(t *testing.T) {
	db := sqliteURL(t)
	for _, args := range [][]string{
		{"--database-url", db, "--lock", "zookeeper", "migrate"},
		{"--database-url", db, "--replay-filter", "sometimes", "migrate"},
		{"--database-url", db, "--format", "yaml", "migrate"},
		{"--database-url", "mysql://root@localhost/db", "migrate"},
	} {
		if _, _, code := runCLI(t, args...); code != 1 {
			t.Fatalf("%v: code=%d", args, code)
		}
	}
}

func TestSeparateInvocationsShareDefaultWriter(t *testing.T) {
	for _, mode := range []string{"fail", "repair-by-discard-old"} {
		t.Run(mode, func(t *testing.T) {
			common := []string{"--database-url", sqliteURL(t), "--replay-filter", mode}
			for _, amt := range []string{"10", "20", "30"} {
				if _, errOut, code := runCLI(t, append(common, "account", "deposit", "acc-1", amt)...); code != 0 {
					t.Fatalf("deposit %s: %s", amt, errOut)
				}
			}
			out, errOut, code := runCLI(t, append(common, "account", "balance", "acc-1")...)
			if code != 0 {
				t.Fatal(errOut)
			}
			if got := strings.TrimSpace(out); got != "Account|acc-1 balance=60 sequence_nr=3" {
				t.Fatalf("got %q", got)
			}
		})
	}
}
