package errmodel

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type typedErr struct{ seq int64 }

func (e *typedErr) Error() string { return fmt.Sprintf("typed at %d", e.seq) }
func (e *typedErr) Compact() *Error {
	return Conflict(CodeWriterConflict, e.Error(), map[string]any{"sequence_nr": e.seq})
}

func TestIsMatchesCategoryAndCode(t *testing.T) {
	sentinel := Sentinel(CategoryValidation, CodeInvalidIdentity)
	err := fmt.Errorf("wrap: %w", Validation(CodeInvalidIdentity, "entity type must not be empty", nil))
	if !errors.Is(err, sentinel) {
		t.Fatalf("errors.Is(%v, sentinel) = false", err)
	}
	if errors.Is(err, Sentinel(CategoryConfiguration, CodeInvalidIdentity)) {
		t.Fatal("different category must not match")
	}
}

func TestFromUsesCompacter(t *testing.T) {
	ce := From(fmt.Errorf("recover: %w", &typedErr{seq: 3}))
	if ce.Category != CategoryConflict || ce.Code != CodeWriterConflict {
		t.Fatalf("got %s/%s", ce.Category, ce.Code)
	}
	if ce.Context["sequence_nr"] != int64(3) {
		t.Fatalf("context=%v", ce.Context)
	}
	if got := From(errors.New("boom")); got.Category != CategorySystem || got.Code != "internal" {
		t.Fatalf("unknown error mapped to %s/%s", got.Category, got.Code)
	}
	if From(nil) != nil {
		t.Fatal("From(nil) must be nil")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{Validation(CodeInvalidIdentity, "x", nil), http.StatusBadRequest},
		{Conflict(CodeWriterConflict, "x", nil), http.StatusConflict},
		{Storage(CodeUnavailable, "x", nil, nil), http.StatusServiceUnavailable},
		{Configuration(CodeMissingStore, "x", nil), http.StatusInternalServerError},
		{nil, http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Fatalf("HTTPStatus(%v)=%d want %d", c.err, got, c.want)
		}
	}
}

func TestWriteHTTP(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	WriteHTTP(rec, req, Storage(CodeUnavailable, "store unreachable", nil, errors.New("dial tcp")))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rec.Code)
	}
	var body struct {
		Error Error `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != CodeUnavailable || len(body.Error.Causes) != 1 {
		t.Fatalf("body=%+v", body.Error)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", 600)
	ce := New(CategorySystem, "internal", long, map[string]any{"k": long})
	if len(ce.Message) != 512 || !strings.HasSuffix(ce.Message, "...") {
		t.Fatalf("message len=%d", len(ce.Message))
	}
	if s := ce.Context["k"].(string); len(s) != 256 {
		t.Fatalf("context len=%d", len(s))
	}
}
