package pglock

import (
	"testing"

	"github.com/wilhg/persist/pkg/persistence"
)

func TestKeyIsStable(t *testing.T) {
	a := Key(persistence.MustOf("Account", "1"))
	if a != Key(persistence.MustOf("Account", "1")) {
		t.Fatal("key not deterministic")
	}
	if a == Key(persistence.MustOf("Account", "2")) {
		t.Fatal("distinct ids share a key")
	}
}
