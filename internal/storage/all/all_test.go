package all

import (
	"testing"

	"jsonrel/internal/storage"
)

func TestAllBackendsRegistered(t *testing.T) {
	got := map[string]bool{}
	for _, k := range storage.Kinds() {
		got[k] = true
	}
	for _, want := range []string{"mongo", "mssql", "mysql", "postgres", "sqlite"} {
		if !got[want] {
			t.Fatalf("kind %q not registered; have %v", want, storage.Kinds())
		}
	}
}
