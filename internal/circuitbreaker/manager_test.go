package circuitbreaker

import (
	"context"
	"testing"
	"time"
)

func TestManager(t *testing.T) {
	manager := NewManager(quietLogger())

	pg := manager.GetOrCreate("postgres", Config{MaxFailures: 1, Timeout: time.Minute})
	if pg != manager.GetOrCreate("postgres", Config{MaxFailures: 9}) {
		t.Fatal("expected same breaker for the same name")
	}
	idp := manager.GetOrCreate("firebase", Config{})
	if pg == idp {
		t.Fatal("expected distinct breakers")
	}
	if manager.Get("missing") != nil {
		t.Error("expected nil for unknown breaker")
	}

	if !manager.Healthy() {
		t.Error("expected healthy manager")
	}

	_ = pg.Execute(context.Background(), fail)
	if manager.Healthy() {
		t.Error("expected unhealthy while postgres breaker is open")
	}

	snaps := manager.Snapshots()
	if len(snaps) != 2 || snaps[0].Name != "firebase" || snaps[1].Name != "postgres" {
		t.Fatalf("unexpected snapshots %+v", snaps)
	}
	if snaps[1].State != "open" {
		t.Errorf("expected postgres open, got %s", snaps[1].State)
	}

	manager.ResetAll()
	if !manager.Healthy() {
		t.Error("expected healthy after reset")
	}
}
