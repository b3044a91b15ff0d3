package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JonMunkholm/CsvEditor/internal/config"
)

func TestExpireIdle(t *testing.T) {
	svc, store, clock := newTestService(t, func(c *config.Config) { c.Session.IdleTTL = time.Hour })
	ctx := context.Background()

	stale := mustLoad(t, svc, "a\n1")
	clock.Advance(30 * time.Minute)
	fresh := mustLoad(t, svc, "b\n2")
	clock.Advance(45 * time.Minute)

	// Reading a session counts as use.
	fresh.Snapshot()

	if n := svc.expireIdle(ctx); n != 1 {
		t.Fatalf("expireIdle() = %d, want 1", n)
	}
	if _, err := svc.Session(stale.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("stale session still open: %v", err)
	}
	if _, err := svc.Session(fresh.ID); err != nil {
		t.Errorf("fresh session expired: %v", err)
	}

	expired, _ := store.Recent(ctx, AuditFilter{Action: ActionExpire})
	if len(expired) != 1 || expired[0].SessionID != stale.ID {
		t.Errorf("expire audit = %+v, want one entry for %s", expired, stale.ID)
	}

	if n := svc.expireIdle(ctx); n != 0 {
		t.Errorf("second expireIdle() = %d, want 0", n)
	}
}

func TestStartSessionJanitor_StopsOnCancel(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.StartSessionJanitor(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}
