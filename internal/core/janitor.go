package core

// janitor.go discards sessions nobody has touched for a while.
//
// Tables live only in memory, so an abandoned browser tab would otherwise
// pin its file forever. The janitor is long-running and context-aware; it
// logs what it expires and never fails the application.

import (
	"context"
	"log/slog"
	"time"
)

// StartSessionJanitor sweeps idle sessions every interval until ctx ends.
// It blocks; run it in its own goroutine.
func (s *Service) StartSessionJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	slog.Info("session janitor started",
		"interval", interval,
		"idle_ttl", s.cfg.IdleTTL,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session janitor stopped")
			return
		case <-ticker.C:
			s.expireIdle(ctx)
		}
	}
}

// expireIdle closes sessions idle longer than IdleTTL and returns how many.
func (s *Service) expireIdle(ctx context.Context) int {
	cutoff := s.now().Add(-s.cfg.IdleTTL)

	s.mu.RLock()
	var stale []*Session
	for _, sess := range s.sessions {
		if sess.LastUsed().Before(cutoff) {
			stale = append(stale, sess)
		}
	}
	s.mu.RUnlock()

	expired := 0
	for _, sess := range stale {
		s.mu.Lock()
		// Skip sessions used or closed since the scan
		if s.sessions[sess.ID] != sess || !sess.LastUsed().Before(cutoff) {
			s.mu.Unlock()
			continue
		}
		delete(s.sessions, sess.ID)
		s.mu.Unlock()

		if !sess.close() {
			continue
		}
		expired++

		entry := newAuditEntry(ctx, ActionExpire, sess, s.now())
		entry.Reason = "idle for more than " + s.cfg.IdleTTL.String()
		s.recordAudit(ctx, entry)
	}

	if expired > 0 {
		slog.Info("expired idle sessions", "count", expired)
	}
	return expired
}
