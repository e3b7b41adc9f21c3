package engage

import (
	"context"
	"fmt"
	"log"
)

// ScanReport summarizes one system-wide consistency pass.
type ScanReport struct {
	Total     int64 `json:"total"`
	Active    int64 `json:"active"`
	Corrupted int64 `json:"corrupted"`
	Repaired  int64 `json:"repaired"`
}

// RepairCorrupted scans every session and completes any row whose round
// count reached the limit without the complete flag. Running it on
// consistent data reports zero repairs.
func (e *Engine) RepairCorrupted(ctx context.Context) (ScanReport, error) {
	var rep ScanReport
	var err error

	if rep.Total, err = e.repo.CountSessions(ctx); err != nil {
		return rep, fmt.Errorf("engage: count sessions: %w", err)
	}
	if rep.Corrupted, err = e.repo.CountCorruptedSessions(ctx, e.maxRounds); err != nil {
		return rep, fmt.Errorf("engage: count corrupted: %w", err)
	}
	if rep.Repaired, err = e.repo.RepairCorrupted(ctx, e.maxRounds); err != nil {
		return rep, fmt.Errorf("engage: repair corrupted: %w", err)
	}
	if rep.Active, err = e.repo.CountActiveSessions(ctx, e.maxRounds); err != nil {
		return rep, fmt.Errorf("engage: count active: %w", err)
	}

	if rep.Repaired > 0 {
		log.Printf("engage scan total=%d corrupted=%d repaired=%d", rep.Total, rep.Corrupted, rep.Repaired)
	}
	return rep, nil
}

// CollapseUser forces the single-active-session invariant for one user:
// every non-complete session except the newest is flagged complete.
// Returns sessions collapsed; zero when already consistent.
func (e *Engine) CollapseUser(ctx context.Context, userID string) (int64, error) {
	sessions, err := e.repo.ListSessionsByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("engage: list sessions: %w", err)
	}
	if len(sessions) <= 1 {
		return 0, nil
	}
	var extra []uint64
	for _, s := range sessions[1:] {
		if !s.Complete {
			extra = append(extra, s.ID)
		}
	}
	n, err := e.repo.SetSessionsComplete(ctx, extra)
	if err != nil {
		return 0, fmt.Errorf("engage: collapse sessions: %w", err)
	}
	return n, nil
}

// ResetUser wipes every session and turn for one user.
func (e *Engine) ResetUser(ctx context.Context, userID string) error {
	lk := e.locks.get(userID)
	lk.Lock()
	defer lk.Unlock()
	if err := e.repo.DeleteUserData(ctx, userID); err != nil {
		return fmt.Errorf("engage: reset user: %w", err)
	}
	log.Printf("engage reset user=%s", userID)
	return nil
}
