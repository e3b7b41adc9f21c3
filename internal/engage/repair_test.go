package engage

import (
	"context"
	"fmt"
	"testing"
)

func seedSession(t *testing.T, repo *Repo, userID string, round int, complete bool) *Session {
	t.Helper()
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("session id: %v", err)
	}
	s := &Session{SessionID: sid, UserID: userID, ScopeID: "scope-a", RoundCount: round, Complete: complete}
	if err := repo.CreateSession(context.Background(), s); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return s
}

func TestRepairCorrupted_Idempotent(t *testing.T) {
	eng, repo := newTestEngine(t, &recordingProvider{}, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seedSession(t, repo, fmt.Sprintf("u-scan-%d", i), 3, false)
	}
	seedSession(t, repo, "u-scan-healthy", 1, false)
	seedSession(t, repo, "u-scan-done", 3, true)

	rep, err := eng.RepairCorrupted(ctx)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if rep.Total != 5 {
		t.Fatalf("total = %d, want 5", rep.Total)
	}
	if rep.Corrupted != 3 || rep.Repaired != 3 {
		t.Fatalf("first scan corrupted=%d repaired=%d, want 3/3", rep.Corrupted, rep.Repaired)
	}
	if rep.Active != 1 {
		t.Fatalf("active = %d, want 1", rep.Active)
	}

	rep2, err := eng.RepairCorrupted(ctx)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if rep2.Corrupted != 0 || rep2.Repaired != 0 {
		t.Fatalf("second scan corrupted=%d repaired=%d, want 0/0", rep2.Corrupted, rep2.Repaired)
	}
}

func TestCollapseUser(t *testing.T) {
	eng, repo := newTestEngine(t, &recordingProvider{}, 3)
	ctx := context.Background()

	seedSession(t, repo, "u-collapse", 1, false)
	seedSession(t, repo, "u-collapse", 0, false)
	newest := seedSession(t, repo, "u-collapse", 0, false)

	n, err := eng.CollapseUser(ctx, "u-collapse")
	if err != nil {
		t.Fatalf("collapse: %v", err)
	}
	if n != 2 {
		t.Fatalf("collapsed = %d, want 2", n)
	}

	active, err := eng.GetActiveSession(ctx, "u-collapse")
	if err != nil || active == nil {
		t.Fatalf("get active: %v %v", active, err)
	}
	if active.Session.SessionID != newest.SessionID {
		t.Fatalf("active = %s, want newest %s", active.Session.SessionID, newest.SessionID)
	}

	n2, err := eng.CollapseUser(ctx, "u-collapse")
	if err != nil {
		t.Fatalf("second collapse: %v", err)
	}
	if n2 != 0 {
		t.Fatalf("second collapse = %d, want 0", n2)
	}
}

func TestResetUser(t *testing.T) {
	eng, repo := newTestEngine(t, &recordingProvider{}, 3)
	ctx := context.Background()

	seedSession(t, repo, "u-reset", 2, false)
	_ = repo.AppendTurn(ctx, &Turn{UserID: "u-reset", Content: "hi", FromUser: true, Round: 1})
	_ = repo.AppendTurn(ctx, &Turn{UserID: "u-reset", Content: "ok", FromUser: false, Round: 1})

	if err := eng.ResetUser(ctx, "u-reset"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	sessions, err := repo.ListSessionsByUser(ctx, "u-reset")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("sessions = %d, want 0", len(sessions))
	}
	turns, err := repo.ListRecentTurnsDesc(ctx, "u-reset", 10)
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("turns = %d, want 0", len(turns))
	}

	// resetting an empty user is a no-op
	if err := eng.ResetUser(ctx, "u-reset"); err != nil {
		t.Fatalf("second reset: %v", err)
	}
}
