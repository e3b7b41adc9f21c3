package engage

import (
	"context"
	"errors"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/nightcall-labs/nightcall/internal/gen"
)

type recordingProvider struct {
	last  gen.Request
	reply string
	fail  bool
	calls int
}

func (p *recordingProvider) Generate(ctx context.Context, req gen.Request) (string, error) {
	_ = ctx
	p.calls++
	p.last = req
	// copy to avoid mutations
	p.last.Window = append([]gen.Message(nil), req.Window...)
	if p.fail {
		return "", errors.New("provider down")
	}
	if p.reply == "" {
		return "ok", nil
	}
	return p.reply, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// named in-memory db so the pool shares one instance per test
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Session{}, &Turn{}, &Job{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestEngine(t *testing.T, prov gen.Provider, maxRounds int) (*Engine, *Repo) {
	t.Helper()
	repo := NewRepo(openTestDB(t))
	return NewEngine(repo, prov, maxRounds), repo
}

func TestAdvance_FullLifecycle(t *testing.T) {
	prov := &recordingProvider{}
	eng, repo := newTestEngine(t, prov, 3)
	ctx := context.Background()

	if _, err := eng.OpenSession(ctx, "u-lifecycle", "scope-a", map[string]any{"display_name": "Ada"}); err != nil {
		t.Fatalf("open session: %v", err)
	}

	for i, inbound := range []string{"hi", "again", "more"} {
		res, err := eng.Advance(ctx, "u-lifecycle", inbound)
		if err != nil {
			t.Fatalf("advance %d: %v", i+1, err)
		}
		if res.Round != i+1 {
			t.Fatalf("advance %d: round = %d", i+1, res.Round)
		}
		wantComplete := i+1 == 3
		if res.SessionComplete != wantComplete {
			t.Fatalf("advance %d: sessionComplete = %v", i+1, res.SessionComplete)
		}
		if res.Reply != "ok" {
			t.Fatalf("advance %d: reply = %q", i+1, res.Reply)
		}

		latest, err := repo.LatestSessionByUser(ctx, "u-lifecycle")
		if err != nil || latest == nil {
			t.Fatalf("advance %d: load session: %v", i+1, err)
		}
		if latest.RoundCount != i+1 {
			t.Fatalf("advance %d: persisted round = %d", i+1, latest.RoundCount)
		}
		if latest.Complete != wantComplete {
			t.Fatalf("advance %d: persisted complete = %v", i+1, latest.Complete)
		}
	}

	// context snapshot reaches the provider on every round
	if prov.last.Context["display_name"] != "Ada" {
		t.Fatalf("provider context = %v", prov.last.Context)
	}

	if _, err := eng.Advance(ctx, "u-lifecycle", "please"); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("fourth advance err = %v, want ErrLimitExceeded", err)
	}

	// limit-hit turns leave no trace
	turns, err := repo.ListRecentTurnsDesc(ctx, "u-lifecycle", 100)
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(turns) != 6 {
		t.Fatalf("turn rows = %d, want 6", len(turns))
	}
}

func TestAdvance_NoSession(t *testing.T) {
	eng, _ := newTestEngine(t, &recordingProvider{}, 3)

	_, err := eng.Advance(context.Background(), "u-nobody", "hello?")
	if !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("err = %v, want ErrNoActiveSession", err)
	}
}

func TestAdvance_InvalidInput(t *testing.T) {
	eng, repo := newTestEngine(t, &recordingProvider{}, 3)
	ctx := context.Background()

	if _, err := eng.OpenSession(ctx, "u-invalid", "scope-a", nil); err != nil {
		t.Fatalf("open session: %v", err)
	}

	if _, err := eng.Advance(ctx, "u-invalid", "   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank text err = %v, want ErrInvalidInput", err)
	}
	if _, err := eng.Advance(ctx, "", "hello"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank user err = %v, want ErrInvalidInput", err)
	}

	latest, err := repo.LatestSessionByUser(ctx, "u-invalid")
	if err != nil || latest == nil {
		t.Fatalf("load session: %v", err)
	}
	if latest.RoundCount != 0 || latest.Complete {
		t.Fatalf("session mutated: round=%d complete=%v", latest.RoundCount, latest.Complete)
	}
	turns, _ := repo.ListRecentTurnsDesc(ctx, "u-invalid", 10)
	if len(turns) != 0 {
		t.Fatalf("turn rows = %d, want 0", len(turns))
	}
}

func TestAdvance_GenerationFallback(t *testing.T) {
	prov := &recordingProvider{fail: true}
	eng, repo := newTestEngine(t, prov, 3)
	ctx := context.Background()

	if _, err := eng.OpenSession(ctx, "u-fallback", "scope-a", nil); err != nil {
		t.Fatalf("open session: %v", err)
	}

	res, err := eng.Advance(ctx, "u-fallback", "hi")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	want := gen.Fallback(gen.Request{Round: 1})
	if res.Reply != want {
		t.Fatalf("reply = %q, want fallback %q", res.Reply, want)
	}

	// the round is still consumed
	latest, _ := repo.LatestSessionByUser(ctx, "u-fallback")
	if latest.RoundCount != 1 {
		t.Fatalf("round = %d, want 1", latest.RoundCount)
	}
	turns, _ := repo.ListRecentTurnsDesc(ctx, "u-fallback", 10)
	if len(turns) != 2 {
		t.Fatalf("turn rows = %d, want 2", len(turns))
	}
}

func TestAdvance_WindowContents(t *testing.T) {
	prov := &recordingProvider{reply: "bot"}
	eng, repo := newTestEngine(t, prov, 3)
	ctx := context.Background()

	// an earlier, completed cycle whose turns must never resurface
	sid, _ := NewSessionID()
	old := &Session{SessionID: sid, UserID: "u-window", ScopeID: "scope-a", RoundCount: 3, Complete: true}
	if err := repo.CreateSession(ctx, old); err != nil {
		t.Fatalf("create old session: %v", err)
	}
	for r := 1; r <= 3; r++ {
		_ = repo.AppendTurn(ctx, &Turn{UserID: "u-window", Content: "stale", FromUser: true, Round: r})
		_ = repo.AppendTurn(ctx, &Turn{UserID: "u-window", Content: "stale", FromUser: false, Round: r})
	}

	if _, err := eng.OpenSession(ctx, "u-window", "scope-a", nil); err != nil {
		t.Fatalf("open session: %v", err)
	}

	if _, err := eng.Advance(ctx, "u-window", "r1"); err != nil {
		t.Fatalf("advance 1: %v", err)
	}
	if len(prov.last.Window) != 0 {
		t.Fatalf("round 1 window = %d rows, want 0", len(prov.last.Window))
	}

	if _, err := eng.Advance(ctx, "u-window", "r2"); err != nil {
		t.Fatalf("advance 2: %v", err)
	}
	if len(prov.last.Window) != 2 {
		t.Fatalf("round 2 window = %d rows, want 2", len(prov.last.Window))
	}

	if _, err := eng.Advance(ctx, "u-window", "r3"); err != nil {
		t.Fatalf("advance 3: %v", err)
	}
	win := prov.last.Window
	if len(win) != 4 {
		t.Fatalf("round 3 window = %d rows, want 4", len(win))
	}
	for i, m := range win {
		wantRole := "user"
		if i%2 == 1 {
			wantRole = "assistant"
		}
		if m.Role != wantRole {
			t.Fatalf("window[%d] role = %q, want %q", i, m.Role, wantRole)
		}
		if m.Content == "stale" {
			t.Fatalf("window[%d] leaked a prior cycle's turn", i)
		}
	}
	if win[0].Content != "r1" || win[2].Content != "r2" {
		t.Fatalf("window order wrong: %v", win)
	}
}

func TestGetActiveSession_CollapsesDuplicates(t *testing.T) {
	eng, repo := newTestEngine(t, &recordingProvider{}, 3)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 2; i++ {
		sid, _ := NewSessionID()
		s := &Session{SessionID: sid, UserID: "u-dupes", ScopeID: "scope-a"}
		if err := repo.CreateSession(ctx, s); err != nil {
			t.Fatalf("create session %d: %v", i, err)
		}
		ids = append(ids, sid)
	}

	active, err := eng.GetActiveSession(ctx, "u-dupes")
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active == nil {
		t.Fatal("expected an active session")
	}
	if active.Session.SessionID != ids[1] {
		t.Fatalf("active = %s, want newest %s", active.Session.SessionID, ids[1])
	}

	older, err := repo.GetSessionBySessionID(ctx, ids[0])
	if err != nil {
		t.Fatalf("load older: %v", err)
	}
	if !older.Complete {
		t.Fatal("older session not collapsed")
	}

	// repair is idempotent
	again, err := eng.GetActiveSession(ctx, "u-dupes")
	if err != nil || again == nil || again.Session.SessionID != ids[1] {
		t.Fatalf("second get active: %v %v", again, err)
	}
}

func TestGetActiveSession_RepairsCorrupted(t *testing.T) {
	eng, repo := newTestEngine(t, &recordingProvider{}, 3)
	ctx := context.Background()

	sid, _ := NewSessionID()
	s := &Session{SessionID: sid, UserID: "u-corrupt", ScopeID: "scope-a", RoundCount: 3, Complete: false}
	if err := repo.CreateSession(ctx, s); err != nil {
		t.Fatalf("create session: %v", err)
	}

	active, err := eng.GetActiveSession(ctx, "u-corrupt")
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active != nil {
		t.Fatal("corrupted session treated as active")
	}

	fixed, err := repo.GetSessionBySessionID(ctx, sid)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !fixed.Complete {
		t.Fatal("corrupted session not repaired")
	}
}

func TestGetActiveSession_BadContextDegrades(t *testing.T) {
	eng, repo := newTestEngine(t, &recordingProvider{}, 3)
	ctx := context.Background()

	sid, _ := NewSessionID()
	s := &Session{SessionID: sid, UserID: "u-badctx", ScopeID: "scope-a", Context: "{not json"}
	if err := repo.CreateSession(ctx, s); err != nil {
		t.Fatalf("create session: %v", err)
	}

	active, err := eng.GetActiveSession(ctx, "u-badctx")
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active == nil {
		t.Fatal("expected an active session")
	}
	if active.Context == nil || len(active.Context) != 0 {
		t.Fatalf("context = %v, want empty map", active.Context)
	}
}

func TestOpenSession_ClosesPrior(t *testing.T) {
	eng, repo := newTestEngine(t, &recordingProvider{}, 3)
	ctx := context.Background()

	first, err := eng.OpenSession(ctx, "u-reopen", "scope-a", nil)
	if err != nil {
		t.Fatalf("open first: %v", err)
	}
	second, err := eng.OpenSession(ctx, "u-reopen", "scope-a", nil)
	if err != nil {
		t.Fatalf("open second: %v", err)
	}

	old, err := repo.GetSessionBySessionID(ctx, first.SessionID)
	if err != nil {
		t.Fatalf("reload first: %v", err)
	}
	if !old.Complete {
		t.Fatal("prior session left active")
	}

	active, err := eng.GetActiveSession(ctx, "u-reopen")
	if err != nil || active == nil {
		t.Fatalf("get active: %v %v", active, err)
	}
	if active.Session.SessionID != second.SessionID {
		t.Fatalf("active = %s, want %s", active.Session.SessionID, second.SessionID)
	}
}
