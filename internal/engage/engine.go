package engage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nightcall-labs/nightcall/internal/gen"
)

var (
	// ErrNoActiveSession means the user has no session, or their session is
	// complete (or was just repaired to complete). Expected outcome, the
	// caller answers with TerminalNotice.
	ErrNoActiveSession = errors.New("engage: no active session")
	// ErrLimitExceeded means the session has already consumed every round.
	ErrLimitExceeded = errors.New("engage: round limit exceeded")
	// ErrInvalidInput rejects malformed user ids or empty content before any
	// state is touched.
	ErrInvalidInput = errors.New("engage: invalid input")
)

// TerminalNotice is the single fixed reply for any inbound turn that
// arrives after the session is gone.
const TerminalNotice = "...the line is quiet now. whoever was writing to you isn't there anymore."

// Active is a live session with its selection-time context decoded.
type Active struct {
	Session Session
	Context map[string]any
}

// Result of one accepted inbound turn.
type Result struct {
	Reply           string
	Round           int
	SessionComplete bool
	OutboundTurnID  uint64
}

// Engine owns every session mutation: open, advance, repair. At most one
// non-complete session per user survives any Engine call.
type Engine struct {
	repo      *Repo
	provider  gen.Provider
	maxRounds int
	locks     *userLocks
	now       func() time.Time
}

func NewEngine(repo *Repo, provider gen.Provider, maxRounds int) *Engine {
	if maxRounds <= 0 {
		maxRounds = 3
	}
	return &Engine{
		repo:      repo,
		provider:  provider,
		maxRounds: maxRounds,
		locks:     newUserLocks(),
		now:       time.Now,
	}
}

func (e *Engine) MaxRounds() int { return e.maxRounds }

// OpenSession creates a fresh session for the user, flagging any lingering
// non-complete sessions complete first so the new one is the only active row.
func (e *Engine) OpenSession(ctx context.Context, userID, scopeID string, snapshot map[string]any) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidInput
	}

	lk := e.locks.get(userID)
	lk.Lock()
	defer lk.Unlock()

	prior, err := e.repo.ListSessionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("engage: list sessions: %w", err)
	}
	var stale []uint64
	for _, s := range prior {
		if !s.Complete {
			stale = append(stale, s.ID)
		}
	}
	if n, err := e.repo.SetSessionsComplete(ctx, stale); err != nil {
		return nil, fmt.Errorf("engage: close prior sessions: %w", err)
	} else if n > 0 {
		log.Printf("engage open user=%s closed_prior=%d", userID, n)
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		raw = []byte("{}")
	}

	sid, err := NewSessionID()
	if err != nil {
		return nil, err
	}

	session := &Session{
		SessionID:  sid,
		UserID:     userID,
		ScopeID:    scopeID,
		RoundCount: 0,
		Complete:   false,
		Context:    string(raw),
		LastTurnAt: e.now(),
	}
	if err := e.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("engage: create session: %w", err)
	}
	return session, nil
}

// GetActiveSession reconciles the user's rows and returns the single active
// session, or nil when there is none. Reconciliation is idempotent: extra
// non-complete rows collapse onto the newest, and a row whose round count
// reached the limit without the complete flag is repaired in place.
func (e *Engine) GetActiveSession(ctx context.Context, userID string) (*Active, error) {
	sessions, err := e.repo.ListSessionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("engage: list sessions: %w", err)
	}

	if len(sessions) > 1 {
		var extra []uint64
		for _, s := range sessions[1:] {
			if !s.Complete {
				extra = append(extra, s.ID)
			}
		}
		if len(extra) > 0 {
			n, err := e.repo.SetSessionsComplete(ctx, extra)
			if err != nil {
				return nil, fmt.Errorf("engage: collapse sessions: %w", err)
			}
			log.Printf("engage repair user=%s collapsed=%d", userID, n)
		}
	}

	latest, err := e.repo.LatestSessionByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("engage: load session: %w", err)
	}
	if latest == nil {
		return nil, nil
	}
	if latest.Complete {
		return nil, nil
	}
	if latest.RoundCount >= e.maxRounds {
		if _, err := e.repo.SetSessionsComplete(ctx, []uint64{latest.ID}); err != nil {
			return nil, fmt.Errorf("engage: repair session: %w", err)
		}
		log.Printf("engage repair user=%s session=%s round=%d forced complete", userID, latest.SessionID, latest.RoundCount)
		return nil, nil
	}

	return &Active{Session: *latest, Context: decodeContext(latest.Context)}, nil
}

// decodeContext never fails; a bad payload degrades to an empty context.
func decodeContext(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// Advance processes one inbound turn: validates the session, rebuilds the
// current-cycle window, generates the reply (falling back on provider
// failure), commits the round, then logs both turns. The round is durable
// before the caller ever sees the reply, so a crash after Advance returns
// can lose the reply but never replay the round.
func (e *Engine) Advance(ctx context.Context, userID, inbound string) (*Result, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(inbound) == "" {
		return nil, ErrInvalidInput
	}

	lk := e.locks.get(userID)
	lk.Lock()
	defer lk.Unlock()

	active, err := e.GetActiveSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		// distinguish an exhausted session from no session at all; both end
		// in the terminal notice but operators see different counts
		latest, lerr := e.repo.LatestSessionByUser(ctx, userID)
		if lerr == nil && latest != nil && latest.RoundCount >= e.maxRounds {
			return nil, ErrLimitExceeded
		}
		return nil, ErrNoActiveSession
	}

	nextRound := active.Session.RoundCount + 1
	if nextRound > e.maxRounds {
		return nil, ErrLimitExceeded
	}

	window, err := e.cycleWindow(ctx, userID, nextRound)
	if err != nil {
		return nil, err
	}

	req := gen.Request{
		Inbound: inbound,
		Round:   nextRound,
		Context: active.Context,
		Window:  window,
	}
	reply, err := e.provider.Generate(ctx, req)
	if err != nil {
		log.Printf("engage generate user=%s round=%d fallback: %v", userID, nextRound, err)
		reply = gen.Fallback(req)
	}

	complete := nextRound >= e.maxRounds
	if err := e.repo.UpdateSessionProgress(ctx, active.Session.ID, nextRound, complete, e.now()); err != nil {
		return nil, fmt.Errorf("engage: commit round: %w", err)
	}

	result := &Result{
		Reply:           reply,
		Round:           nextRound,
		SessionComplete: complete,
	}

	// Turn rows are observability; losing them never fails the round.
	in := &Turn{UserID: userID, Content: inbound, FromUser: true, Round: nextRound}
	if err := e.repo.AppendTurn(ctx, in); err != nil {
		log.Printf("engage turn log user=%s round=%d inbound: %v", userID, nextRound, err)
	}
	out := &Turn{UserID: userID, Content: reply, FromUser: false, Round: nextRound}
	if err := e.repo.AppendTurn(ctx, out); err != nil {
		log.Printf("engage turn log user=%s round=%d outbound: %v", userID, nextRound, err)
	} else {
		result.OutboundTurnID = out.ID
	}

	return result, nil
}

// cycleWindow loads the last 2*(nextRound-1) turns, oldest first. Each
// completed round contributed one inbound and one outbound row, so the fixed
// size can never reach back into an earlier session's history.
func (e *Engine) cycleWindow(ctx context.Context, userID string, nextRound int) ([]gen.Message, error) {
	n := (nextRound - 1) * 2
	if n <= 0 {
		return nil, nil
	}
	desc, err := e.repo.ListRecentTurnsDesc(ctx, userID, n)
	if err != nil {
		return nil, fmt.Errorf("engage: load window: %w", err)
	}
	window := make([]gen.Message, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		t := desc[i]
		role := "assistant"
		if t.FromUser {
			role = "user"
		}
		window = append(window, gen.Message{Role: role, Content: t.Content})
	}
	return window, nil
}
