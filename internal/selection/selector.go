package selection

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nightcall-labs/nightcall/internal/delivery"
	"github.com/nightcall-labs/nightcall/internal/engage"
	"github.com/nightcall-labs/nightcall/internal/gen"
	"github.com/nightcall-labs/nightcall/internal/roster"
)

// RosterSource is what the selector needs from the member store.
type RosterSource interface {
	Snapshot(ctx context.Context, scopeID string) ([]roster.Member, error)
	Get(ctx context.Context, memberID string) (*roster.Member, error)
}

type Policy struct {
	ScopeID      string
	RequiredTag  string
	CooldownDays int
	NightStart   int
	NightEnd     int
}

// Selector runs one selection attempt: gate, pick, open session, send the
// opening contact. Different runs target different users, so concurrent
// runs only contend inside the engine's per-user locks.
type Selector struct {
	engine   *engage.Engine
	repo     *engage.Repo
	roster   RosterSource
	provider gen.Provider
	deliver  delivery.Deliverer
	policy   Policy
	now      func() time.Time
}

func NewSelector(engine *engage.Engine, repo *engage.Repo, rs RosterSource, provider gen.Provider, d delivery.Deliverer, policy Policy) *Selector {
	if policy.CooldownDays <= 0 {
		policy.CooldownDays = 7
	}
	return &Selector{
		engine:   engine,
		repo:     repo,
		roster:   rs,
		provider: provider,
		deliver:  d,
		policy:   policy,
		now:      time.Now,
	}
}

// CanSelect checks the cooldown against the scope's most recent session.
func (s *Selector) CanSelect(ctx context.Context) (bool, error) {
	last, err := s.repo.LatestSessionByScope(ctx, s.policy.ScopeID)
	if err != nil {
		return false, fmt.Errorf("selection: load latest session: %w", err)
	}
	if last == nil {
		return true, nil
	}
	return CooldownElapsed(last.CreatedAt, s.policy.CooldownDays, s.now()), nil
}

// Run performs one gated selection pass. Returning (nil, nil) means the
// gates closed it or no candidate was available; both are routine.
func (s *Selector) Run(ctx context.Context) (*engage.Session, error) {
	now := s.now()
	if !ActiveWindow(now, s.policy.NightStart, s.policy.NightEnd) {
		return nil, nil
	}

	ok, err := s.CanSelect(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	members, err := s.roster.Snapshot(ctx, s.policy.ScopeID)
	if err != nil {
		return nil, fmt.Errorf("selection: snapshot roster: %w", err)
	}

	cand := roster.SelectCandidate(members, s.policy.RequiredTag)
	if cand == nil {
		log.Printf("selection scope=%s no eligible candidate", s.policy.ScopeID)
		return nil, nil
	}

	// membership may have changed since the snapshot
	fresh, err := s.roster.Get(ctx, cand.MemberID)
	if err != nil {
		return nil, fmt.Errorf("selection: reload candidate: %w", err)
	}
	if !fresh.HasTag(s.policy.RequiredTag) {
		log.Printf("selection scope=%s candidate=%s lost tag, skipping", s.policy.ScopeID, cand.MemberID)
		return nil, nil
	}

	snapshot := map[string]any{
		"member_id":    cand.MemberID,
		"display_name": cand.DisplayName,
		"tags":         cand.TagList(),
		"status":       string(cand.Status),
		"picked_at":    now.UTC().Format(time.RFC3339),
	}

	session, err := s.engine.OpenSession(ctx, cand.MemberID, s.policy.ScopeID, snapshot)
	if err != nil {
		return nil, err
	}

	req := gen.Request{Round: 0, Context: snapshot}
	opening, err := s.provider.Generate(ctx, req)
	if err != nil {
		log.Printf("selection generate user=%s fallback: %v", cand.MemberID, err)
		opening = gen.Fallback(req)
	}

	if err := s.deliver.Send(ctx, cand.MemberID, opening); err != nil {
		// session stays open; the user can still reply if a later nudge lands
		log.Printf("selection deliver user=%s: %v", cand.MemberID, err)
	}

	log.Printf("selection scope=%s user=%s session=%s opened", s.policy.ScopeID, cand.MemberID, session.SessionID)
	return session, nil
}
