package engage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) GetSessionBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessionsByUser returns all sessions for a user, newest first.
func (r *Repo) ListSessionsByUser(ctx context.Context, userID string) ([]Session, error) {
	var sessions []Session
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// LatestSessionByUser returns the newest session for a user, nil if none exist.
func (r *Repo) LatestSessionByUser(ctx context.Context, userID string) (*Session, error) {
	var s Session
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// LatestSessionByScope returns the newest session in a scope, nil if none
// exist. Drives the selection cooldown.
func (r *Repo) LatestSessionByScope(ctx context.Context, scopeID string) (*Session, error) {
	var s Session
	err := r.db.WithContext(ctx).
		Where("scope_id = ?", scopeID).
		Order("id DESC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SetSessionsComplete flags the given sessions complete. Already-complete
// rows are unaffected, so re-running is a no-op.
func (r *Repo) SetSessionsComplete(ctx context.Context, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("id IN ? AND complete = ?", ids, false).
		Update("complete", true)
	return res.RowsAffected, res.Error
}

func (r *Repo) UpdateSessionProgress(ctx context.Context, id uint64, roundCount int, complete bool, lastTurnAt time.Time) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"round_count":  roundCount,
			"complete":     complete,
			"last_turn_at": lastTurnAt,
		}).Error
}

// RepairCorrupted flags every session whose round count reached the limit
// but which was never marked complete. Returns rows fixed.
func (r *Repo) RepairCorrupted(ctx context.Context, maxRounds int) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("complete = ? AND round_count >= ?", false, maxRounds).
		Update("complete", true)
	return res.RowsAffected, res.Error
}

func (r *Repo) CountSessions(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Session{}).Count(&n).Error
	return n, err
}

func (r *Repo) CountActiveSessions(ctx context.Context, maxRounds int) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Session{}).
		Where("complete = ? AND round_count < ?", false, maxRounds).
		Count(&n).Error
	return n, err
}

func (r *Repo) CountCorruptedSessions(ctx context.Context, maxRounds int) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Session{}).
		Where("complete = ? AND round_count >= ?", false, maxRounds).
		Count(&n).Error
	return n, err
}

// DeleteUserData removes all sessions and turns for one user. Administrative
// reset only; nothing else deletes rows.
func (r *Repo) DeleteUserData(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&Session{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&Turn{}).Error
	})
}

func (r *Repo) AppendTurn(ctx context.Context, t *Turn) error {
	return r.db.WithContext(ctx).Create(t).Error
}

// ListRecentTurnsDesc returns the most recent turns in DESC id order
// (newest -> oldest).
func (r *Repo) ListRecentTurnsDesc(ctx context.Context, userID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	var turns []Turn
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&turns).Error; err != nil {
		return nil, err
	}
	return turns, nil
}

// ListTurns returns full history in DESC id order, for diagnostics.
func (r *Repo) ListTurns(ctx context.Context, userID string, limit int, beforeID uint64) ([]Turn, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var turns []Turn
	if err := q.Find(&turns).Error; err != nil {
		return nil, err
	}
	return turns, nil
}

// Job CRUD

func (r *Repo) GetJobByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, resultTurnID *uint64) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         JobSucceeded,
			"result_turn_id": resultTurnID,
			"error":          nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         JobFailed,
			"error":          errMsg,
			"result_turn_id": nil,
		}).Error
}

func (r *Repo) GetJobByUserAndIdempotencyKey(ctx context.Context, userID string, key string) (*Job, error) {
	var job Job
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJobOrGetExisting tries to create a job, but if (user_id, idempotency_key)
// already exists, it returns the existing job instead.
func (r *Repo) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	if job.IdempotencyKey == nil || *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
		if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.GetJobByUserAndIdempotencyKey(ctx, job.UserID, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}

	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}
