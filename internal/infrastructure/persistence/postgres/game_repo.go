package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/smartdefence/academy-hub/internal/domain/gamification"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GAME STATE REPOSITORY
// A transaction-scoped advisory lock keyed by student id serialises every
// update of one student's state and ledger; it is released on commit or
// rollback.
// ══════════════════════════════════════════════════════════════════════════════

// GameRepository implements gamification.Store for PostgreSQL.
type GameRepository struct {
	conn *Connection
}

var _ gamification.Store = (*GameRepository)(nil)

// WithStudentLock runs fn in a transaction holding the student's lock.
func (r *GameRepository) WithStudentLock(ctx context.Context, studentID string, fn func(ctx context.Context, tx gamification.Tx) error) error {
	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "game:"+studentID); err != nil {
			return fmt.Errorf("failed to lock game state: %w", err)
		}
		return fn(ctx, &gameTx{q: tx, studentID: studentID})
	})
}

// Get returns ErrGameStateNotFound when the student has no state.
func (r *GameRepository) Get(ctx context.Context, studentID string) (*gamification.GameState, error) {
	state, err := scanGameState(r.conn.QueryRow(ctx,
		`SELECT `+gameStateColumns+` FROM game_states WHERE student_id = $1`, studentID))
	if IsNoRows(err) {
		return nil, shared.ErrGameStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game state: %w", err)
	}
	return state, nil
}

// ListAchievements returns unlocks in unlock order.
func (r *GameRepository) ListAchievements(ctx context.Context, studentID string) ([]gamification.UnlockedAchievement, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT student_id, code, unlocked_at FROM achievement_unlocks
		WHERE student_id = $1 ORDER BY unlocked_at, code`, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}
	defer rows.Close()

	var out []gamification.UnlockedAchievement
	for rows.Next() {
		var (
			a    gamification.UnlockedAchievement
			code string
		)
		if err := rows.Scan(&a.StudentID, &code, &a.UnlockedAt); err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		a.Code = gamification.AchievementCode(code)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Ledger returns the student's points ledger.
func (r *GameRepository) Ledger(ctx context.Context, studentID string) ([]gamification.PointsTransaction, error) {
	return ledger(ctx, r.conn, studentID)
}

// TopByXP returns states ordered by XP; ties break on student id.
func (r *GameRepository) TopByXP(ctx context.Context, limit int) ([]*gamification.GameState, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+gameStateColumns+` FROM game_states
		ORDER BY total_xp DESC, student_id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list top game states: %w", err)
	}
	defer rows.Close()

	var out []*gamification.GameState
	for rows.Next() {
		state, err := scanGameState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game state: %w", err)
		}
		out = append(out, state)
	}
	return out, rows.Err()
}

// InconsistentStudents finds students with a check-in missing from the
// ledger or with a ledger sum different from their total XP.
func (r *GameRepository) InconsistentStudents(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT student_id FROM (
			SELECT c.student_id FROM check_ins c
			LEFT JOIN points_transactions p ON p.check_in_id = c.id
			WHERE p.id IS NULL
			UNION
			SELECT g.student_id FROM game_states g
			LEFT JOIN (
				SELECT student_id, SUM(amount) AS total FROM points_transactions GROUP BY student_id
			) l ON l.student_id = g.student_id
			WHERE COALESCE(l.total, 0) <> g.total_xp
		) s
		ORDER BY student_id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find inconsistent students: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan student id: %w", err)
	}
	return ids, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION
// ══════════════════════════════════════════════════════════════════════════════

type gameTx struct {
	q         Querier
	studentID string
}

func (t *gameTx) Load(ctx context.Context) (*gamification.GameState, error) {
	state, err := scanGameState(t.q.QueryRow(ctx,
		`SELECT `+gameStateColumns+` FROM game_states WHERE student_id = $1`, t.studentID))
	if IsNoRows(err) {
		return gamification.NewGameState(t.studentID), nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (t *gameTx) Unlocked(ctx context.Context) (map[gamification.AchievementCode]bool, error) {
	rows, err := t.q.Query(ctx, `SELECT code FROM achievement_unlocks WHERE student_id = $1`, t.studentID)
	if err != nil {
		return nil, err
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	out := make(map[gamification.AchievementCode]bool, len(codes))
	for _, code := range codes {
		out[gamification.AchievementCode(code)] = true
	}
	return out, nil
}

func (t *gameTx) Ledger(ctx context.Context) ([]gamification.PointsTransaction, error) {
	return ledger(ctx, t.q, t.studentID)
}

func (t *gameTx) HasCheckInEntry(ctx context.Context, checkInID string) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM points_transactions WHERE check_in_id = $1)`, checkInID).Scan(&exists)
	return exists, err
}

func (t *gameTx) Append(ctx context.Context, e *gamification.PointsTransaction) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO points_transactions
			(id, student_id, amount, reason, check_in_id, achievement_code, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, t.studentID, e.Amount, string(e.Reason), textArg(e.CheckInID),
		textArg(string(e.AchievementCode)), e.Description, e.CreatedAt.UTC())
	if IsUniqueViolation(err) {
		return shared.WrapError("gamification", "Append", shared.ErrAlreadyProcessed,
			"check-in already has a ledger entry", nil)
	}
	return err
}

func (t *gameTx) Unlock(ctx context.Context, code gamification.AchievementCode, at time.Time) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		INSERT INTO achievement_unlocks (student_id, code, unlocked_at) VALUES ($1, $2, $3)
		ON CONFLICT (student_id, code) DO NOTHING`,
		t.studentID, string(code), at.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *gameTx) Save(ctx context.Context, s *gamification.GameState) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO game_states (`+gameStateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (student_id) DO UPDATE SET
			total_xp = EXCLUDED.total_xp,
			level = EXCLUDED.level,
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			last_streak_date = EXCLUDED.last_streak_date,
			check_ins = EXCLUDED.check_ins,
			updated_at = EXCLUDED.updated_at`,
		t.studentID, s.TotalXP, s.Level, s.Streak.Current, s.Streak.Longest,
		dateArg(s.Streak.LastDate), s.CheckIns, s.UpdatedAt.UTC())
	return err
}

// ─────────────────────────────────────────────────────────────────────────────

const gameStateColumns = `student_id, total_xp, level, current_streak, longest_streak,
	last_streak_date, check_ins, updated_at`

func scanGameState(row pgx.Row) (*gamification.GameState, error) {
	var (
		s    gamification.GameState
		last *time.Time
	)
	if err := row.Scan(&s.StudentID, &s.TotalXP, &s.Level, &s.Streak.Current, &s.Streak.Longest,
		&last, &s.CheckIns, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Streak.LastDate = dateOf(last)
	return &s, nil
}

func ledger(ctx context.Context, q Querier, studentID string) ([]gamification.PointsTransaction, error) {
	rows, err := q.Query(ctx, `
		SELECT id, student_id, amount, reason, COALESCE(check_in_id, ''), COALESCE(achievement_code, ''),
			description, created_at
		FROM points_transactions WHERE student_id = $1 ORDER BY created_at, id`, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	defer rows.Close()

	var out []gamification.PointsTransaction
	for rows.Next() {
		var (
			e            gamification.PointsTransaction
			reason, code string
		)
		if err := rows.Scan(&e.ID, &e.StudentID, &e.Amount, &reason, &e.CheckInID, &code,
			&e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Reason = gamification.Reason(reason)
		e.AchievementCode = gamification.AchievementCode(code)
		out = append(out, e)
	}
	return out, rows.Err()
}
