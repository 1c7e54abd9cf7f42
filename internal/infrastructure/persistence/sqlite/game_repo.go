package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/smartdefence/academy-hub/internal/domain/gamification"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// GameRepository implements gamification.Store.
type GameRepository struct {
	db *sql.DB
}

var _ gamification.Store = (*GameRepository)(nil)

// WithStudentLock runs fn in a transaction. The store has a single
// connection, so the transaction holds every student's state exclusively.
func (r *GameRepository) WithStudentLock(ctx context.Context, studentID string, fn func(ctx context.Context, tx gamification.Tx) error) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(ctx, &gameTx{q: tx, studentID: studentID})
	})
}

// Get returns ErrGameStateNotFound when the student has no state.
func (r *GameRepository) Get(ctx context.Context, studentID string) (*gamification.GameState, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+gameStateColumns+` FROM game_states WHERE student_id = ?`, studentID)
	state, err := scanGameState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrGameStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game state: %w", err)
	}
	return state, nil
}

// ListAchievements returns unlocks in unlock order.
func (r *GameRepository) ListAchievements(ctx context.Context, studentID string) ([]gamification.UnlockedAchievement, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id, code, unlocked_at FROM achievement_unlocks
		WHERE student_id = ? ORDER BY unlocked_at, code`, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}
	defer rows.Close()

	var out []gamification.UnlockedAchievement
	for rows.Next() {
		var (
			a    gamification.UnlockedAchievement
			code string
			at   int64
		)
		if err := rows.Scan(&a.StudentID, &code, &at); err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		a.Code = gamification.AchievementCode(code)
		a.UnlockedAt = fromMillis(at)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Ledger returns the student's points ledger.
func (r *GameRepository) Ledger(ctx context.Context, studentID string) ([]gamification.PointsTransaction, error) {
	return ledger(ctx, r.db, studentID)
}

// TopByXP returns states ordered by XP; ties break on student id.
func (r *GameRepository) TopByXP(ctx context.Context, limit int) ([]*gamification.GameState, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+gameStateColumns+` FROM game_states
		ORDER BY total_xp DESC, student_id LIMIT ?`, limit)
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
	rows, err := r.db.QueryContext(ctx, `
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
		)
		ORDER BY student_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find inconsistent students: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan student id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION
// ══════════════════════════════════════════════════════════════════════════════

type gameTx struct {
	q         querier
	studentID string
}

func (t *gameTx) Load(ctx context.Context) (*gamification.GameState, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+gameStateColumns+` FROM game_states WHERE student_id = ?`, t.studentID)
	state, err := scanGameState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return gamification.NewGameState(t.studentID), nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (t *gameTx) Unlocked(ctx context.Context) (map[gamification.AchievementCode]bool, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT code FROM achievement_unlocks WHERE student_id = ?`, t.studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[gamification.AchievementCode]bool)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out[gamification.AchievementCode(code)] = true
	}
	return out, rows.Err()
}

func (t *gameTx) Ledger(ctx context.Context) ([]gamification.PointsTransaction, error) {
	return ledger(ctx, t.q, t.studentID)
}

func (t *gameTx) HasCheckInEntry(ctx context.Context, checkInID string) (bool, error) {
	var exists bool
	err := t.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM points_transactions WHERE check_in_id = ?)`, checkInID).Scan(&exists)
	return exists, err
}

func (t *gameTx) Append(ctx context.Context, e *gamification.PointsTransaction) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO points_transactions
			(id, student_id, amount, reason, check_in_id, achievement_code, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, t.studentID, e.Amount, string(e.Reason), nullString(e.CheckInID),
		nullString(string(e.AchievementCode)), e.Description, toMillis(e.CreatedAt))
	if isUniqueViolation(err) {
		return shared.WrapError("gamification", "Append", shared.ErrAlreadyProcessed,
			"check-in already has a ledger entry", nil)
	}
	return err
}

func (t *gameTx) Unlock(ctx context.Context, code gamification.AchievementCode, at time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO achievement_unlocks (student_id, code, unlocked_at) VALUES (?, ?, ?)`,
		t.studentID, string(code), toMillis(at))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (t *gameTx) Save(ctx context.Context, s *gamification.GameState) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO game_states (`+gameStateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (student_id) DO UPDATE SET
			total_xp = excluded.total_xp,
			level = excluded.level,
			current_streak = excluded.current_streak,
			longest_streak = excluded.longest_streak,
			last_streak_date = excluded.last_streak_date,
			check_ins = excluded.check_ins,
			updated_at = excluded.updated_at`,
		t.studentID, s.TotalXP, s.Level, s.Streak.Current, s.Streak.Longest,
		dateValue(s.Streak.LastDate), s.CheckIns, toMillis(s.UpdatedAt))
	return err
}

// ─────────────────────────────────────────────────────────────────────────────

const gameStateColumns = `student_id, total_xp, level, current_streak, longest_streak,
	last_streak_date, check_ins, updated_at`

func scanGameState(row rowScanner) (*gamification.GameState, error) {
	var (
		s       gamification.GameState
		last    sql.NullString
		updated int64
		err     error
	)
	if err = row.Scan(&s.StudentID, &s.TotalXP, &s.Level, &s.Streak.Current, &s.Streak.Longest,
		&last, &s.CheckIns, &updated); err != nil {
		return nil, err
	}
	if s.Streak.LastDate, err = scanDate(last); err != nil {
		return nil, err
	}
	s.UpdatedAt = fromMillis(updated)
	return &s, nil
}

func ledger(ctx context.Context, q querier, studentID string) ([]gamification.PointsTransaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, student_id, amount, reason, check_in_id, achievement_code, description, created_at
		FROM points_transactions WHERE student_id = ? ORDER BY created_at, id`, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	defer rows.Close()

	var out []gamification.PointsTransaction
	for rows.Next() {
		var (
			e                    gamification.PointsTransaction
			reason               string
			checkInID, achieveID sql.NullString
			created              int64
		)
		if err := rows.Scan(&e.ID, &e.StudentID, &e.Amount, &reason, &checkInID, &achieveID,
			&e.Description, &created); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Reason = gamification.Reason(reason)
		e.CheckInID = checkInID.String
		e.AchievementCode = gamification.AchievementCode(achieveID.String)
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
