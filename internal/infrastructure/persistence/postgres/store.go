package postgres

import (
	"time"

	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// Store groups the repositories over one connection pool.
type Store struct {
	conn *Connection
}

// NewStore creates a store over conn.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

// Connection returns the pool wrapper.
func (s *Store) Connection() *Connection { return s.conn }

// ClassGroups returns the class group repository.
func (s *Store) ClassGroups() *ClassGroupRepository { return &ClassGroupRepository{conn: s.conn} }

// Lessons returns the lesson store.
func (s *Store) Lessons() *LessonRepository { return &LessonRepository{conn: s.conn} }

// CheckIns returns the check-in repository.
func (s *Store) CheckIns() *CheckInRepository { return &CheckInRepository{conn: s.conn} }

// Progress returns the progress repository.
func (s *Store) Progress() *ProgressRepository { return &ProgressRepository{conn: s.conn} }

// Game returns the gamification store.
func (s *Store) Game() *GameRepository { return &GameRepository{conn: s.conn} }

// Directory returns the enrollment and curriculum directory.
func (s *Store) Directory() *DirectoryRepository { return &DirectoryRepository{conn: s.conn} }

// ─────────────────────────────────────────────────────────────────────────────
// Value conversion
// ─────────────────────────────────────────────────────────────────────────────

// dateArg maps a Date to a DATE parameter; the zero Date becomes NULL.
func dateArg(d shared.Date) any {
	if d.IsZero() {
		return nil
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// dateOf reads a DATE column. pgx returns dates at UTC midnight.
func dateOf(t *time.Time) shared.Date {
	if t == nil || t.IsZero() {
		return shared.Date{}
	}
	return shared.DateOf(*t, time.UTC)
}

func textArg(s string) any {
	if s == "" {
		return nil
	}
	return s
}
