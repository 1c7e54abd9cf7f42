package eventhandler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdefence/academy-hub/internal/application/command"
	"github.com/smartdefence/academy-hub/internal/application/eventhandler"
	"github.com/smartdefence/academy-hub/internal/domain/attendance"
	"github.com/smartdefence/academy-hub/internal/domain/progress"
	"github.com/smartdefence/academy-hub/internal/domain/schedule"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// ══════════════════════════════════════════════════════════════════════════════
// ON XP AWARDED
// ══════════════════════════════════════════════════════════════════════════════

type recordingBoard struct {
	scores map[string]int
	err    error
}

func (b *recordingBoard) SetScore(_ context.Context, studentID string, totalXP int) error {
	if b.err != nil {
		return b.err
	}
	b.scores[studentID] = totalXP
	return nil
}

type recordingInvalidator struct {
	ids []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, studentID string) error {
	r.ids = append(r.ids, studentID)
	return nil
}

func TestOnXPAwarded_UpdatesBoardAndCache(t *testing.T) {
	board := &recordingBoard{scores: map[string]int{}}
	cache := &recordingInvalidator{}
	h := eventhandler.NewOnXPAwardedHandler(board, cache, discard)

	require.NoError(t, h.Handle(shared.NewXPAwardedEvent("ana", 15, 340, "CHECK_IN")))
	assert.Equal(t, 340, board.scores["ana"])
	assert.Equal(t, []string{"ana"}, cache.ids)
}

func TestOnXPAwarded_IgnoresOtherEvents(t *testing.T) {
	board := &recordingBoard{scores: map[string]int{}}
	cache := &recordingInvalidator{}
	h := eventhandler.NewOnXPAwardedHandler(board, cache, discard)

	require.NoError(t, h.Handle(shared.NewLevelUpEvent("ana", 2, 3, 400)))
	assert.Empty(t, board.scores)
	assert.Empty(t, cache.ids)
}

func TestOnXPAwarded_BoardFailureIsReturned(t *testing.T) {
	cache := &recordingInvalidator{}
	h := eventhandler.NewOnXPAwardedHandler(&recordingBoard{err: errors.New("redis down")}, cache, discard)

	err := h.Handle(shared.NewXPAwardedEvent("ana", 15, 340, "CHECK_IN"))
	assert.EqualError(t, err, "redis down")
	assert.Equal(t, []string{"ana"}, cache.ids, "cache is invalidated before the board update")
}

func TestOnXPAwarded_NilDependencies(t *testing.T) {
	h := eventhandler.NewOnXPAwardedHandler(nil, nil, nil)
	assert.NoError(t, h.Handle(shared.NewXPAwardedEvent("ana", 15, 340, "CHECK_IN")))
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS FAN-OUT
// ══════════════════════════════════════════════════════════════════════════════

type memoryProgress struct {
	progress.Repository
	applied    map[string]bool
	techniques map[string]*progress.TechniqueProgress
	course     *progress.CourseProgress
	inputs     []progress.PracticeInput
}

func newMemoryProgress() *memoryProgress {
	return &memoryProgress{
		applied:    map[string]bool{},
		techniques: map[string]*progress.TechniqueProgress{},
	}
}

func (m *memoryProgress) ApplyPractice(_ context.Context, in progress.PracticeInput) (*progress.PracticeResult, error) {
	m.inputs = append(m.inputs, in)
	if m.applied[in.CheckInID] {
		return &progress.PracticeResult{Applied: false}, nil
	}
	m.applied[in.CheckInID] = true

	res := &progress.PracticeResult{Applied: true}
	for _, id := range in.TechniqueIDs {
		tp, ok := m.techniques[id]
		if !ok {
			tp = &progress.TechniqueProgress{StudentID: in.StudentID, TechniqueID: id}
			m.techniques[id] = tp
		}
		tp.RecordPractice(in.At)
		res.Techniques = append(res.Techniques, tp)
	}
	if in.CourseID != "" {
		if m.course == nil {
			m.course = &progress.CourseProgress{StudentID: in.StudentID, CourseID: in.CourseID}
		}
		m.course.RecordAttendance(in.Day)
		res.Course = m.course
	}
	return res, nil
}

func (m *memoryProgress) CountMastered(context.Context, string) (int, error) {
	return 0, nil
}

func (m *memoryProgress) ListTechniques(context.Context, string) ([]*progress.TechniqueProgress, error) {
	out := make([]*progress.TechniqueProgress, 0, len(m.techniques))
	for _, tp := range m.techniques {
		out = append(out, tp)
	}
	return out, nil
}

func (m *memoryProgress) GetCourseProgress(_ context.Context, studentID, courseID string) (*progress.CourseProgress, error) {
	if m.course == nil {
		return &progress.CourseProgress{StudentID: studentID, CourseID: courseID}, nil
	}
	return m.course, nil
}

type fakeCurriculum struct {
	progress.Curriculum
}

func (fakeCurriculum) CourseForClassGroup(context.Context, string) (string, error) {
	return "faixa-branca", nil
}

func (fakeCurriculum) Course(_ context.Context, id string) (*progress.Course, error) {
	return &progress.Course{ID: id, Name: "Faixa Branca", RequiredLessons: 4}, nil
}

func (fakeCurriculum) TechniquesForLessonPlan(context.Context, string) ([]progress.Technique, error) {
	return []progress.Technique{{ID: "armlock"}, {ID: "kimura"}}, nil
}

func (fakeCurriculum) RequiredTechniques(context.Context, string) ([]progress.RequiredTechnique, error) {
	return []progress.RequiredTechnique{{TechniqueID: "armlock", Name: "Armlock", MinRepetitions: 2}}, nil
}

type recordingGame struct {
	cmds []command.ApplyGamificationCommand
	err  error
}

func (g *recordingGame) Handle(_ context.Context, cmd command.ApplyGamificationCommand) (*command.GamificationSummary, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.cmds = append(g.cmds, cmd)
	return &command.GamificationSummary{StudentID: cmd.StudentID, Applied: true, XPGained: 10, TotalXP: 10, Level: 1}, nil
}

func fanoutInput(checkInID string) command.FanoutInput {
	at := time.Date(2025, time.March, 10, 18, 55, 0, 0, time.UTC)
	return command.FanoutInput{
		CheckIn: &attendance.CheckIn{
			ID: checkInID, StudentID: "ana", LessonID: "l1", ClassGroupID: "g1",
			CheckedInAt: at, Method: attendance.MethodManual, Presence: attendance.PresencePresent,
		},
		Lesson: &schedule.Lesson{
			ID: "l1", ClassGroupID: "g1", Sequence: 1, LessonPlanID: "plan-1",
			StartsAt: at.Add(5 * time.Minute), Duration: time.Hour, Status: schedule.StatusScheduled,
		},
		CorrelationID: "req-1",
	}
}

func TestProgressFanout_AppliesAllStages(t *testing.T) {
	repo := newMemoryProgress()
	game := &recordingGame{}
	f := eventhandler.NewProgressFanout(repo, fakeCurriculum{}, game, discard)

	summary, err := f.Handle(context.Background(), fanoutInput("c1"))
	require.NoError(t, err)

	assert.True(t, summary.ProgressApplied)
	assert.Len(t, summary.Techniques, 2)
	require.NotNil(t, summary.Course)
	assert.Equal(t, 1, summary.Course.AttendedLessons)

	require.NotNil(t, summary.Graduation)
	assert.InDelta(t, 25.0, summary.Graduation.Percentage, 0.01)
	assert.False(t, summary.Graduation.Eligible)
	require.Len(t, summary.Graduation.Missing, 1)
	assert.Equal(t, 1, summary.Graduation.Missing[0].Done)

	require.Len(t, game.cmds, 1)
	assert.Equal(t, "c1", game.cmds[0].CheckInID)
	assert.Equal(t, 2, game.cmds[0].Techniques)
	assert.Equal(t, "req-1", game.cmds[0].CorrelationID)
	require.NotNil(t, summary.Gamification)
	assert.Equal(t, 10, summary.Gamification.XPGained)

	require.Len(t, repo.inputs, 1)
	assert.Equal(t, "faixa-branca", repo.inputs[0].CourseID)
	assert.ElementsMatch(t, []string{"armlock", "kimura"}, repo.inputs[0].TechniqueIDs)
}

func TestProgressFanout_ReplayDoesNotDoubleCount(t *testing.T) {
	repo := newMemoryProgress()
	game := &recordingGame{}
	f := eventhandler.NewProgressFanout(repo, fakeCurriculum{}, game, discard)
	ctx := context.Background()

	_, err := f.Handle(ctx, fanoutInput("c1"))
	require.NoError(t, err)
	again, err := f.Handle(ctx, fanoutInput("c1"))
	require.NoError(t, err)

	assert.False(t, again.ProgressApplied)
	assert.Equal(t, 1, repo.techniques["armlock"].PracticeCount)
	assert.Equal(t, 1, repo.course.AttendedLessons)
	// Gamification dedupes on its own ledger, so it is always invoked.
	assert.Len(t, game.cmds, 2)
}

func TestProgressFanout_WithoutCurriculum(t *testing.T) {
	repo := newMemoryProgress()
	f := eventhandler.NewProgressFanout(repo, nil, &recordingGame{}, discard)

	summary, err := f.Handle(context.Background(), fanoutInput("c1"))
	require.NoError(t, err)
	assert.True(t, summary.ProgressApplied)
	assert.Empty(t, summary.Techniques)
	assert.Nil(t, summary.Course)
	assert.Nil(t, summary.Graduation)
	assert.Empty(t, repo.inputs[0].CourseID)
}

func TestProgressFanout_GamificationErrorSurfaces(t *testing.T) {
	repo := newMemoryProgress()
	f := eventhandler.NewProgressFanout(repo, fakeCurriculum{}, &recordingGame{err: shared.ErrLedgerMismatch}, discard)

	_, err := f.Handle(context.Background(), fanoutInput("c1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrLedgerMismatch)
	assert.True(t, repo.applied["c1"], "progress stays applied")
}

func TestProgressFanout_RequiresCheckInAndLesson(t *testing.T) {
	f := eventhandler.NewProgressFanout(newMemoryProgress(), nil, nil, discard)
	_, err := f.Handle(context.Background(), command.FanoutInput{})
	assert.True(t, shared.IsValidation(err))
}
