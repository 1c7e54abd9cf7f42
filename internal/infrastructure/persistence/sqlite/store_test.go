package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdefence/academy-hub/internal/domain/attendance"
	"github.com/smartdefence/academy-hub/internal/domain/gamification"
	"github.com/smartdefence/academy-hub/internal/domain/progress"
	"github.com/smartdefence/academy-hub/internal/domain/schedule"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

var testZone = time.FixedZone("BRT", -3*60*60)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "academy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedGroup(t *testing.T, store *Store) *schedule.ClassGroup {
	t.Helper()
	ctx := context.Background()
	g := &schedule.ClassGroup{
		ID:     "group-1",
		Name:   "Jiu-Jitsu Adulto",
		Active: true,
		Schedule: schedule.RecurringSchedule{
			Weekdays:      schedule.NewWeekdaySet(time.Monday, time.Wednesday),
			StartTime:     schedule.MustParseTimeOfDay("19:00"),
			Duration:      time.Hour,
			EffectiveFrom: shared.NewDate(2025, time.March, 3),
		},
	}
	require.NoError(t, store.ClassGroups().Save(ctx, g))
	require.NoError(t, store.Directory().CreateStudent(ctx, "student-1", "Ana", true))
	require.NoError(t, store.Directory().Enroll(ctx, "student-1", g.ID, true))
	return g
}

func lessonOn(id string, seq int, d shared.Date) *schedule.Lesson {
	return &schedule.Lesson{
		ID:           id,
		ClassGroupID: "group-1",
		Sequence:     seq,
		Title:        "Aula",
		ScheduledOn:  d,
		StartsAt:     d.In(testZone, 19, 0),
		Duration:     time.Hour,
		Status:       schedule.StatusScheduled,
		CreatedAt:    time.Now(),
	}
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "academy.db")
	ctx := context.Background()

	first, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(ctx, path)
	require.NoError(t, err)
	defer second.Close()
	assert.NoError(t, second.Ping(ctx))
}

func TestClassGroupRepository_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	g := seedGroup(t, store)

	got, err := store.ClassGroups().GetByID(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.Name, got.Name)
	assert.Equal(t, g.Schedule.Weekdays, got.Schedule.Weekdays)
	assert.Equal(t, "19:00", got.Schedule.StartTime.String())
	assert.Equal(t, time.Hour, got.Schedule.Duration)
	assert.True(t, got.Schedule.IsOpenEnded())

	_, err = store.ClassGroups().GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, shared.ErrClassGroupNotFound)
}

func TestLessonRepository_Constraints(t *testing.T) {
	store := openTestStore(t)
	seedGroup(t, store)
	ctx := context.Background()
	lessons := store.Lessons()

	day := shared.NewDate(2025, time.March, 3)
	require.NoError(t, lessons.Insert(ctx, lessonOn("l1", 1, day)))

	err := lessons.Insert(ctx, lessonOn("l2", 1, day.AddDays(2)))
	assert.ErrorIs(t, err, shared.ErrLessonConflict, "duplicate sequence")

	err = lessons.Insert(ctx, lessonOn("l3", 2, day))
	assert.ErrorIs(t, err, shared.ErrLessonConflict, "duplicate date")

	maxSeq, err := lessons.MaxSequence(ctx, "group-1")
	require.NoError(t, err)
	assert.Equal(t, 1, maxSeq)

	found, err := lessons.FindByDate(ctx, "group-1", day)
	require.NoError(t, err)
	assert.Equal(t, "l1", found.ID)
	assert.True(t, found.StartsAt.Equal(day.In(testZone, 19, 0)))

	_, err = lessons.FindByDate(ctx, "group-1", day.AddDays(1))
	assert.ErrorIs(t, err, shared.ErrLessonNotFound)
}

func TestLessonRepository_DeleteUnprotected(t *testing.T) {
	store := openTestStore(t)
	seedGroup(t, store)
	ctx := context.Background()

	day := shared.NewDate(2025, time.March, 3)
	require.NoError(t, store.Lessons().Insert(ctx, lessonOn("l1", 1, day)))
	require.NoError(t, store.Lessons().Insert(ctx, lessonOn("l2", 2, day.AddDays(2))))
	require.NoError(t, store.CheckIns().Create(ctx, &attendance.CheckIn{
		ID: "c1", StudentID: "student-1", LessonID: "l1", ClassGroupID: "group-1",
		CheckedInAt: day.In(testZone, 18, 50), Method: attendance.MethodManual,
		Presence: attendance.PresencePresent, CreatedAt: time.Now(),
	}))

	protected, err := store.Lessons().IsProtected(ctx, "l1")
	require.NoError(t, err)
	assert.True(t, protected)

	deleted, err := store.Lessons().DeleteUnprotected(ctx, "l1")
	require.NoError(t, err)
	assert.False(t, deleted, "a lesson with a check-in is never deleted")

	deleted, err = store.Lessons().DeleteUnprotected(ctx, "l2")
	require.NoError(t, err)
	assert.True(t, deleted)

	tracked, err := store.Lessons().ListByClassGroup(ctx, "group-1")
	require.NoError(t, err)
	require.Len(t, tracked, 1)
	assert.Equal(t, "l1", tracked[0].ID)
	assert.True(t, tracked[0].Protected)

	// An administrative removal of the check-in re-exposes the lesson.
	_, err = store.DB().ExecContext(ctx, `DELETE FROM check_ins WHERE id = ?`, "c1")
	require.NoError(t, err)
	deleted, err = store.Lessons().DeleteUnprotected(ctx, "l1")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestCheckInRepository_DuplicateIsRejected(t *testing.T) {
	store := openTestStore(t)
	seedGroup(t, store)
	ctx := context.Background()
	day := shared.NewDate(2025, time.March, 3)
	require.NoError(t, store.Lessons().Insert(ctx, lessonOn("l1", 1, day)))

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		dupes     int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.CheckIns().Create(ctx, &attendance.CheckIn{
				ID: "c" + string(rune('a'+i)), StudentID: "student-1", LessonID: "l1", ClassGroupID: "group-1",
				CheckedInAt: day.In(testZone, 18, 55), Method: attendance.MethodApp,
				Presence: attendance.PresencePresent, CreatedAt: time.Now(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case shared.ErrorCode(err) == "DUPLICATE_CHECKIN":
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, dupes)

	got, err := store.CheckIns().ListByLesson(ctx, "l1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCheckInRepository_History(t *testing.T) {
	store := openTestStore(t)
	seedGroup(t, store)
	ctx := context.Background()

	day := shared.NewDate(2025, time.March, 3)
	for i := 0; i < 4; i++ {
		d := day.AddDays(7 * i)
		require.NoError(t, store.Lessons().Insert(ctx, lessonOn("l"+string(rune('1'+i)), i+1, d)))
	}
	require.NoError(t, store.CheckIns().Create(ctx, &attendance.CheckIn{
		ID: "c1", StudentID: "student-1", LessonID: "l2", ClassGroupID: "group-1",
		CheckedInAt: day.AddDays(7).In(testZone, 18, 45), Method: attendance.MethodManual,
		Presence: attendance.PresencePresent, CreatedAt: time.Now(),
	}))

	until := day.AddDays(15).In(testZone, 0, 0)
	history, err := store.CheckIns().History(ctx, "student-1", until, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "l3", history[0].LessonID)
	assert.False(t, history[0].Attended)
	assert.Equal(t, "l2", history[1].LessonID)
	assert.True(t, history[1].Attended)
}

func TestProgressRepository_ApplyPracticeOnce(t *testing.T) {
	store := openTestStore(t)
	seedGroup(t, store)
	ctx := context.Background()
	day := shared.NewDate(2025, time.March, 3)
	require.NoError(t, store.Lessons().Insert(ctx, lessonOn("l1", 1, day)))
	require.NoError(t, store.CheckIns().Create(ctx, &attendance.CheckIn{
		ID: "c1", StudentID: "student-1", LessonID: "l1", ClassGroupID: "group-1",
		CheckedInAt: day.In(testZone, 18, 50), Method: attendance.MethodManual,
		Presence: attendance.PresencePresent, CreatedAt: time.Now(),
	}))

	unapplied, err := store.Progress().UnappliedCheckIns(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, unapplied)

	in := progress.PracticeInput{
		CheckInID:    "c1",
		StudentID:    "student-1",
		CourseID:     "course-1",
		TechniqueIDs: []string{"armlock", "guard-pass", "armlock"},
		At:           day.In(testZone, 18, 50),
		Day:          day,
	}
	res, err := store.Progress().ApplyPractice(ctx, in)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Len(t, res.Techniques, 2)
	require.NotNil(t, res.Course)
	assert.Equal(t, 1, res.Course.AttendedLessons)

	again, err := store.Progress().ApplyPractice(ctx, in)
	require.NoError(t, err)
	assert.False(t, again.Applied)

	techniques, err := store.Progress().ListTechniques(ctx, "student-1")
	require.NoError(t, err)
	require.Len(t, techniques, 2)
	for _, tp := range techniques {
		assert.Equal(t, 1, tp.PracticeCount)
	}

	cp, err := store.Progress().GetCourseProgress(ctx, "student-1", "course-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.AttendedLessons)
	assert.Equal(t, day, cp.LastAttendedOn)

	unapplied, err = store.Progress().UnappliedCheckIns(ctx, "student-1", 0)
	require.NoError(t, err)
	assert.Empty(t, unapplied)
}

func TestGameRepository_LedgerAndConsistency(t *testing.T) {
	store := openTestStore(t)
	seedGroup(t, store)
	ctx := context.Background()
	day := shared.NewDate(2025, time.March, 3)
	require.NoError(t, store.Lessons().Insert(ctx, lessonOn("l1", 1, day)))
	require.NoError(t, store.CheckIns().Create(ctx, &attendance.CheckIn{
		ID: "c1", StudentID: "student-1", LessonID: "l1", ClassGroupID: "group-1",
		CheckedInAt: day.In(testZone, 18, 50), Method: attendance.MethodManual,
		Presence: attendance.PresencePresent, CreatedAt: time.Now(),
	}))

	ids, err := store.Game().InconsistentStudents(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"student-1"}, ids, "check-in without a ledger entry")

	at := day.In(testZone, 18, 50)
	err = store.Game().WithStudentLock(ctx, "student-1", func(ctx context.Context, tx gamification.Tx) error {
		state, err := tx.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, state.Level)

		require.NoError(t, tx.Append(ctx, &gamification.PointsTransaction{
			ID: "p1", Amount: 75, Reason: gamification.ReasonCheckIn, CheckInID: "c1", CreatedAt: at,
		}))
		unlocked, err := tx.Unlock(ctx, gamification.AchievementFirstClass, at)
		require.NoError(t, err)
		assert.True(t, unlocked)
		unlocked, err = tx.Unlock(ctx, gamification.AchievementFirstClass, at)
		require.NoError(t, err)
		assert.False(t, unlocked)

		has, err := tx.HasCheckInEntry(ctx, "c1")
		require.NoError(t, err)
		assert.True(t, has)

		state.TotalXP = 75
		state.CheckIns = 1
		state.Streak = gamification.Streak{Current: 1, Longest: 1, LastDate: day}
		state.UpdatedAt = at
		return tx.Save(ctx, state)
	})
	require.NoError(t, err)

	state, err := store.Game().Get(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, 75, state.TotalXP)
	assert.Equal(t, day, state.Streak.LastDate)

	ids, err = store.Game().InconsistentStudents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	// A second entry for the same check-in is rejected.
	err = store.Game().WithStudentLock(ctx, "student-1", func(ctx context.Context, tx gamification.Tx) error {
		return tx.Append(ctx, &gamification.PointsTransaction{
			ID: "p2", Amount: 75, Reason: gamification.ReasonRepair, CheckInID: "c1", CreatedAt: at,
		})
	})
	assert.ErrorIs(t, err, shared.ErrAlreadyProcessed)

	ledger, err := store.Game().Ledger(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, state.TotalXP, gamification.LedgerSum(ledger))

	top, err := store.Game().TopByXP(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "student-1", top[0].StudentID)

	_, err = store.Game().Get(ctx, "nobody")
	assert.ErrorIs(t, err, shared.ErrGameStateNotFound)
}

func TestDirectoryRepository_EligibilityAndCurriculum(t *testing.T) {
	store := openTestStore(t)
	g := seedGroup(t, store)
	ctx := context.Background()
	dir := store.Directory()

	ok, err := dir.IsEligible(ctx, "student-1", g.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, dir.CreateStudent(ctx, "student-2", "Bruno", false))
	require.NoError(t, dir.Enroll(ctx, "student-2", g.ID, true))
	ok, err = dir.IsEligible(ctx, "student-2", g.ID)
	require.NoError(t, err)
	assert.False(t, ok, "inactive student")

	require.NoError(t, dir.Enroll(ctx, "student-1", g.ID, false))
	ok, err = dir.IsEligible(ctx, "student-1", g.ID)
	require.NoError(t, err)
	assert.False(t, ok, "inactive enrollment")

	require.NoError(t, dir.SaveCourse(ctx, progress.Course{ID: "bjj-white", Name: "Faixa Branca", RequiredLessons: 40, TotalTechniques: 2}))
	require.NoError(t, dir.SaveTechnique(ctx, progress.Technique{ID: "armlock", Name: "Armlock", Category: "finalização"}))
	require.NoError(t, dir.SaveTechnique(ctx, progress.Technique{ID: "guard-pass", Name: "Passagem de guarda", Category: "passagem"}))
	require.NoError(t, dir.SaveLessonPlan(ctx, "plan-1", "bjj-white", 1, "Fundamentos", "guard-pass", "armlock"))
	require.NoError(t, dir.RequireTechnique(ctx, "bjj-white", "armlock", 20))

	g.CourseID = "bjj-white"
	require.NoError(t, store.ClassGroups().Save(ctx, g))

	courseID, err := dir.CourseForClassGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "bjj-white", courseID)

	planID, err := dir.LessonPlanForSequence(ctx, "bjj-white", 1)
	require.NoError(t, err)
	assert.Equal(t, "plan-1", planID)

	planID, err = dir.LessonPlanForSequence(ctx, "bjj-white", 2)
	require.NoError(t, err)
	assert.Empty(t, planID)

	techniques, err := dir.TechniquesForLessonPlan(ctx, "plan-1")
	require.NoError(t, err)
	require.Len(t, techniques, 2)
	assert.Equal(t, "guard-pass", techniques[0].ID)

	required, err := dir.RequiredTechniques(ctx, "bjj-white")
	require.NoError(t, err)
	require.Len(t, required, 1)
	assert.Equal(t, 20, required[0].MinRepetitions)

	_, err = dir.Course(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrCourseNotFound)
}
