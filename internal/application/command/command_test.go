package command_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdefence/academy-hub/internal/application/command"
	"github.com/smartdefence/academy-hub/internal/application/eventhandler"
	"github.com/smartdefence/academy-hub/internal/domain/attendance"
	"github.com/smartdefence/academy-hub/internal/domain/gamification"
	"github.com/smartdefence/academy-hub/internal/domain/schedule"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
	"github.com/smartdefence/academy-hub/internal/infrastructure/persistence/sqlite"
	"github.com/smartdefence/academy-hub/pkg/timeutil"
)

var brt = time.FixedZone("BRT", -3*60*60)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURE
// ══════════════════════════════════════════════════════════════════════════════

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) count(t shared.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

type fixture struct {
	store  *sqlite.Store
	clock  *timeutil.FixedClock
	events *recorder
	logger *slog.Logger
	engine *gamification.Engine
	signer *attendance.QRSigner

	reconcile *command.ReconcileScheduleHandler
	gamify    *command.ApplyGamificationHandler
	fanout    *eventhandler.ProgressFanout
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "academy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	signer, err := attendance.NewQRSigner([]byte("tatame-secret"), 15*time.Minute)
	require.NoError(t, err)

	f := &fixture{
		store:  store,
		clock:  timeutil.NewFixedClock(time.Date(2025, time.March, 10, 12, 0, 0, 0, brt)),
		events: &recorder{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		engine: gamification.NewEngine(gamification.DefaultRules(), brt),
		signer: signer,
	}

	cfg := command.DefaultReconcileScheduleConfig()
	cfg.Location = brt
	f.reconcile = command.NewReconcileScheduleHandler(store.ClassGroups(), store.Lessons(), store.Directory(),
		nil, f.events, f.clock, f.logger, cfg)
	f.gamify = command.NewApplyGamificationHandler(store.Game(), f.engine, f.events, f.clock, f.logger)
	f.fanout = eventhandler.NewProgressFanout(store.Progress(), store.Directory(), f.gamify, f.logger)

	group := &schedule.ClassGroup{
		ID:     "adulto-noite",
		Name:   "Adulto Noite",
		Active: true,
		Schedule: schedule.RecurringSchedule{
			Weekdays:       schedule.NewWeekdaySet(time.Monday, time.Wednesday),
			StartTime:      schedule.MustParseTimeOfDay("19:00"),
			Duration:       time.Hour,
			EffectiveFrom:  shared.NewDate(2025, time.March, 3),
			EffectiveUntil: shared.NewDate(2025, time.March, 31),
		},
	}
	require.NoError(t, store.ClassGroups().Save(ctx, group))
	require.NoError(t, store.Directory().CreateStudent(ctx, "ana", "Ana", true))
	require.NoError(t, store.Directory().Enroll(ctx, "ana", group.ID, true))
	return f
}

func (f *fixture) checkInHandler(fanout command.Fanout) *command.CheckInHandler {
	return command.NewCheckInHandler(f.store.Lessons(), f.store.CheckIns(), f.store.Directory(), f.signer,
		fanout, f.events, f.clock, f.logger, command.DefaultCheckInHandlerConfig())
}

func (f *fixture) lessonOn(t *testing.T, d shared.Date) *schedule.Lesson {
	t.Helper()
	l, err := f.store.Lessons().FindByDate(context.Background(), "adulto-noite", d)
	require.NoError(t, err)
	return l
}

// lessonsByDate lists the group's lessons in calendar order.
func lessonsByDate(t *testing.T, f *fixture) []schedule.TrackedLesson {
	t.Helper()
	tracked, err := f.store.Lessons().ListByClassGroup(context.Background(), "adulto-noite")
	require.NoError(t, err)
	sort.Slice(tracked, func(i, j int) bool { return tracked[i].StartsAt.Before(tracked[j].StartsAt) })
	return tracked
}

func datesOf(t *testing.T, f *fixture) []shared.Date {
	t.Helper()
	tracked := lessonsByDate(t, f)
	out := make([]shared.Date, 0, len(tracked))
	for _, l := range tracked {
		out = append(out, l.ScheduledOn)
	}
	return out
}

func assertUniqueSequences(t *testing.T, f *fixture) {
	t.Helper()
	seen := map[int]bool{}
	for _, l := range lessonsByDate(t, f) {
		assert.False(t, seen[l.Sequence], "duplicate sequence %d", l.Sequence)
		seen[l.Sequence] = true
	}
}

func (f *fixture) checkIn(t *testing.T, id, lessonID string) {
	t.Helper()
	require.NoError(t, f.store.CheckIns().Create(context.Background(), &attendance.CheckIn{
		ID: id, StudentID: "ana", LessonID: lessonID, ClassGroupID: "adulto-noite",
		CheckedInAt: f.clock.Now(), Method: attendance.MethodManual,
		Presence: attendance.PresencePresent, CreatedAt: f.clock.Now(),
	}))
}

func tueThu() *schedule.RecurringSchedule {
	return &schedule.RecurringSchedule{
		Weekdays:       schedule.NewWeekdaySet(time.Tuesday, time.Thursday),
		StartTime:      schedule.MustParseTimeOfDay("19:00"),
		Duration:       time.Hour,
		EffectiveFrom:  march(3),
		EffectiveUntil: march(31),
	}
}

func march(day int) shared.Date { return shared.NewDate(2025, time.March, day) }

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE
// ══════════════════════════════════════════════════════════════════════════════

func TestReconcileSchedule_ScheduleChangeKeepsProtectedLessons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := command.ReconcileScheduleCommand{ClassGroupID: "adulto-noite"}

	first, err := f.reconcile.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, 7, first.Inserted, "Mar 10 onwards, past dates are not generated")
	assert.Equal(t, []shared.Date{march(10), march(12), march(17), march(19), march(24), march(26), march(31)}, datesOf(t, f))

	protected := f.lessonOn(t, march(12))
	f.checkIn(t, "ci-early", protected.ID)

	// The other future lessons are renumbered after the protected one once.
	renumbered, err := f.reconcile.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, 1, renumbered.Protected)
	assert.Equal(t, 6, renumbered.Deleted)
	assert.Equal(t, 6, renumbered.Inserted)

	steady, err := f.reconcile.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, steady.IsNoop())
	assert.Equal(t, 6, steady.Kept)

	changed, err := f.reconcile.Handle(ctx, command.ReconcileScheduleCommand{ClassGroupID: "adulto-noite", Schedule: tueThu()})
	require.NoError(t, err)
	assert.Equal(t, 6, changed.Deleted)
	assert.Equal(t, 6, changed.Inserted)
	assert.Equal(t, 1, changed.Protected)

	assert.Equal(t, []shared.Date{march(11), march(12), march(13), march(18), march(20), march(25), march(27)}, datesOf(t, f))

	kept := f.lessonOn(t, march(12))
	assert.Equal(t, protected.ID, kept.ID)
	assert.Equal(t, protected.Sequence, kept.Sequence)

	// Inserts continue after the protected number, in date order.
	last := protected.Sequence
	for _, l := range lessonsByDate(t, f) {
		if l.ID == protected.ID {
			continue
		}
		assert.Greater(t, l.Sequence, last, "lesson on %s", l.ScheduledOn)
		last = l.Sequence
	}
	assertUniqueSequences(t, f)

	final, err := f.reconcile.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, final.IsNoop())
	assert.Equal(t, 5, f.events.count(shared.EventScheduleReconciled), "one event per run")
}

func TestReconcileSchedule_AddedWeekdayKeepsSequenceInDateOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reconcile.Handle(ctx, command.ReconcileScheduleCommand{ClassGroupID: "adulto-noite"})
	require.NoError(t, err)

	monTueWed := schedule.RecurringSchedule{
		Weekdays:       schedule.NewWeekdaySet(time.Monday, time.Tuesday, time.Wednesday),
		StartTime:      schedule.MustParseTimeOfDay("19:00"),
		Duration:       time.Hour,
		EffectiveFrom:  march(3),
		EffectiveUntil: march(31),
	}
	res, err := f.reconcile.Handle(ctx, command.ReconcileScheduleCommand{ClassGroupID: "adulto-noite", Schedule: &monTueWed})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Inserted+res.Kept)

	lessons := lessonsByDate(t, f)
	require.Len(t, lessons, 10)
	for i := 1; i < len(lessons); i++ {
		assert.Greater(t, lessons[i].Sequence, lessons[i-1].Sequence,
			"%s numbered before %s", lessons[i].ScheduledOn, lessons[i-1].ScheduledOn)
	}
}

func TestReconcileSchedule_InactiveGroupClearsFutureLessons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reconcile.Handle(ctx, command.ReconcileScheduleCommand{ClassGroupID: "adulto-noite"})
	require.NoError(t, err)

	group, err := f.store.ClassGroups().GetByID(ctx, "adulto-noite")
	require.NoError(t, err)
	group.Active = false
	require.NoError(t, f.store.ClassGroups().Save(ctx, group))

	res, err := f.reconcile.Handle(ctx, command.ReconcileScheduleCommand{ClassGroupID: "adulto-noite"})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Deleted)
	assert.Empty(t, datesOf(t, f))
}

// busyLocker reports the lock as held for the first busyFor attempts.
type busyLocker struct {
	mu       sync.Mutex
	busyFor  int
	attempts int
	unlocked int
}

func (l *busyLocker) TryLock(context.Context, string, time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.attempts <= l.busyFor {
		return "", false, nil
	}
	return "token", true, nil
}

func (l *busyLocker) Unlock(context.Context, string, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocked++
	return nil
}

func (f *fixture) lockedReconciler(l command.Locker) *command.ReconcileScheduleHandler {
	return command.NewReconcileScheduleHandler(f.store.ClassGroups(), f.store.Lessons(), nil,
		l, nil, f.clock, f.logger, command.ReconcileScheduleConfig{Location: brt, LockAttempts: 3})
}

func TestReconcileSchedule_WaitsForLock(t *testing.T) {
	f := newFixture(t)
	locker := &busyLocker{busyFor: 2}

	res, err := f.lockedReconciler(locker).Handle(context.Background(), command.ReconcileScheduleCommand{ClassGroupID: "adulto-noite"})
	require.NoError(t, err)
	assert.False(t, res.Contended)
	assert.Equal(t, 7, res.Inserted)
	assert.Equal(t, 3, locker.attempts)
	assert.Equal(t, 1, locker.unlocked)
}

func TestReconcileSchedule_BusyLockNeverLosesScheduleEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	locker := &busyLocker{busyFor: 100}

	res, err := f.lockedReconciler(locker).Handle(ctx, command.ReconcileScheduleCommand{ClassGroupID: "adulto-noite", Schedule: tueThu()})
	require.NoError(t, err)
	assert.True(t, res.Contended)
	assert.Equal(t, 6, res.Inserted)
	assert.Equal(t, 3, locker.attempts)
	assert.Zero(t, locker.unlocked)

	group, err := f.store.ClassGroups().GetByID(ctx, "adulto-noite")
	require.NoError(t, err)
	assert.True(t, group.Schedule.Weekdays.Contains(time.Tuesday))
	assert.Equal(t, []shared.Date{march(11), march(13), march(18), march(20), march(25), march(27)}, datesOf(t, f))
}

func TestReconcileSchedule_SkipIfBusy(t *testing.T) {
	f := newFixture(t)
	locker := &busyLocker{busyFor: 100}

	_, err := f.lockedReconciler(locker).Handle(context.Background(),
		command.ReconcileScheduleCommand{ClassGroupID: "adulto-noite", SkipIfBusy: true})
	assert.ErrorIs(t, err, shared.ErrReconcileInProgress)
	assert.Equal(t, 1, locker.attempts)
	assert.Empty(t, datesOf(t, f))
}

// ──────────────────────────────────────────────────────────────────────────────
// Concurrent writers
// ──────────────────────────────────────────────────────────────────────────────

// racingLessons lets a test act as another writer right before the handler's
// own insert or delete reaches the store.
type racingLessons struct {
	schedule.LessonStore
	beforeInsert func(l *schedule.Lesson)
	beforeDelete func(id string)
}

func (r *racingLessons) Insert(ctx context.Context, l *schedule.Lesson) error {
	if r.beforeInsert != nil {
		hook := r.beforeInsert
		r.beforeInsert = nil
		hook(l)
	}
	return r.LessonStore.Insert(ctx, l)
}

func (r *racingLessons) DeleteUnprotected(ctx context.Context, id string) (bool, error) {
	if r.beforeDelete != nil {
		hook := r.beforeDelete
		r.beforeDelete = nil
		hook(id)
	}
	return r.LessonStore.DeleteUnprotected(ctx, id)
}

func (f *fixture) racingReconciler(lessons *racingLessons) *command.ReconcileScheduleHandler {
	return command.NewReconcileScheduleHandler(f.store.ClassGroups(), lessons, nil,
		nil, nil, f.clock, f.logger, command.ReconcileScheduleConfig{Location: brt})
}

func TestReconcileSchedule_SequenceConflictRenumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lessons := &racingLessons{LessonStore: f.store.Lessons()}

	// Another writer takes sequence 1 on a date this schedule never uses.
	lessons.beforeInsert = func(l *schedule.Lesson) {
		other := *l
		other.ID = "other-writer"
		other.ScheduledOn = march(9)
		other.StartsAt = time.Date(2025, time.March, 9, 19, 0, 0, 0, brt)
		require.NoError(t, f.store.Lessons().Insert(ctx, &other))
	}

	res, err := f.racingReconciler(lessons).Handle(ctx, command.ReconcileScheduleCommand{ClassGroupID: "adulto-noite"})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Inserted)
	assert.Zero(t, res.Conflicts)
	assert.Len(t, datesOf(t, f), 8)
	assertUniqueSequences(t, f)

	lessonsInOrder := lessonsByDate(t, f)
	for i := 2; i < len(lessonsInOrder); i++ {
		assert.Greater(t, lessonsInOrder[i].Sequence, lessonsInOrder[i-1].Sequence)
	}
}

func TestReconcileSchedule_DateConflictKeepsExistingRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lessons := &racingLessons{LessonStore: f.store.Lessons()}

	// A concurrent pass plans the same lesson and commits it first.
	var winner string
	lessons.beforeInsert = func(l *schedule.Lesson) {
		other := *l
		other.ID = "other-writer"
		winner = other.ID
		require.NoError(t, f.store.Lessons().Insert(ctx, &other))
	}

	h := f.racingReconciler(lessons)
	res, err := h.Handle(ctx, command.ReconcileScheduleCommand{ClassGroupID: "adulto-noite"})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Inserted)
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, winner, f.lessonOn(t, march(10)).ID)
	assertUniqueSequences(t, f)

	again, err := h.Handle(ctx, command.ReconcileScheduleCommand{ClassGroupID: "adulto-noite"})
	require.NoError(t, err)
	assert.True(t, again.IsNoop())
	assert.Equal(t, 7, again.Kept)
}

func TestReconcileSchedule_LessonCheckedInDuringDeleteIsKept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reconcile.Handle(ctx, command.ReconcileScheduleCommand{ClassGroupID: "adulto-noite"})
	require.NoError(t, err)

	racing := f.lessonOn(t, march(17))
	lessons := &racingLessons{LessonStore: f.store.Lessons()}
	lessons.beforeDelete = func(string) { f.checkIn(t, "ci-race", racing.ID) }

	res, err := f.racingReconciler(lessons).Handle(ctx, command.ReconcileScheduleCommand{ClassGroupID: "adulto-noite", Schedule: tueThu()})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SkippedDeletes)
	assert.Equal(t, 6, res.Deleted)
	assert.Equal(t, 6, res.Inserted)
	assert.Zero(t, res.Conflicts)

	kept := f.lessonOn(t, march(17))
	assert.Equal(t, racing.ID, kept.ID)
	assertUniqueSequences(t, f)
}

func TestReconcileSchedule_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.reconcile.Handle(context.Background(), command.ReconcileScheduleCommand{})
	assert.True(t, shared.IsValidation(err))

	_, err = f.reconcile.Handle(context.Background(), command.ReconcileScheduleCommand{ClassGroupID: "missing"})
	assert.ErrorIs(t, err, shared.ErrClassGroupNotFound)
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECK-IN
// ══════════════════════════════════════════════════════════════════════════════

func TestCheckIn_FirstCheckInAwardsXP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reconcile.Handle(ctx, command.ReconcileScheduleCommand{ClassGroupID: "adulto-noite"})
	require.NoError(t, err)

	lesson := f.lessonOn(t, march(10))
	f.clock.Set(time.Date(2025, time.March, 10, 18, 50, 0, 0, brt))

	res, err := f.checkInHandler(f.fanout).Handle(ctx, command.CheckInCommand{
		StudentID: "ana", LessonID: lesson.ID, Method: "manual",
	})
	require.NoError(t, err)
	require.NoError(t, res.FanoutError)
	assert.Equal(t, attendance.PresencePresent, res.CheckIn.Presence)

	require.NotNil(t, res.Fanout)
	require.NotNil(t, res.Fanout.Gamification)
	g := res.Fanout.Gamification
	assert.True(t, g.Applied)
	assert.Equal(t, 75+50, g.TotalXP, "base + first-of-month bonus + first_class")
	assert.Equal(t, 2, g.Level)
	assert.Equal(t, 1, g.CurrentStreak)
	require.Len(t, g.Achievements, 1)
	assert.Equal(t, gamification.AchievementFirstClass, g.Achievements[0].Code)

	assert.Equal(t, 1, f.events.count(shared.EventCheckedIn))
	assert.Equal(t, 1, f.events.count(shared.EventAchievementUnlocked))
	assert.Equal(t, 1, f.events.count(shared.EventLevelUp))

	ledger, err := f.store.Game().Ledger(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, g.TotalXP, gamification.LedgerSum(ledger))

	protected, err := f.store.Lessons().IsProtected(ctx, lesson.ID)
	require.NoError(t, err)
	assert.True(t, protected)
}

func TestCheckIn_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reconcile.Handle(ctx, command.ReconcileScheduleCommand{ClassGroupID: "adulto-noite"})
	require.NoError(t, err)
	lesson := f.lessonOn(t, march(10))
	h := f.checkInHandler(nil)

	f.clock.Set(time.Date(2025, time.March, 10, 17, 59, 0, 0, brt))
	_, err = h.Handle(ctx, command.CheckInCommand{StudentID: "ana", LessonID: lesson.ID, Method: "MANUAL"})
	assert.Equal(t, "OUTSIDE_WINDOW", shared.ErrorCode(err))

	f.clock.Set(time.Date(2025, time.March, 10, 19, 10, 0, 0, brt))
	_, err = h.Handle(ctx, command.CheckInCommand{StudentID: "bruno", LessonID: lesson.ID, Method: "MANUAL"})
	assert.Equal(t, "NOT_ENROLLED", shared.ErrorCode(err))

	_, err = h.Handle(ctx, command.CheckInCommand{StudentID: "ana", LessonID: lesson.ID, Method: "QR_CODE"})
	assert.True(t, shared.IsValidation(err), "QR check-in without a token")

	_, err = h.Handle(ctx, command.CheckInCommand{StudentID: "ana", LessonID: lesson.ID, Method: "QR_CODE", QRToken: "forged.1.abc"})
	assert.Equal(t, "FORBIDDEN", shared.ErrorCode(err))

	res, err := h.Handle(ctx, command.CheckInCommand{StudentID: "ana", LessonID: lesson.ID, Method: "KIOSK"})
	require.NoError(t, err)
	assert.True(t, res.CheckIn.IsLate())

	_, err = h.Handle(ctx, command.CheckInCommand{StudentID: "ana", LessonID: lesson.ID, Method: "KIOSK"})
	assert.Equal(t, "DUPLICATE_CHECKIN", shared.ErrorCode(err))
}

func TestCheckIn_QRCodeAndCancelledLesson(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reconcile.Handle(ctx, command.ReconcileScheduleCommand{ClassGroupID: "adulto-noite"})
	require.NoError(t, err)
	lesson := f.lessonOn(t, march(10))
	f.clock.Set(time.Date(2025, time.March, 10, 18, 40, 0, 0, brt))

	issued, err := command.NewIssueQRTokenHandler(f.store.Lessons(), f.signer, f.clock).
		Handle(ctx, command.IssueQRTokenCommand{LessonID: lesson.ID})
	require.NoError(t, err)
	assert.True(t, f.clock.Now().Add(15*time.Minute).Equal(issued.ExpiresAt))

	_, err = f.checkInHandler(nil).Handle(ctx, command.CheckInCommand{
		StudentID: "ana", LessonID: lesson.ID, Method: "QR_CODE", QRToken: issued.Token,
	})
	require.NoError(t, err)

	next := f.lessonOn(t, march(12))
	cancelled, err := command.NewCancelLessonHandler(f.store.Lessons(), f.logger).
		Handle(ctx, command.CancelLessonCommand{LessonID: next.ID, Reason: "feriado"})
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusCancelled, cancelled.Status)

	f.clock.Set(time.Date(2025, time.March, 12, 18, 50, 0, 0, brt))
	_, err = f.checkInHandler(nil).Handle(ctx, command.CheckInCommand{StudentID: "ana", LessonID: next.ID, Method: "APP"})
	assert.ErrorIs(t, err, shared.ErrLessonCancelled)
}

func TestCheckIn_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reconcile.Handle(ctx, command.ReconcileScheduleCommand{ClassGroupID: "adulto-noite"})
	require.NoError(t, err)
	lesson := f.lessonOn(t, march(10))
	f.clock.Set(time.Date(2025, time.March, 10, 18, 55, 0, 0, brt))
	h := f.checkInHandler(f.fanout)

	const attempts = 6
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[string]int{}
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Handle(ctx, command.CheckInCommand{StudentID: "ana", LessonID: lesson.ID, Method: "APP"})
			mu.Lock()
			codes[shared.ErrorCode(err)]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, codes[""])
	assert.Equal(t, attempts-1, codes["DUPLICATE_CHECKIN"])

	state, err := f.store.Game().Get(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, 1, state.CheckIns)
}

// ══════════════════════════════════════════════════════════════════════════════
// FAN-OUT FAILURE & REPAIR
// ══════════════════════════════════════════════════════════════════════════════

type failingFanout struct{}

func (failingFanout) Handle(context.Context, command.FanoutInput) (*command.FanoutSummary, error) {
	return nil, errors.New("gamification store unavailable")
}

func TestCheckIn_FanoutFailureIsRepaired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.reconcile.Handle(ctx, command.ReconcileScheduleCommand{ClassGroupID: "adulto-noite"})
	require.NoError(t, err)
	lesson := f.lessonOn(t, march(10))
	f.clock.Set(time.Date(2025, time.March, 10, 18, 50, 0, 0, brt))

	res, err := f.checkInHandler(failingFanout{}).Handle(ctx, command.CheckInCommand{
		StudentID: "ana", LessonID: lesson.ID, Method: "MANUAL",
	})
	require.NoError(t, err, "the check-in itself is committed")
	assert.Nil(t, res.Fanout)
	assert.Equal(t, "FANOUT_PARTIAL_FAILURE", shared.ErrorCode(res.FanoutError))
	assert.Equal(t, 1, f.events.count(shared.EventFanoutFailed))

	_, err = f.store.Game().Get(ctx, "ana")
	assert.ErrorIs(t, err, shared.ErrGameStateNotFound)

	repair := command.NewRepairGameStateHandler(f.store.Game(), f.engine, f.store.CheckIns(), f.store.Lessons(),
		f.store.Progress(), f.store.Directory(), f.fanout, f.events, f.clock, f.logger)

	out, err := repair.Handle(ctx, command.RepairGameStateCommand{})
	require.NoError(t, err)
	assert.Empty(t, out.Failed)
	assert.Equal(t, 1, out.Examined)
	require.Len(t, out.Repaired, 1)
	assert.Equal(t, 1, out.Repaired[0].ProgressApplied)

	state, err := f.store.Game().Get(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, 125, state.TotalXP)
	assert.Equal(t, 1, state.CheckIns)

	ledger, err := f.store.Game().Ledger(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, state.TotalXP, gamification.LedgerSum(ledger))

	unapplied, err := f.store.Progress().UnappliedCheckIns(ctx, "ana", 0)
	require.NoError(t, err)
	assert.Empty(t, unapplied)

	second, err := repair.Handle(ctx, command.RepairGameStateCommand{})
	require.NoError(t, err)
	assert.Zero(t, second.Examined)
}
