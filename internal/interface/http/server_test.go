package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdefence/academy-hub/internal/application/command"
	"github.com/smartdefence/academy-hub/internal/application/query"
	"github.com/smartdefence/academy-hub/internal/domain/attendance"
	"github.com/smartdefence/academy-hub/internal/domain/schedule"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
	"github.com/smartdefence/academy-hub/internal/infrastructure/scheduler"
	"github.com/smartdefence/academy-hub/internal/interface/http/handlers"
	"github.com/smartdefence/academy-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeCheckIn struct {
	got command.CheckInCommand
	res *command.CheckInResult
	err error
}

func (f *fakeCheckIn) Handle(_ context.Context, cmd command.CheckInCommand) (*command.CheckInResult, error) {
	f.got = cmd
	return f.res, f.err
}

type fakeReconcile struct {
	got command.ReconcileScheduleCommand
	err error
}

func (f *fakeReconcile) Handle(_ context.Context, cmd command.ReconcileScheduleCommand) (*command.ReconcileScheduleResult, error) {
	f.got = cmd
	if f.err != nil {
		return nil, f.err
	}
	return &command.ReconcileScheduleResult{ClassGroupID: cmd.ClassGroupID, Inserted: 3, Kept: 1}, nil
}

type fakeRepair struct {
	got command.RepairGameStateCommand
}

func (f *fakeRepair) Handle(_ context.Context, cmd command.RepairGameStateCommand) (*command.RepairGameStateResult, error) {
	f.got = cmd
	return &command.RepairGameStateResult{
		Examined: 2,
		Failed:   map[string]error{"s2": errors.New("boom")},
	}, nil
}

type panicking struct{}

func (panicking) Handle(context.Context, query.GetLeaderboardQuery) (*query.GetLeaderboardResult, error) {
	panic("kaboom")
}

type staticHealth struct{ status handlers.HealthStatus }

func (h staticHealth) Check(context.Context) handlers.HealthStatus { return h.status }

func newTestServer(deps Dependencies, keys ...string) http.Handler {
	deps.Logger = logger.Discard()
	return NewServer(Config{AdminAPIKeys: keys}, deps).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) (*httptest.ResponseRecorder, JSONResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp JSONResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECK-IN
// ══════════════════════════════════════════════════════════════════════════════

func TestCheckInCreated(t *testing.T) {
	at := time.Date(2026, 3, 2, 19, 5, 0, 0, time.UTC)
	svc := &fakeCheckIn{res: &command.CheckInResult{
		CheckIn: &attendance.CheckIn{
			ID: "c1", StudentID: "s1", LessonID: "l1",
			CheckedInAt: at, Method: attendance.MethodManual, Presence: attendance.PresencePresent,
		},
		Fanout: &command.FanoutSummary{
			ProgressApplied: true,
			Gamification:    &command.GamificationSummary{Applied: true, XPGained: 60, TotalXP: 60, Level: 1},
		},
	}}
	h := newTestServer(Dependencies{CheckIn: svc})

	rec, resp := do(t, h, http.MethodPost, "/api/v1/check-ins",
		`{"student_id":"s1","lesson_id":"l1","method":"manual"}`, "X-Request-ID", "req-1")

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "MANUAL", svc.got.Method)
	assert.Equal(t, "req-1", svc.got.CorrelationID)

	data := resp.Data.(map[string]any)
	assert.Equal(t, "c1", data["check_in_id"])
	assert.Nil(t, data["fanout_error"])
	assert.EqualValues(t, 60, data["gamification"].(map[string]any)["xp_gained"])
}

func TestCheckInReportsFanoutFailure(t *testing.T) {
	svc := &fakeCheckIn{res: &command.CheckInResult{
		CheckIn: &attendance.CheckIn{ID: "c1", StudentID: "s1", LessonID: "l1"},
		FanoutError: shared.WrapError("eventhandler", "Fanout", shared.ErrFanoutPartialFailure,
			"gamification not applied", errors.New("db down")),
	}}
	h := newTestServer(Dependencies{CheckIn: svc})

	rec, resp := do(t, h, http.MethodPost, "/api/v1/check-ins", `{"student_id":"s1","lesson_id":"l1","method":"KIOSK"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	fe := resp.Data.(map[string]any)["fanout_error"].(map[string]any)
	assert.Equal(t, "FANOUT_PARTIAL_FAILURE", fe["code"])
}

func TestCheckInErrorStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"outside window", shared.ErrOutsideWindow, http.StatusUnprocessableEntity, "OUTSIDE_WINDOW"},
		{"duplicate", shared.ErrDuplicateCheckIn, http.StatusConflict, "DUPLICATE_CHECKIN"},
		{"not enrolled", shared.ErrNotEnrolled, http.StatusForbidden, "NOT_ENROLLED"},
		{"not found", shared.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestServer(Dependencies{CheckIn: &fakeCheckIn{err: tc.err}})
			rec, resp := do(t, h, http.MethodPost, "/api/v1/check-ins", `{"student_id":"s1","lesson_id":"l1","method":"APP"}`)

			assert.Equal(t, tc.status, rec.Code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code)
			if tc.status == http.StatusInternalServerError {
				assert.NotContains(t, resp.Error.Message, "disk on fire")
			}
		})
	}
}

func TestCheckInValidation(t *testing.T) {
	svc := &fakeCheckIn{}
	h := newTestServer(Dependencies{CheckIn: svc})

	for _, body := range []string{
		``,
		`{"student_id":"s1"`,
		`{"student_id":"s1","lesson_id":"l1","method":"TELEPATHY"}`,
		`{"student_id":"s1","lesson_id":"l1","method":"APP","extra":1}`,
	} {
		rec, resp := do(t, h, http.MethodPost, "/api/v1/check-ins", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code, body)
	}
	assert.Empty(t, svc.got.StudentID)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN ROUTES
// ══════════════════════════════════════════════════════════════════════════════

func TestPutScheduleRequiresAPIKey(t *testing.T) {
	svc := &fakeReconcile{}
	h := newTestServer(Dependencies{Reconcile: svc}, "admin-key")
	body := `{"weekdays":[1,3],"start_time":"19:00","duration_minutes":90,"effective_from":"2026-03-01"}`

	rec, resp := do(t, h, http.MethodPut, "/api/v1/class-groups/g1/schedule", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "MISSING_API_KEY", resp.Error.Code)

	rec, _ = do(t, h, http.MethodPut, "/api/v1/class-groups/g1/schedule", body, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, resp = do(t, h, http.MethodPut, "/api/v1/class-groups/g1/schedule", body, "Authorization", "Bearer admin-key")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, resp.Data.(map[string]any)["inserted"])

	assert.Equal(t, "g1", svc.got.ClassGroupID)
	require.NotNil(t, svc.got.Schedule)
	assert.True(t, svc.got.Schedule.Weekdays.Contains(time.Monday))
	assert.True(t, svc.got.Schedule.Weekdays.Contains(time.Wednesday))
	assert.False(t, svc.got.Schedule.Weekdays.Contains(time.Friday))
	assert.Equal(t, 90*time.Minute, svc.got.Schedule.Duration)
}

func TestPutScheduleRejectsBadTime(t *testing.T) {
	h := newTestServer(Dependencies{Reconcile: &fakeReconcile{}})
	rec, resp := do(t, h, http.MethodPut, "/api/v1/class-groups/g1/schedule",
		`{"weekdays":[1],"start_time":"25:99","duration_minutes":60,"effective_from":"2026-03-01"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestReconcileConflictAndLock(t *testing.T) {
	h := newTestServer(Dependencies{Reconcile: &fakeReconcile{err: shared.ErrLocked}})
	rec, resp := do(t, h, http.MethodPost, "/api/v1/class-groups/g1/reconcile", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "LOCKED", resp.Error.Code)

	h = newTestServer(Dependencies{Reconcile: &fakeReconcile{err: shared.ErrScheduleConflict}})
	rec, resp = do(t, h, http.MethodPost, "/api/v1/class-groups/g1/reconcile", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SCHEDULE_CONFLICT", resp.Error.Code)
}

func TestRepairAcceptsEmptyBody(t *testing.T) {
	svc := &fakeRepair{}
	h := newTestServer(Dependencies{Repair: svc})

	rec, resp := do(t, h, http.MethodPost, "/api/v1/maintenance/repair", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]any)
	assert.EqualValues(t, 2, data["examined"])
	assert.Equal(t, "boom", data["failed"].(map[string]any)["s2"])

	rec, _ = do(t, h, http.MethodPost, "/api/v1/maintenance/repair", `{"student_id":"s9","limit":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s9", svc.got.StudentID)
	assert.Equal(t, 5, svc.got.Limit)
}

type fakeJobs struct {
	ran string
}

func (f *fakeJobs) ListJobs() []scheduler.JobInfo {
	return []scheduler.JobInfo{{
		Name:       "repair_game_state",
		Schedule:   "every 10m0s",
		RunCount:   3,
		FailCount:  1,
		LastResult: &scheduler.JobResult{Duration: 1500 * time.Millisecond, Error: errors.New("db down")},
	}}
}

func (f *fakeJobs) RunNow(_ context.Context, name string) (*scheduler.JobResult, error) {
	f.ran = name
	switch name {
	case "busy":
		return nil, scheduler.ErrJobRunning
	case "repair_game_state":
		return &scheduler.JobResult{JobName: name, Duration: 20 * time.Millisecond, Manual: true}, nil
	}
	return nil, scheduler.ErrJobNotFound
}

func TestMaintenanceJobs(t *testing.T) {
	jobs := &fakeJobs{}
	h := newTestServer(Dependencies{Jobs: jobs}, "admin-key")
	key := []string{"X-API-Key", "admin-key"}

	rec, _ := do(t, h, http.MethodGet, "/api/v1/maintenance/jobs", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, resp := do(t, h, http.MethodGet, "/api/v1/maintenance/jobs", "", key...)
	require.Equal(t, http.StatusOK, rec.Code)
	list := resp.Data.([]any)
	require.Len(t, list, 1)
	job := list[0].(map[string]any)
	assert.Equal(t, "repair_game_state", job["name"])
	assert.EqualValues(t, 1, job["fail_count"])
	assert.Equal(t, "db down", job["last_run"].(map[string]any)["error"])

	rec, resp = do(t, h, http.MethodPost, "/api/v1/maintenance/jobs/repair_game_state/run", "", key...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "repair_game_state", jobs.ran)
	run := resp.Data.(map[string]any)["last_run"].(map[string]any)
	assert.Equal(t, true, run["manual"])
	assert.EqualValues(t, 20, run["duration_ms"])

	rec, resp = do(t, h, http.MethodPost, "/api/v1/maintenance/jobs/busy/run", "", key...)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "LOCKED", resp.Error.Code)

	rec, resp = do(t, h, http.MethodPost, "/api/v1/maintenance/jobs/nope/run", "", key...)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// PLUMBING
// ══════════════════════════════════════════════════════════════════════════════

func TestDisabledServiceIsNotImplemented(t *testing.T) {
	h := newTestServer(Dependencies{})
	rec, resp := do(t, h, http.MethodGet, "/api/v1/leaderboard", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, "NOT_IMPLEMENTED", resp.Error.Code)
}

func TestPanicRecovered(t *testing.T) {
	h := newTestServer(Dependencies{Leaderboard: panicking{}})
	rec, resp := do(t, h, http.MethodGet, "/api/v1/leaderboard", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
	assert.NotEmpty(t, resp.RequestID)
}

func TestHealthDegradedVsDown(t *testing.T) {
	h := newTestServer(Dependencies{HealthChecker: staticHealth{handlers.HealthStatus{Healthy: false, Ready: true}}})
	rec, _ := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	h = newTestServer(Dependencies{HealthChecker: staticHealth{handlers.HealthStatus{}}})
	rec, _ = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec, _ = do(t, h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestTooLarge(t *testing.T) {
	deps := Dependencies{CheckIn: &fakeCheckIn{}, Logger: logger.Discard()}
	h := NewServer(Config{MaxBodyBytes: 16}, deps).Handler()

	rec, _ := do(t, h, http.MethodPost, "/api/v1/check-ins", `{"student_id":"a-very-long-student-id"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

var _ CancelLessonService = cancelFunc(nil)

type cancelFunc func(context.Context, command.CancelLessonCommand) (*schedule.Lesson, error)

func (f cancelFunc) Handle(ctx context.Context, cmd command.CancelLessonCommand) (*schedule.Lesson, error) {
	return f(ctx, cmd)
}

func TestCancelLesson(t *testing.T) {
	var got command.CancelLessonCommand
	svc := cancelFunc(func(_ context.Context, cmd command.CancelLessonCommand) (*schedule.Lesson, error) {
		got = cmd
		return &schedule.Lesson{ID: cmd.LessonID, Status: schedule.StatusCancelled}, nil
	})
	h := newTestServer(Dependencies{CancelLesson: svc})

	rec, resp := do(t, h, http.MethodPost, "/api/v1/lessons/l7/cancel", `{"reason":"holiday"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "l7", got.LessonID)
	assert.Equal(t, "holiday", got.Reason)
	assert.Equal(t, string(schedule.StatusCancelled), resp.Data.(map[string]any)["status"])
}
