package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/smartdefence/academy-hub/internal/application/command"
	"github.com/smartdefence/academy-hub/internal/application/query"
	"github.com/smartdefence/academy-hub/internal/domain/gamification"
	"github.com/smartdefence/academy-hub/internal/domain/schedule"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
	"github.com/smartdefence/academy-hub/internal/infrastructure/scheduler"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth reports every check. A failed optional check is reported as
// degraded with 200; a failed required check gives 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"healthy": true,
			"uptime":  s.Uptime().Round(time.Second).String(),
			"version": s.config.Version,
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady answers readiness: only required checks count.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]bool{"ready": true})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, map[string]any{"ready": status.Ready, "message": status.Message})
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECK-IN
// ══════════════════════════════════════════════════════════════════════════════

// CheckInRequest is the body of POST /api/v1/check-ins.
type CheckInRequest struct {
	StudentID string `json:"student_id" validate:"required,max=64"`
	LessonID  string `json:"lesson_id" validate:"required,max=64"`
	Method    string `json:"method" validate:"required,oneof=MANUAL QR_CODE KIOSK APP manual qr_code kiosk app"`
	QRToken   string `json:"qr_token,omitempty"`
	Location  string `json:"location,omitempty" validate:"max=200"`
	Notes     string `json:"notes,omitempty" validate:"max=1000"`
}

// CheckInResponse is the attendance confirmation.
type CheckInResponse struct {
	CheckInID   string    `json:"check_in_id"`
	StudentID   string    `json:"student_id"`
	LessonID    string    `json:"lesson_id"`
	CheckedInAt time.Time `json:"checked_in_at"`
	Method      string    `json:"method"`
	Presence    string    `json:"presence"`

	Progress     *ProgressEffect     `json:"progress,omitempty"`
	Gamification *GamificationEffect `json:"gamification,omitempty"`

	// FanoutError is set when the record was committed but downstream
	// effects were not fully applied; the repair pass completes them.
	FanoutError *APIError `json:"fanout_error,omitempty"`
}

// ProgressEffect is the progress part of a check-in response.
type ProgressEffect struct {
	Applied            bool     `json:"applied"`
	Techniques         []string `json:"techniques"`
	MasteredTechniques int      `json:"mastered_techniques"`
	AttendedLessons    int      `json:"attended_lessons,omitempty"`
	GraduationReady    bool     `json:"graduation_ready"`
}

// GamificationEffect is the gamification part of a check-in response.
type GamificationEffect struct {
	Applied       bool     `json:"applied"`
	XPGained      int      `json:"xp_gained"`
	TotalXP       int      `json:"total_xp"`
	Level         int      `json:"level"`
	LevelUp       bool     `json:"level_up"`
	CurrentStreak int      `json:"current_streak"`
	LongestStreak int      `json:"longest_streak"`
	StreakChange  string   `json:"streak_change"`
	Achievements  []string `json:"achievements"`
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	if s.deps.CheckIn == nil {
		notImplemented(w, r)
		return
	}

	var req CheckInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}

	res, err := s.deps.CheckIn.Handle(r.Context(), command.CheckInCommand{
		StudentID:     req.StudentID,
		LessonID:      req.LessonID,
		Method:        strings.ToUpper(req.Method),
		QRToken:       req.QRToken,
		Location:      req.Location,
		Notes:         req.Notes,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, newCheckInResponse(res))
}

func newCheckInResponse(res *command.CheckInResult) CheckInResponse {
	out := CheckInResponse{
		CheckInID:   res.CheckIn.ID,
		StudentID:   res.CheckIn.StudentID,
		LessonID:    res.CheckIn.LessonID,
		CheckedInAt: res.CheckIn.CheckedInAt,
		Method:      string(res.CheckIn.Method),
		Presence:    string(res.CheckIn.Presence),
	}

	if res.FanoutError != nil {
		out.FanoutError = &APIError{Code: shared.ErrorCode(res.FanoutError), Message: res.FanoutError.Error()}
	}
	if res.Fanout == nil {
		return out
	}

	p := &ProgressEffect{
		Applied:            res.Fanout.ProgressApplied,
		Techniques:         make([]string, 0, len(res.Fanout.Techniques)),
		MasteredTechniques: res.Fanout.MasteredTechniques,
	}
	for _, t := range res.Fanout.Techniques {
		p.Techniques = append(p.Techniques, t.TechniqueID)
	}
	if res.Fanout.Course != nil {
		p.AttendedLessons = res.Fanout.Course.AttendedLessons
	}
	if res.Fanout.Graduation != nil {
		p.GraduationReady = res.Fanout.Graduation.Eligible
	}
	out.Progress = p

	if g := res.Fanout.Gamification; g != nil {
		out.Gamification = &GamificationEffect{
			Applied:       g.Applied,
			XPGained:      g.XPGained,
			TotalXP:       g.TotalXP,
			Level:         g.Level,
			LevelUp:       g.LevelUp,
			CurrentStreak: g.CurrentStreak,
			LongestStreak: g.LongestStreak,
			StreakChange:  string(g.StreakChange),
			Achievements:  achievementCodes(g.Achievements),
		}
	}
	return out
}

func achievementCodes(defs []gamification.AchievementDefinition) []string {
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, string(d.Code))
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE & LESSONS
// ══════════════════════════════════════════════════════════════════════════════

// ScheduleRequest is the body of PUT /api/v1/class-groups/{id}/schedule.
type ScheduleRequest struct {
	// Weekdays are 0=Sunday … 6=Saturday.
	Weekdays        []int  `json:"weekdays" validate:"max=7,dive,min=0,max=6"`
	StartTime       string `json:"start_time" validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,min=1,max=1440"`
	EffectiveFrom   string `json:"effective_from" validate:"required"`
	EffectiveUntil  string `json:"effective_until,omitempty"`
}

// toSchedule parses the request into a domain schedule.
func (req ScheduleRequest) toSchedule() (schedule.RecurringSchedule, error) {
	days, err := schedule.WeekdaysFromInts(req.Weekdays)
	if err != nil {
		return schedule.RecurringSchedule{}, err
	}
	start, err := schedule.ParseTimeOfDay(req.StartTime)
	if err != nil {
		return schedule.RecurringSchedule{}, err
	}
	from, err := shared.ParseDate(req.EffectiveFrom)
	if err != nil {
		return schedule.RecurringSchedule{}, err
	}
	var until shared.Date
	if req.EffectiveUntil != "" {
		if until, err = shared.ParseDate(req.EffectiveUntil); err != nil {
			return schedule.RecurringSchedule{}, err
		}
	}
	return schedule.RecurringSchedule{
		Weekdays:       days,
		StartTime:      start,
		Duration:       time.Duration(req.DurationMinutes) * time.Minute,
		EffectiveFrom:  from,
		EffectiveUntil: until,
	}, nil
}

// ReconcileResponse reports a reconciliation pass.
type ReconcileResponse struct {
	ClassGroupID   string    `json:"class_group_id"`
	Inserted       int       `json:"inserted"`
	Deleted        int       `json:"deleted"`
	Kept           int       `json:"kept"`
	Protected      int       `json:"protected"`
	Past           int       `json:"past"`
	Blocked        int       `json:"blocked"`
	SkippedDeletes int       `json:"skipped_deletes"`
	Conflicts      int       `json:"conflicts"`
	Contended      bool      `json:"contended"`
	Warnings       []string  `json:"warnings,omitempty"`
	ReconciledAt   time.Time `json:"reconciled_at"`
}

func newReconcileResponse(res *command.ReconcileScheduleResult) ReconcileResponse {
	return ReconcileResponse{
		ClassGroupID:   res.ClassGroupID,
		Inserted:       res.Inserted,
		Deleted:        res.Deleted,
		Kept:           res.Kept,
		Protected:      res.Protected,
		Past:           res.Past,
		Blocked:        res.Blocked,
		SkippedDeletes: res.SkippedDeletes,
		Conflicts:      res.Conflicts,
		Contended:      res.Contended,
		Warnings:       res.Warnings,
		ReconciledAt:   res.ReconciledAt,
	}
}

func (s *Server) handlePutSchedule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reconcile == nil {
		notImplemented(w, r)
		return
	}

	var req ScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	sched, err := req.toSchedule()
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	res, err := s.deps.Reconcile.Handle(r.Context(), command.ReconcileScheduleCommand{
		ClassGroupID:  r.PathValue("id"),
		Schedule:      &sched,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newReconcileResponse(res))
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reconcile == nil {
		notImplemented(w, r)
		return
	}

	res, err := s.deps.Reconcile.Handle(r.Context(), command.ReconcileScheduleCommand{
		ClassGroupID:  r.PathValue("id"),
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newReconcileResponse(res))
}

func (s *Server) handleListLessons(w http.ResponseWriter, r *http.Request) {
	if s.deps.Lessons == nil {
		notImplemented(w, r)
		return
	}

	q := query.ListLessonsQuery{ClassGroupID: r.PathValue("id")}
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if q.From, err = shared.ParseDate(v); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if q.To, err = shared.ParseDate(v); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}

	lessons, err := s.deps.Lessons.Handle(r.Context(), q)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, lessons)
}

// CancelLessonRequest is the optional body of POST /api/v1/lessons/{id}/cancel.
type CancelLessonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (s *Server) handleCancelLesson(w http.ResponseWriter, r *http.Request) {
	if s.deps.CancelLesson == nil {
		notImplemented(w, r)
		return
	}

	var req CancelLessonRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}

	lesson, err := s.deps.CancelLesson.Handle(r.Context(), command.CancelLessonCommand{
		LessonID: r.PathValue("id"),
		Reason:   req.Reason,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"lesson_id": lesson.ID, "status": string(lesson.Status)})
}

func (s *Server) handleIssueQRToken(w http.ResponseWriter, r *http.Request) {
	if s.deps.QRToken == nil {
		notImplemented(w, r)
		return
	}

	res, err := s.deps.QRToken.Handle(r.Context(), command.IssueQRTokenCommand{LessonID: r.PathValue("id")})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"lesson_id":  res.LessonID,
		"token":      res.Token,
		"expires_at": res.ExpiresAt,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENTS & LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleStudentProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.Progress == nil {
		notImplemented(w, r)
		return
	}

	milestone, err := getQueryParamInt(r, "passed_milestone", 0)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	dto, err := s.deps.Progress.Handle(r.Context(), query.GetStudentProgressQuery{
		StudentID:       r.PathValue("id"),
		CourseID:        r.URL.Query().Get("course_id"),
		PassedMilestone: milestone,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

func (s *Server) handleAttendancePattern(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pattern == nil {
		notImplemented(w, r)
		return
	}

	dto, err := s.deps.Pattern.Handle(r.Context(), query.GetAttendancePatternQuery{StudentID: r.PathValue("id")})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.deps.Leaderboard == nil {
		notImplemented(w, r)
		return
	}

	limit, err := getQueryParamInt(r, "limit", 0)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	res, err := s.deps.Leaderboard.Handle(r.Context(), query.GetLeaderboardQuery{
		Limit:     limit,
		StudentID: r.URL.Query().Get("student_id"),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// MAINTENANCE
// ══════════════════════════════════════════════════════════════════════════════

// RepairRequest is the optional body of POST /api/v1/maintenance/repair.
type RepairRequest struct {
	StudentID string `json:"student_id,omitempty" validate:"max=64"`
	Limit     int    `json:"limit,omitempty" validate:"gte=0,lte=10000"`
}

// RepairResponse summarizes a repair pass.
type RepairResponse struct {
	Examined int                     `json:"examined"`
	Repaired []command.StudentRepair `json:"repaired"`
	Failed   map[string]string       `json:"failed,omitempty"`
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	if s.deps.Repair == nil {
		notImplemented(w, r)
		return
	}

	var req RepairRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}

	res, err := s.deps.Repair.Handle(r.Context(), command.RepairGameStateCommand{
		StudentID: req.StudentID,
		Limit:     req.Limit,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	out := RepairResponse{Examined: res.Examined, Repaired: res.Repaired}
	if out.Repaired == nil {
		out.Repaired = []command.StudentRepair{}
	}
	if len(res.Failed) > 0 {
		out.Failed = make(map[string]string, len(res.Failed))
		for id, ferr := range res.Failed {
			out.Failed[id] = ferr.Error()
		}
	}
	writeJSON(w, r, http.StatusOK, out)
}

// JobResponse is one background job's status or run outcome.
type JobResponse struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Schedule    string    `json:"schedule,omitempty"`
	NextRun     time.Time `json:"next_run,omitzero"`
	Running     bool      `json:"running"`
	RunCount    int64     `json:"run_count"`
	FailCount   int64     `json:"fail_count"`
	LastRun     *JobRun   `json:"last_run,omitempty"`
}

// JobRun is the outcome of one execution.
type JobRun struct {
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Manual     bool      `json:"manual"`
	Error      string    `json:"error,omitempty"`
}

func newJobRun(res *scheduler.JobResult) *JobRun {
	if res == nil {
		return nil
	}
	run := &JobRun{StartedAt: res.StartedAt, DurationMS: res.Duration.Milliseconds(), Manual: res.Manual}
	if res.Error != nil {
		run.Error = res.Error.Error()
	}
	return run
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		notImplemented(w, r)
		return
	}

	infos := s.deps.Jobs.ListJobs()
	out := make([]JobResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, JobResponse{
			Name:        info.Name,
			Description: info.Description,
			Schedule:    info.Schedule,
			NextRun:     info.NextRun,
			Running:     info.Running,
			RunCount:    info.RunCount,
			FailCount:   info.FailCount,
			LastRun:     newJobRun(info.LastResult),
		})
	}
	writeJSON(w, r, http.StatusOK, out)
}

// handleRunJob runs a job synchronously. A job that ran and failed is still
// a 200 with the error in the body.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		notImplemented(w, r)
		return
	}

	name := r.PathValue("name")
	res, err := s.deps.Jobs.RunNow(r.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeJSONError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	case errors.Is(err, scheduler.ErrJobRunning):
		writeJSONError(w, r, http.StatusConflict, "LOCKED", err.Error())
		return
	case res == nil:
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, JobResponse{Name: name, LastRun: newJobRun(res)})
}

// ══════════════════════════════════════════════════════════════════════════════
// DECODING
// ══════════════════════════════════════════════════════════════════════════════

var errEmptyBody = shared.NewDomainError("http", "Decode", shared.ErrValidation, "request body is required")

// decodeJSON reads a required JSON body and validates it.
func decodeJSON(r *http.Request, dst any) error {
	if err := decodeBody(r, dst); err != nil {
		return err
	}
	return validateRequest(dst)
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if err := decodeBody(r, dst); err != nil && err != errEmptyBody {
		return err
	}
	return validateRequest(dst)
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return shared.WrapError("http", "Decode", shared.ErrInvalidFormat, "malformed JSON body", err)
	}
	return nil
}

func validateRequest(dst any) error {
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			return shared.WrapError("http", "Validate", shared.ErrValidation, strings.Join(fields, ", "), err)
		}
		return shared.WrapError("http", "Validate", shared.ErrValidation, "invalid request", err)
	}
	return nil
}

func notImplemented(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, r, http.StatusNotImplemented, "NOT_IMPLEMENTED", "endpoint is not enabled")
}
