package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/smartdefence/academy-hub/internal/domain/attendance"
	"github.com/smartdefence/academy-hub/internal/domain/gamification"
	"github.com/smartdefence/academy-hub/internal/domain/progress"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
	"github.com/smartdefence/academy-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STUDENT PROGRESS QUERY
// Сводка ученика: игровое состояние, достижения, техники и, если указан
// курс, статус выпуска и допуск к аттестации.
// ══════════════════════════════════════════════════════════════════════════════

// GetStudentProgressQuery содержит параметры запроса.
type GetStudentProgressQuery struct {
	StudentID string

	// CourseID - курс для статуса выпуска (необязательно).
	CourseID string

	// PassedMilestone - последний пройденный рубеж аттестации.
	PassedMilestone int
}

// SummaryCache кэширует сводку ученика (без курса).
type SummaryCache interface {
	Get(ctx context.Context, studentID string, dest any) (bool, error)
	Set(ctx context.Context, studentID string, value any) error
}

// AchievementDTO - полученное достижение.
type AchievementDTO struct {
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	XPReward   int       `json:"xp_reward"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

// TechniqueDTO - прогресс по технике.
type TechniqueDTO struct {
	TechniqueID     string    `json:"technique_id"`
	PracticeCount   int       `json:"practice_count"`
	Proficiency     string    `json:"proficiency"`
	LastPracticedAt time.Time `json:"last_practiced_at"`
}

// CourseDTO - прогресс по курсу.
type CourseDTO struct {
	CourseID          string                      `json:"course_id"`
	AttendedLessons   int                         `json:"attended_lessons"`
	RequiredLessons   int                         `json:"required_lessons"`
	Percentage        float64                     `json:"percentage"`
	GraduationReady   bool                        `json:"graduation_ready"`
	MissingTechniques []progress.MissingTechnique `json:"missing_techniques,omitempty"`
	Evaluation        progress.EvaluationCheck    `json:"evaluation"`
}

// StudentProgressDTO - сводка ученика.
type StudentProgressDTO struct {
	StudentID     string `json:"student_id"`
	TotalXP       int    `json:"total_xp"`
	Level         int    `json:"level"`
	LevelProgress int    `json:"level_progress"`
	NextLevelXP   int    `json:"next_level_xp"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
	LastCheckInOn string `json:"last_check_in_on,omitempty"`
	CheckIns      int    `json:"check_ins"`

	Achievements []AchievementDTO `json:"achievements"`
	Techniques   []TechniqueDTO   `json:"techniques"`
	Mastered     int              `json:"mastered_techniques"`

	Course *CourseDTO `json:"course,omitempty"`
}

// GetStudentProgressHandler обрабатывает запрос.
type GetStudentProgressHandler struct {
	gameStore    gamification.Store
	progressRepo progress.Repository
	curriculum   progress.Curriculum
	checkIns     attendance.Repository
	cache        SummaryCache
	logger       *slog.Logger
}

// NewGetStudentProgressHandler создаёт обработчик. curriculum и cache могут быть nil.
func NewGetStudentProgressHandler(
	gameStore gamification.Store,
	progressRepo progress.Repository,
	curriculum progress.Curriculum,
	checkIns attendance.Repository,
	cache SummaryCache,
	logger *slog.Logger,
) *GetStudentProgressHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetStudentProgressHandler{
		gameStore:    gameStore,
		progressRepo: progressRepo,
		curriculum:   curriculum,
		checkIns:     checkIns,
		cache:        cache,
		logger:       logger.With("query", "get_student_progress"),
	}
}

// Handle выполняет запрос. Ученик без check-in'ов получает нулевую сводку.
func (h *GetStudentProgressHandler) Handle(ctx context.Context, q GetStudentProgressQuery) (*StudentProgressDTO, error) {
	if q.StudentID == "" {
		return nil, shared.NewDomainError("query", "GetStudentProgress", shared.ErrValidation, "student_id is required")
	}

	useCache := h.cache != nil && q.CourseID == ""
	if useCache {
		var cached StudentProgressDTO
		hit, err := h.cache.Get(ctx, q.StudentID, &cached)
		if err != nil {
			h.logger.Warn("summary cache read failed", "student_id", q.StudentID, "error", err)
		} else if hit {
			return &cached, nil
		}
	}

	dto, err := h.build(ctx, q)
	if err != nil {
		return nil, err
	}

	if useCache {
		if err := h.cache.Set(ctx, q.StudentID, dto); err != nil {
			h.logger.Warn("summary cache write failed", "student_id", q.StudentID, "error", err)
		}
	}
	return dto, nil
}

func (h *GetStudentProgressHandler) build(ctx context.Context, q GetStudentProgressQuery) (*StudentProgressDTO, error) {
	state, err := h.gameStore.Get(ctx, q.StudentID)
	if err != nil {
		if !shared.IsNotFound(err) {
			return nil, fmt.Errorf("get_student_progress: failed to get game state: %w", err)
		}
		state = gamification.NewGameState(q.StudentID)
	}

	dto := &StudentProgressDTO{
		StudentID:     state.StudentID,
		TotalXP:       state.TotalXP,
		Level:         gamification.LevelForXP(state.TotalXP),
		LevelProgress: gamification.ProgressToNextLevel(state.TotalXP),
		CurrentStreak: state.Streak.Current,
		LongestStreak: state.Streak.Longest,
		CheckIns:      state.CheckIns,
		Achievements:  []AchievementDTO{},
		Techniques:    []TechniqueDTO{},
	}
	if dto.Level < gamification.MaxLevel {
		dto.NextLevelXP = gamification.XPForLevel(dto.Level + 1)
	}
	if !state.Streak.LastDate.IsZero() {
		dto.LastCheckInOn = state.Streak.LastDate.String()
	}

	unlocked, err := h.gameStore.ListAchievements(ctx, q.StudentID)
	if err != nil {
		return nil, fmt.Errorf("get_student_progress: failed to list achievements: %w", err)
	}
	for _, u := range unlocked {
		a := AchievementDTO{Code: string(u.Code), UnlockedAt: u.UnlockedAt}
		if def, ok := gamification.FindAchievement(u.Code); ok {
			a.Name = def.Name
			a.XPReward = def.XPReward
		}
		dto.Achievements = append(dto.Achievements, a)
	}

	techniques, err := h.progressRepo.ListTechniques(ctx, q.StudentID)
	if err != nil {
		return nil, fmt.Errorf("get_student_progress: failed to list techniques: %w", err)
	}
	for _, t := range techniques {
		dto.Techniques = append(dto.Techniques, TechniqueDTO{
			TechniqueID:     t.TechniqueID,
			PracticeCount:   t.PracticeCount,
			Proficiency:     string(t.Proficiency),
			LastPracticedAt: t.LastPracticedAt,
		})
		if t.IsMastered() {
			dto.Mastered++
		}
	}

	if q.CourseID != "" && h.curriculum != nil {
		course, err := h.courseView(ctx, q, techniques)
		if err != nil {
			return nil, err
		}
		dto.Course = course
	}
	return dto, nil
}

func (h *GetStudentProgressHandler) courseView(ctx context.Context, q GetStudentProgressQuery, techniques []*progress.TechniqueProgress) (*CourseDTO, error) {
	course, err := h.curriculum.Course(ctx, q.CourseID)
	if err != nil {
		return nil, fmt.Errorf("get_student_progress: failed to get course: %w", err)
	}
	cp, err := h.progressRepo.GetCourseProgress(ctx, q.StudentID, q.CourseID)
	if err != nil {
		return nil, fmt.Errorf("get_student_progress: failed to get course progress: %w", err)
	}
	required, err := h.curriculum.RequiredTechniques(ctx, q.CourseID)
	if err != nil {
		return nil, fmt.Errorf("get_student_progress: failed to get required techniques: %w", err)
	}

	practiced := make(map[string]*progress.TechniqueProgress, len(techniques))
	for _, t := range techniques {
		practiced[t.TechniqueID] = t
	}
	grad := progress.Graduation(*course, *cp, required, practiced)

	var rate float64
	if h.checkIns != nil {
		history, err := h.checkIns.History(ctx, q.StudentID, timeutil.Now(), attendance.PatternWindow)
		if err != nil {
			return nil, fmt.Errorf("get_student_progress: failed to get attendance history: %w", err)
		}
		rate = attendance.ComputePattern(history, timeutil.Location()).AttendanceRate
	}

	return &CourseDTO{
		CourseID:          course.ID,
		AttendedLessons:   cp.AttendedLessons,
		RequiredLessons:   course.RequiredLessons,
		Percentage:        grad.Percentage,
		GraduationReady:   grad.Eligible,
		MissingTechniques: grad.Missing,
		Evaluation:        progress.EvaluationEligibility(*course, *cp, rate, techniques, q.PassedMilestone),
	}, nil
}
