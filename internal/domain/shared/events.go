package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Events are dispatched in-process after the write that
// produced them has committed.
const (
	// Schedule events
	EventScheduleReconciled EventType = "schedule.reconciled"

	// Attendance events
	EventCheckedIn      EventType = "attendance.checked_in"
	EventFanoutFailed   EventType = "attendance.fanout_failed"
	EventGameStateFixed EventType = "attendance.game_state_repaired"

	// Gamification events
	EventXPAwarded           EventType = "gamification.xp_awarded"
	EventLevelUp             EventType = "gamification.level_up"
	EventAchievementUnlocked EventType = "gamification.achievement_unlocked"
	EventStreakBroken        EventType = "gamification.streak_broken"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Schedule Events
// ═══════════════════════════════════════════════════════════════════════════

// ScheduleReconciledEvent is emitted after a class group's lessons were reconciled.
type ScheduleReconciledEvent struct {
	BaseEvent
	Inserted  int `json:"inserted"`
	Deleted   int `json:"deleted"`
	Kept      int `json:"kept"`
	Protected int `json:"protected"`
	Conflicts int `json:"conflicts"`
}

// Payload implements Event interface.
func (e ScheduleReconciledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"inserted":  e.Inserted,
		"deleted":   e.Deleted,
		"kept":      e.Kept,
		"protected": e.Protected,
		"conflicts": e.Conflicts,
	}
}

// NewScheduleReconciledEvent creates a new ScheduleReconciledEvent.
func NewScheduleReconciledEvent(classGroupID string, inserted, deleted, kept, protected, conflicts int) ScheduleReconciledEvent {
	return ScheduleReconciledEvent{
		BaseEvent: NewBaseEvent(EventScheduleReconciled, classGroupID),
		Inserted:  inserted,
		Deleted:   deleted,
		Kept:      kept,
		Protected: protected,
		Conflicts: conflicts,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Attendance Events
// ═══════════════════════════════════════════════════════════════════════════

// CheckedInEvent is emitted when a check-in record was committed.
type CheckedInEvent struct {
	BaseEvent
	CheckInID    string    `json:"check_in_id"`
	LessonID     string    `json:"lesson_id"`
	ClassGroupID string    `json:"class_group_id"`
	Method       string    `json:"method"`
	Late         bool      `json:"late"`
	CheckedInAt  time.Time `json:"checked_in_at"`
}

// Payload implements Event interface.
func (e CheckedInEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"check_in_id":    e.CheckInID,
		"lesson_id":      e.LessonID,
		"class_group_id": e.ClassGroupID,
		"method":         e.Method,
		"late":           e.Late,
		"checked_in_at":  e.CheckedInAt,
	}
}

// NewCheckedInEvent creates a new CheckedInEvent.
func NewCheckedInEvent(studentID, checkInID, lessonID, classGroupID, method string, late bool, at time.Time) CheckedInEvent {
	return CheckedInEvent{
		BaseEvent:    NewBaseEvent(EventCheckedIn, studentID),
		CheckInID:    checkInID,
		LessonID:     lessonID,
		ClassGroupID: classGroupID,
		Method:       method,
		Late:         late,
		CheckedInAt:  at,
	}
}

// FanoutFailedEvent is emitted when progress or gamification updates failed
// after the check-in itself committed.
type FanoutFailedEvent struct {
	BaseEvent
	CheckInID string `json:"check_in_id"`
	Stage     string `json:"stage"`
	Reason    string `json:"reason"`
}

// Payload implements Event interface.
func (e FanoutFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"check_in_id": e.CheckInID,
		"stage":       e.Stage,
		"reason":      e.Reason,
	}
}

// NewFanoutFailedEvent creates a new FanoutFailedEvent.
func NewFanoutFailedEvent(studentID, checkInID, stage string, err error) FanoutFailedEvent {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return FanoutFailedEvent{
		BaseEvent: NewBaseEvent(EventFanoutFailed, studentID),
		CheckInID: checkInID,
		Stage:     stage,
		Reason:    reason,
	}
}

// GameStateRepairedEvent is emitted when the repair pass changed a student's state.
type GameStateRepairedEvent struct {
	BaseEvent
	AppendedEntries int `json:"appended_entries"`
	XPBefore        int `json:"xp_before"`
	XPAfter         int `json:"xp_after"`
}

// Payload implements Event interface.
func (e GameStateRepairedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"appended_entries": e.AppendedEntries,
		"xp_before":        e.XPBefore,
		"xp_after":         e.XPAfter,
	}
}

// NewGameStateRepairedEvent creates a new GameStateRepairedEvent.
func NewGameStateRepairedEvent(studentID string, appended, xpBefore, xpAfter int) GameStateRepairedEvent {
	return GameStateRepairedEvent{
		BaseEvent:       NewBaseEvent(EventGameStateFixed, studentID),
		AppendedEntries: appended,
		XPBefore:        xpBefore,
		XPAfter:         xpAfter,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Gamification Events
// ═══════════════════════════════════════════════════════════════════════════

// XPAwardedEvent is emitted when a student's total XP changed.
type XPAwardedEvent struct {
	BaseEvent
	Amount  int    `json:"amount"`
	TotalXP int    `json:"total_xp"`
	Reason  string `json:"reason"`
}

// Payload implements Event interface.
func (e XPAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"amount":   e.Amount,
		"total_xp": e.TotalXP,
		"reason":   e.Reason,
	}
}

// NewXPAwardedEvent creates a new XPAwardedEvent.
func NewXPAwardedEvent(studentID string, amount, totalXP int, reason string) XPAwardedEvent {
	return XPAwardedEvent{
		BaseEvent: NewBaseEvent(EventXPAwarded, studentID),
		Amount:    amount,
		TotalXP:   totalXP,
		Reason:    reason,
	}
}

// LevelUpEvent is emitted when a student reaches a new level.
type LevelUpEvent struct {
	BaseEvent
	OldLevel int `json:"old_level"`
	NewLevel int `json:"new_level"`
	TotalXP  int `json:"total_xp"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
		"total_xp":  e.TotalXP,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(studentID string, oldLevel, newLevel, totalXP int) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, studentID),
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		TotalXP:   totalXP,
	}
}

// AchievementUnlockedEvent is emitted once per newly unlocked achievement.
type AchievementUnlockedEvent struct {
	BaseEvent
	Code     string `json:"code"`
	Name     string `json:"name"`
	XPReward int    `json:"xp_reward"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"code":      e.Code,
		"name":      e.Name,
		"xp_reward": e.XPReward,
	}
}

// NewAchievementUnlockedEvent creates a new AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(studentID, code, name string, xpReward int) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent: NewBaseEvent(EventAchievementUnlocked, studentID),
		Code:      code,
		Name:      name,
		XPReward:  xpReward,
	}
}

// StreakBrokenEvent is emitted when a gap reset the attendance streak.
type StreakBrokenEvent struct {
	BaseEvent
	PreviousStreak int `json:"previous_streak"`
	DaysMissed     int `json:"days_missed"`
}

// Payload implements Event interface.
func (e StreakBrokenEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"previous_streak": e.PreviousStreak,
		"days_missed":     e.DaysMissed,
	}
}

// NewStreakBrokenEvent creates a new StreakBrokenEvent.
func NewStreakBrokenEvent(studentID string, previousStreak, daysMissed int) StreakBrokenEvent {
	return StreakBrokenEvent{
		BaseEvent:      NewBaseEvent(EventStreakBroken, studentID),
		PreviousStreak: previousStreak,
		DaysMissed:     daysMissed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards events. Used where no bus is wired.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
