package postgres

// Migrations returns the schema in apply order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_directory", UpSQL: migration001Up},
		{Version: 2, Name: "create_schedule", UpSQL: migration002Up},
		{Version: 3, Name: "create_progress", UpSQL: migration003Up},
		{Version: 4, Name: "create_gamification", UpSQL: migration004Up},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: STUDENTS & CURRICULUM
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS students (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS courses (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    required_lessons INTEGER NOT NULL DEFAULT 0 CHECK (required_lessons >= 0),
    total_techniques INTEGER NOT NULL DEFAULT 0 CHECK (total_techniques >= 0)
);

CREATE TABLE IF NOT EXISTS techniques (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS lesson_plans (
    id TEXT PRIMARY KEY,
    course_id TEXT NOT NULL REFERENCES courses(id),
    sequence INTEGER NOT NULL CHECK (sequence > 0),
    title TEXT NOT NULL DEFAULT '',
    UNIQUE (course_id, sequence)
);

CREATE TABLE IF NOT EXISTS lesson_plan_techniques (
    lesson_plan_id TEXT NOT NULL REFERENCES lesson_plans(id) ON DELETE CASCADE,
    technique_id TEXT NOT NULL REFERENCES techniques(id),
    position INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (lesson_plan_id, technique_id)
);

CREATE TABLE IF NOT EXISTS course_required_techniques (
    course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    technique_id TEXT NOT NULL REFERENCES techniques(id),
    min_repetitions INTEGER NOT NULL DEFAULT 1 CHECK (min_repetitions > 0),
    PRIMARY KEY (course_id, technique_id)
);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CLASS GROUPS, LESSONS, CHECK-INS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS class_groups (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    course_id TEXT REFERENCES courses(id),
    active BOOLEAN NOT NULL DEFAULT TRUE,
    weekdays SMALLINT NOT NULL DEFAULT 0 CHECK (weekdays >= 0 AND weekdays < 128),
    start_time TEXT NOT NULL DEFAULT '00:00',
    duration_minutes INTEGER NOT NULL DEFAULT 60 CHECK (duration_minutes > 0 AND duration_minutes <= 1440),
    effective_from DATE NOT NULL,
    effective_until DATE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT valid_effective_range CHECK (effective_until IS NULL OR effective_until >= effective_from)
);

CREATE TABLE IF NOT EXISTS enrollments (
    student_id TEXT NOT NULL REFERENCES students(id),
    class_group_id TEXT NOT NULL REFERENCES class_groups(id),
    active BOOLEAN NOT NULL DEFAULT TRUE,
    enrolled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (student_id, class_group_id)
);

CREATE TABLE IF NOT EXISTS lessons (
    id TEXT PRIMARY KEY,
    class_group_id TEXT NOT NULL REFERENCES class_groups(id),
    sequence INTEGER NOT NULL CHECK (sequence > 0),
    title TEXT NOT NULL,
    scheduled_on DATE NOT NULL,
    starts_at TIMESTAMPTZ NOT NULL,
    duration_minutes INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'SCHEDULED',
    lesson_plan_id TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT valid_lesson_status CHECK (status IN ('SCHEDULED', 'COMPLETED', 'CANCELLED')),
    UNIQUE (class_group_id, sequence),
    UNIQUE (class_group_id, scheduled_on)
);

CREATE INDEX IF NOT EXISTS idx_lessons_group_start ON lessons(class_group_id, starts_at);

CREATE TABLE IF NOT EXISTS check_ins (
    id TEXT PRIMARY KEY,
    student_id TEXT NOT NULL,
    lesson_id TEXT NOT NULL REFERENCES lessons(id),
    class_group_id TEXT NOT NULL,
    checked_in_at TIMESTAMPTZ NOT NULL,
    method TEXT NOT NULL,
    presence TEXT NOT NULL,
    location TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT valid_method CHECK (method IN ('MANUAL', 'QR_CODE', 'KIOSK', 'APP')),
    UNIQUE (student_id, lesson_id)
);

CREATE INDEX IF NOT EXISTS idx_check_ins_lesson ON check_ins(lesson_id);
CREATE INDEX IF NOT EXISTS idx_check_ins_student ON check_ins(student_id, checked_in_at);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS progress_applications (
    check_in_id TEXT PRIMARY KEY REFERENCES check_ins(id) ON DELETE CASCADE,
    applied_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS technique_progress (
    student_id TEXT NOT NULL,
    technique_id TEXT NOT NULL,
    practice_count INTEGER NOT NULL DEFAULT 0 CHECK (practice_count >= 0),
    last_practiced_at TIMESTAMPTZ NOT NULL,
    proficiency TEXT NOT NULL,
    PRIMARY KEY (student_id, technique_id)
);

CREATE TABLE IF NOT EXISTS course_progress (
    student_id TEXT NOT NULL,
    course_id TEXT NOT NULL,
    attended_lessons INTEGER NOT NULL DEFAULT 0 CHECK (attended_lessons >= 0),
    last_attended_on DATE,
    PRIMARY KEY (student_id, course_id)
);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: GAMIFICATION
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS game_states (
    student_id TEXT PRIMARY KEY,
    total_xp INTEGER NOT NULL DEFAULT 0 CHECK (total_xp >= 0),
    level INTEGER NOT NULL DEFAULT 1 CHECK (level >= 1),
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    last_streak_date DATE,
    check_ins INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_game_states_xp ON game_states(total_xp DESC, student_id);

CREATE TABLE IF NOT EXISTS points_transactions (
    id TEXT PRIMARY KEY,
    student_id TEXT NOT NULL,
    amount INTEGER NOT NULL,
    reason TEXT NOT NULL,
    check_in_id TEXT,
    achievement_code TEXT,
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT valid_reason CHECK (reason IN ('CHECK_IN', 'ACHIEVEMENT', 'REPAIR'))
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_points_transactions_check_in
    ON points_transactions(check_in_id) WHERE check_in_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_points_transactions_student ON points_transactions(student_id, created_at);

CREATE TABLE IF NOT EXISTS achievement_unlocks (
    student_id TEXT NOT NULL,
    code TEXT NOT NULL,
    unlocked_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (student_id, code)
);
`

