package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartdefence/academy-hub/internal/application/command"
	"github.com/smartdefence/academy-hub/internal/application/query"
	"github.com/smartdefence/academy-hub/internal/domain/schedule"
	"github.com/smartdefence/academy-hub/internal/domain/shared"
	"github.com/smartdefence/academy-hub/pkg/timeutil"
)

const rule = "─"

// ══════════════════════════════════════════════════════════════════════════════
// migrate
// ══════════════════════════════════════════════════════════════════════════════

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), cmd, openOptions{migrate: true})
		if err != nil {
			return err
		}
		defer rt.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", rt.backend.Driver)
		return nil
	},
}

// ══════════════════════════════════════════════════════════════════════════════
// expand
// ══════════════════════════════════════════════════════════════════════════════

var expandCmd = &cobra.Command{
	Use:   "expand <class-group-id>",
	Short: "Preview the lessons a class group's schedule asks for",
	Long:  "expand prints the candidate lessons of the stored schedule without touching the lesson table.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), cmd, openOptions{})
		if err != nil {
			return err
		}
		defer rt.Close()

		group, err := rt.backend.ClassGroups.GetByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		loc := timeutil.Location()
		horizon := schedule.ResolveHorizon(group.Schedule, time.Now(), rt.cfg.Schedule.HorizonDays, loc)
		if v, _ := cmd.Flags().GetString("from"); v != "" {
			if horizon.From, err = shared.ParseDate(v); err != nil {
				return err
			}
		}
		if v, _ := cmd.Flags().GetString("to"); v != "" {
			if horizon.To, err = shared.ParseDate(v); err != nil {
				return err
			}
		}

		res := schedule.Expand(group.Schedule, horizon, 1, loc)
		printCandidates(cmd.OutOrStdout(), group, res)
		return nil
	},
}

func printCandidates(w io.Writer, group *schedule.ClassGroup, res schedule.ExpansionResult) {
	fmt.Fprintf(w, "%s (%s) %s %s, %s\n", group.Name, group.ID,
		group.Schedule.Weekdays, group.Schedule.StartTime, group.Schedule.Duration)
	fmt.Fprintf(w, "%5s  %-10s  %-9s  %-5s  %-5s\n", "Seq", "Date", "Weekday", "Start", "End")
	fmt.Fprintln(w, strings.Repeat(rule, 42))
	for _, c := range res.Candidates {
		fmt.Fprintf(w, "%5d  %-10s  %-9s  %-5s  %-5s\n",
			c.Sequence, c.Date, c.Date.Weekday(), c.StartsAt.Format("15:04"), c.EndsAt().Format("15:04"))
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	fmt.Fprintf(w, "\n%d lessons\n", len(res.Candidates))
}

// ══════════════════════════════════════════════════════════════════════════════
// reconcile
// ══════════════════════════════════════════════════════════════════════════════

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <class-group-id>",
	Short: "Bring a class group's lessons in line with its schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), cmd, openOptions{})
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := rt.svc.Reconcile.Handle(cmd.Context(), command.ReconcileScheduleCommand{ClassGroupID: args[0]})
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "inserted %d, deleted %d, kept %d, protected %d, past %d\n",
			res.Inserted, res.Deleted, res.Kept, res.Protected, res.Past)
		if res.Blocked > 0 || res.SkippedDeletes > 0 || res.Conflicts > 0 {
			fmt.Fprintf(w, "blocked %d, skipped deletes %d, conflicts %d\n",
				res.Blocked, res.SkippedDeletes, res.Conflicts)
		}
		for _, warn := range res.Warnings {
			fmt.Fprintf(w, "warning: %s\n", warn)
		}
		return nil
	},
}

// ══════════════════════════════════════════════════════════════════════════════
// check-in
// ══════════════════════════════════════════════════════════════════════════════

var checkInCmd = &cobra.Command{
	Use:   "check-in <student-id> <lesson-id>",
	Short: "Record attendance for a student",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), cmd, openOptions{})
		if err != nil {
			return err
		}
		defer rt.Close()

		method, _ := cmd.Flags().GetString("method")
		token, _ := cmd.Flags().GetString("qr")
		notes, _ := cmd.Flags().GetString("notes")
		c := command.CheckInCommand{
			StudentID: args[0],
			LessonID:  args[1],
			Method:    strings.ToUpper(method),
			QRToken:   token,
			Notes:     notes,
		}
		if at, _ := cmd.Flags().GetString("at"); at != "" {
			if c.Timestamp, err = time.Parse(time.RFC3339, at); err != nil {
				return fmt.Errorf("--at must be RFC 3339: %w", err)
			}
		}

		res, err := rt.svc.CheckIn.Handle(cmd.Context(), c)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "check-in %s: %s at %s (%s)\n", res.CheckIn.ID, res.CheckIn.Presence,
			res.CheckIn.CheckedInAt.In(timeutil.Location()).Format("2006-01-02 15:04"), res.CheckIn.Method)
		if f := res.Fanout; f != nil {
			fmt.Fprintf(w, "techniques practiced %d, mastered %d\n", len(f.Techniques), f.MasteredTechniques)
			if g := f.Gamification; g != nil {
				fmt.Fprintf(w, "+%d XP, total %d, level %d, streak %d\n", g.XPGained, g.TotalXP, g.Level, g.CurrentStreak)
				for _, a := range g.Achievements {
					fmt.Fprintf(w, "achievement unlocked: %s\n", a.Name)
				}
			}
		}
		if res.FanoutError != nil {
			fmt.Fprintf(w, "warning: %v (run `academyctl repair %s`)\n", res.FanoutError, res.CheckIn.StudentID)
		}
		return nil
	},
}

// ══════════════════════════════════════════════════════════════════════════════
// repair
// ══════════════════════════════════════════════════════════════════════════════

var repairCmd = &cobra.Command{
	Use:   "repair [student-id]",
	Short: "Apply check-ins that are missing from progress or game state",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), cmd, openOptions{})
		if err != nil {
			return err
		}
		defer rt.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		c := command.RepairGameStateCommand{Limit: limit}
		if len(args) == 1 {
			c.StudentID = args[0]
		}

		res, err := rt.svc.Repair.Handle(cmd.Context(), c)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, r := range res.Repaired {
			fmt.Fprintf(w, "%-36s  progress +%d  ledger +%d  XP %d -> %d\n",
				r.StudentID, r.ProgressApplied, r.Appended, r.XPBefore, r.XPAfter)
		}
		for id, ferr := range res.Failed {
			fmt.Fprintf(w, "%-36s  failed: %v\n", id, ferr)
		}
		fmt.Fprintf(w, "\nexamined %d, repaired %d, failed %d\n", res.Examined, len(res.Repaired), len(res.Failed))
		if len(res.Failed) > 0 {
			return fmt.Errorf("%d students could not be repaired", len(res.Failed))
		}
		return nil
	},
}

// ══════════════════════════════════════════════════════════════════════════════
// leaderboard
// ══════════════════════════════════════════════════════════════════════════════

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Show the XP leaderboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), cmd, openOptions{})
		if err != nil {
			return err
		}
		defer rt.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		student, _ := cmd.Flags().GetString("student")
		res, err := rt.svc.Leaderboard.Handle(cmd.Context(), query.GetLeaderboardQuery{Limit: limit, StudentID: student})
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%4s  %-36s  %7s  %5s\n", "Rank", "Student", "XP", "Level")
		fmt.Fprintln(w, strings.Repeat(rule, 58))
		for _, e := range res.Entries {
			fmt.Fprintf(w, "%4d  %-36s  %7d  %5d\n", e.Rank, e.StudentID, e.XP, e.Level)
		}
		fmt.Fprintf(w, "\nsource: %s\n", res.Source)
		if res.StudentRank > 0 {
			fmt.Fprintf(w, "%s is #%d\n", student, res.StudentRank)
		}
		return nil
	},
}

func init() {
	expandCmd.Flags().String("from", "", "First day to preview (YYYY-MM-DD)")
	expandCmd.Flags().String("to", "", "Last day to preview (YYYY-MM-DD)")

	checkInCmd.Flags().String("method", "MANUAL", "MANUAL, QR_CODE, KIOSK or APP")
	checkInCmd.Flags().String("qr", "", "QR token for QR_CODE check-ins")
	checkInCmd.Flags().String("notes", "", "Free-form note stored with the check-in")
	checkInCmd.Flags().String("at", "", "Check-in instant (RFC 3339); defaults to now")

	repairCmd.Flags().Int("limit", 0, "Maximum students to examine (0 uses the default batch)")

	leaderboardCmd.Flags().Int("limit", 10, "Number of entries")
	leaderboardCmd.Flags().String("student", "", "Also report this student's rank")
}
