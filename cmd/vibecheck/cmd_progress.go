package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/vibecheck/internal/domain"
	"github.com/felixgeelhaar/vibecheck/internal/progress"
)

// operator is the principal for local CLI writes.
var operator = domain.Principal{UserID: "cli", Role: domain.RoleAdmin}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newEnrollCmd(opts *rootOptions) *cobra.Command {
	var req progress.EnrollRequest
	cmd := &cobra.Command{
		Use:   "enroll <user-id>",
		Short: "Create a learner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			req.UserID = args[0]
			user, err := a.Coordinator.Enroll(cmd.Context(), operator, req)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), user, func(w io.Writer) {
				fmt.Fprintf(w, "Enrolled %s at level %d with %d XP\n", user.UserID, user.Level, user.XP)
			})
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "email for notifications")
	cmd.Flags().StringVar(&req.Name, "name", "", "display name")
	cmd.Flags().StringVar(&req.Timezone, "timezone", "", "IANA timezone")
	cmd.Flags().Var(roleValue{&req.Role}, "role", "user or admin")
	return cmd
}

func newCompleteCmd(opts *rootOptions) *cobra.Command {
	var (
		xp      int
		score   int
		text    string
		elapsed time.Duration
	)
	cmd := &cobra.Command{
		Use:   "complete <user-id> <challenge-id>",
		Short: "Record a completed challenge and award XP",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("xp") {
				if ch, ok := a.Catalog.Challenge(args[1]); ok {
					xp = ch.XPReward
				}
			}
			switch {
			case cmd.Flags().Changed("text"):
				res := a.Scorer.Evaluate(args[1], text)
				if !res.Passed {
					return fmt.Errorf("%s (score %d): %w", res.Feedback, res.Score, domain.ErrNotPassed)
				}
				score = res.Score
			case !cmd.Flags().Changed("score"):
				return domain.Validationf("either --text or --score is required")
			}
			result, err := a.Coordinator.RecordCompletion(cmd.Context(), operator, progress.CompletionRequest{
				UserID:      args[0],
				ChallengeID: args[1],
				XPEarned:    xp,
				Score:       score,
				Elapsed:     elapsed,
				SubmittedAt: time.Now(),
			})
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), result, func(w io.Writer) {
				if result.AlreadyCompleted {
					fmt.Fprintf(w, "Already completed; XP unchanged at %d\n", result.NewXP)
					return
				}
				fmt.Fprintf(w, "XP: %d  Level: %d  Streak: %d day(s)\n", result.NewXP, result.NewLevel, result.StreakDays)
				for _, id := range result.Unlocked {
					fmt.Fprintf(w, "Unlocked achievement: %s\n", id)
				}
				if result.BonusXP > 0 {
					fmt.Fprintf(w, "Bonus XP: %d\n", result.BonusXP)
				}
			})
		},
	}
	cmd.Flags().IntVar(&xp, "xp", 0, "XP earned (defaults to the challenge reward)")
	cmd.Flags().StringVar(&text, "text", "", "submission text, scored against the challenge rubric")
	cmd.Flags().IntVar(&score, "score", 0, "recorded score 0-100, when the submission was scored elsewhere")
	cmd.MarkFlagsMutuallyExclusive("text", "score")
	cmd.Flags().DurationVar(&elapsed, "elapsed", 0, "time taken, for timed challenges")
	return cmd
}

func newAuditCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "audit [user-id]",
		Short: "Check stored XP and levels against their sources",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			results := map[string]error{}
			if len(args) == 1 {
				results[args[0]] = a.Coordinator.Audit(cmd.Context(), args[0])
			} else if results, err = a.Coordinator.AuditAll(cmd.Context()); err != nil {
				return err
			}

			ids := make([]string, 0, len(results))
			violations := map[string]string{}
			for id, err := range results {
				ids = append(ids, id)
				if err != nil {
					violations[id] = err.Error()
				}
			}
			sort.Strings(ids)

			out := map[string]any{"checked": len(results), "violations": violations}
			if err := opts.print(cmd.OutOrStdout(), out, func(w io.Writer) {
				for _, id := range ids {
					if msg, bad := violations[id]; bad {
						fmt.Fprintf(w, "FAIL %s: %s\n", id, msg)
					} else {
						fmt.Fprintf(w, "ok   %s\n", id)
					}
				}
				fmt.Fprintf(w, "%d checked, %d inconsistent\n", len(results), len(violations))
			}); err != nil {
				return err
			}
			if len(violations) > 0 {
				return errors.New("audit found inconsistent learners")
			}
			return nil
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending storage migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "%s store is up to date\n", a.Config.Storage.Driver)
			return nil
		},
	}
}

// roleValue adapts domain.Role to a pflag.Value.
type roleValue struct{ role *domain.Role }

func (r roleValue) String() string {
	if r.role == nil {
		return ""
	}
	return string(*r.role)
}

func (r roleValue) Set(s string) error {
	switch domain.Role(s) {
	case domain.RoleUser, domain.RoleAdmin:
		*r.role = domain.Role(s)
		return nil
	}
	return fmt.Errorf("role must be %q or %q", domain.RoleUser, domain.RoleAdmin)
}

func (r roleValue) Type() string { return "role" }
