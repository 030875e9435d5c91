package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/vibecheck/internal/app"
	"github.com/felixgeelhaar/vibecheck/internal/domain"
	"github.com/felixgeelhaar/vibecheck/internal/mcp"
	"github.com/felixgeelhaar/vibecheck/internal/ordering"
	"github.com/felixgeelhaar/vibecheck/internal/progression"
	"github.com/felixgeelhaar/vibecheck/internal/scoring"
)

func newScoreCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "score <challenge-id> [text...]",
		Short: "Score a submission against a challenge (reads stdin when no text is given)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := app.LoadCatalog(opts.catalog)
			if err != nil {
				return err
			}

			text := strings.Join(args[1:], " ")
			if text == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read submission: %w", err)
				}
				text = string(data)
			}

			result := scoring.NewEngine(cat).Evaluate(args[0], text)
			return opts.print(cmd.OutOrStdout(), result, func(w io.Writer) {
				verdict := "not passed"
				if result.Passed {
					verdict = "passed"
				}
				fmt.Fprintf(w, "Score: %d/100 (%s)\n", result.Score, verdict)
				fmt.Fprintln(w, result.Feedback)
				if result.Output != "" {
					fmt.Fprintf(w, "\n%s\n", result.Output)
				}
			})
		},
	}
}

func newLevelCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "level <xp>",
		Short: "Show the level and progress for an XP total",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			xp, err := strconv.Atoi(args[0])
			if err != nil {
				return domain.Validationf("xp must be an integer: %q", args[0])
			}
			cat, err := app.LoadCatalog(opts.catalog)
			if err != nil {
				return err
			}
			calc, err := progression.New(cat.Levels())
			if err != nil {
				return err
			}

			number, err := calc.LevelForXP(xp)
			if err != nil {
				return err
			}
			level, err := calc.Level(number)
			if err != nil {
				return err
			}
			prog, err := calc.ProgressToward(xp, number)
			if err != nil {
				return err
			}

			out := mcp.LevelOutput{XP: xp, Level: number, Name: level.Name, Progress: prog}
			return opts.print(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "Level %d: %s\n", number, level.Name)
				if prog.MaxLevel {
					fmt.Fprintf(w, "%s max level\n", renderProgressBar(1, 20))
					return
				}
				fmt.Fprintf(w, "%s %.1f%% (%d/%d XP to level %d)\n",
					renderProgressBar(prog.Percentage/100, 20), prog.Percentage, prog.Current, prog.Needed, number+1)
			})
		},
	}
}

func newShuffleCmd(opts *rootOptions) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "shuffle <seed>",
		Short: "List challenges in the deterministic order for a seed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := app.LoadCatalog(opts.catalog)
			if err != nil {
				return err
			}
			challenges := cat.Challenges()
			if category != "" {
				challenges = cat.ChallengesIn(domain.Category(category))
				if len(challenges) == 0 {
					return domain.Validationf("unknown category %q", category)
				}
			}
			shuffled := ordering.Shuffle(challenges, args[0])
			return opts.print(cmd.OutOrStdout(), shuffled, printChallenges(shuffled))
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "restrict to one category")
	return cmd
}

func newRecommendCmd(opts *rootOptions) *cobra.Command {
	var (
		level int
		n     int
	)
	cmd := &cobra.Command{
		Use:   "recommend <user-id>",
		Short: "Recommend challenges at or below a level for a learner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if n < 1 || n > 50 {
				return domain.Validationf("n must be between 1 and 50")
			}
			cat, err := app.LoadCatalog(opts.catalog)
			if err != nil {
				return err
			}
			picked := ordering.Recommend(cat.Challenges(), level, args[0], n)
			return opts.print(cmd.OutOrStdout(), picked, printChallenges(picked))
		},
	}
	cmd.Flags().IntVar(&level, "level", 1, "learner level")
	cmd.Flags().IntVarP(&n, "count", "n", 3, "number of challenges")
	return cmd
}

func printChallenges(challenges []domain.Challenge) func(io.Writer) {
	return func(w io.Writer) {
		for i, c := range challenges {
			fmt.Fprintf(w, "%2d. %-24s %-14s d%d %4d XP  %s\n",
				i+1, c.ID, c.Category, c.Difficulty, c.XPReward, c.Title)
		}
	}
}
