package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/warp/step-league/batch"
	"github.com/warp/step-league/challenge"
	"github.com/warp/step-league/roster"
)

// =============================================================================
// INGEST
// =============================================================================

func ingestCmd(flags *globalFlags) *cobra.Command {
	var uploadedBy string

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a local .csv or .xlsx batch file",
		Long: `Parse a batch file and replace the stored data for its challenge day.

The file is read in place and left on disk.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(flags)
			if err != nil {
				return err
			}
			defer e.Close()

			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open batch file: %w", err)
			}
			defer f.Close()

			parsed, err := batch.Parse(f, path)
			if err != nil {
				return err
			}
			for _, re := range parsed.Errors {
				fmt.Fprintln(cmd.ErrOrStderr(), "skipped", re)
			}

			pipeline := challenge.NewPipeline(e.store, e.calendar, e.rules, e.log)
			res, err := pipeline.Ingest(cmd.Context(), challenge.Batch{
				FileName:   filepath.Base(path),
				UploadedBy: uploadedBy,
				Rows:       parsed.Rows,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "upload %d: %d rows for %s (day %d)\n",
				res.UploadID, res.RowsProcessed, res.Date, res.ChallengeDay)
			return nil
		},
	}

	cmd.Flags().StringVar(&uploadedBy, "uploaded-by", challenge.DefaultUploader, "Uploader recorded on the upload")

	return cmd
}

// =============================================================================
// SEED
// =============================================================================

func seedCmd(flags *globalFlags) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "seed <roster.yaml>",
		Short: "Upsert teams and users from a roster file",
		Long: `Upsert teams and users from a roster file.

With --reset every upload, score row, team and user is deleted first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := roster.Load(args[0])
			if err != nil {
				return err
			}

			e, err := openEnv(flags)
			if err != nil {
				return err
			}
			defer e.Close()

			if reset {
				if err := e.store.Reset(cmd.Context()); err != nil {
					return fmt.Errorf("reset database: %w", err)
				}
				e.log.Warn("database reset before seeding")
			}
			if err := r.Seed(cmd.Context(), e.store, e.log); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d teams, %d users\n", len(r.Teams), len(r.Users))
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Delete all existing data before seeding")

	return cmd
}

// =============================================================================
// LEADERBOARD
// =============================================================================

func leaderboardCmd(flags *globalFlags) *cobra.Command {
	var (
		date       string
		day        int
		team       bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print a leaderboard",
		Long: `Print the individual or team leaderboard.

With --date or --day the board covers that day only. Without either the
board is aggregated over the whole challenge.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(flags)
			if err != nil {
				return err
			}
			defer e.Close()

			if day != 0 {
				if date != "" {
					return errors.New("use either --date or --day, not both")
				}
				d, ok := e.calendar.DateFor(challenge.ChallengeDay(day))
				if !ok {
					return fmt.Errorf("day %d is outside the challenge (1..%d)", day, e.calendar.Days())
				}
				date = d.String()
			}

			ctx := cmd.Context()
			boards := challenge.NewAggregator(e.store, e.calendar, e.rules)
			out := cmd.OutOrStdout()

			var (
				individual []challenge.IndividualEntry
				teams      []challenge.TeamEntry
			)
			switch {
			case team && date != "":
				teams, err = boards.TeamForDate(ctx, date)
			case team:
				teams, err = boards.AggregatedTeam(ctx)
			case date != "":
				individual, err = boards.IndividualForDate(ctx, date)
			default:
				individual, err = boards.AggregatedIndividual(ctx)
			}
			if err != nil {
				return err
			}

			e.log.Debug("leaderboard printed",
				slog.Bool("team", team),
				slog.String("date", date))

			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if team {
					return enc.Encode(teams)
				}
				return enc.Encode(individual)
			}
			if team {
				return printTeams(out, teams)
			}
			return printIndividual(out, individual)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Day to print (YYYY-MM-DD); omit for the aggregated board")
	cmd.Flags().IntVar(&day, "day", 0, "Challenge day to print (1..N), instead of --date")
	cmd.Flags().BoolVar(&team, "team", false, "Print the team board")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func printIndividual(w io.Writer, entries []challenge.IndividualEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tUSER\tTEAM\tSTEPS\tRUNS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.Rank, e.UserName, e.TeamName, orDash(e.Steps), orDash(e.Runs))
	}
	return tw.Flush()
}

func printTeams(w io.Writer, entries []challenge.TeamEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tTEAM\tSTEPS\tRUNS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Rank, e.TeamName, orDash(e.TotalSteps), orDash(e.TotalRuns))
	}
	return tw.Flush()
}

func orDash(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}
