package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"sheetsync/internal/client"
	"sheetsync/internal/core"
	"sheetsync/internal/services"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local working copy",
	RunE: func(cmd *cobra.Command, args []string) error {
		st := orch.Snapshot()
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "State:        %s\n", orch.State())
		fmt.Fprintf(out, "Pending:      %d\n", st.PendingCount())
		fmt.Fprintf(out, "Conflicts:    %d\n", st.Conflicts.Count())
		if st.LastSynced.IsZero() {
			fmt.Fprintln(out, "Last synced:  never")
		} else {
			fmt.Fprintf(out, "Last synced:  %s\n", st.LastSynced.Local().Format(time.RFC1123))
		}
		if st.LastError != "" {
			fmt.Fprintf(out, "Last error:   %s\n", st.LastError)
		}

		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "COLLECTION\tTOTAL\tDELETED")
		counts := st.Data.Counts()
		for _, c := range allCollections {
			fmt.Fprintf(w, "%s\t%d\t%d\n", c, counts[c].Total, counts[c].Deleted)
		}
		return w.Flush()
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Pull the server snapshot, keeping pending local edits",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := orch.Refresh(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Refreshed.")
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push the working copy to the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := orch.Sync(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if result.Outcome == services.OutcomeConflict {
			fmt.Fprintf(out, "Conflicts on %d records, run 'sheetsync-cli resolve':\n", result.Conflicts.Count())
			printConflicts(cmd, orch.Snapshot().Conflicts)
			return nil
		}
		fmt.Fprintln(out, "Synced.")
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [collection id]",
	Short: "Settle held conflicts",
	Long: `Settle held conflicts by taking the server copy or keeping the local one.

  sheetsync-cli resolve --all --choice server
  sheetsync-cli resolve categories cat_1 --choice local

Without arguments and without --all the held conflicts are listed.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("expected a collection and an id, got %d arguments", len(args))
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		raw, _ := cmd.Flags().GetString("choice")

		if len(args) == 0 && !all {
			printConflicts(cmd, orch.Snapshot().Conflicts)
			return nil
		}

		choice, err := client.ParseChoice(raw)
		if err != nil {
			return err
		}

		if all {
			err = orch.ResolveAll(cmd.Context(), choice)
		} else {
			var c core.Collection
			if c, err = parseCollection(args[0]); err != nil {
				return err
			}
			err = orch.Resolve(cmd.Context(), c, args[1], choice)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Resolved. %d conflicts left, %d records pending.\n",
			orch.Snapshot().Conflicts.Count(), orch.PendingCount())
		return nil
	},
}

var recurringCmd = &cobra.Command{
	Use:   "recurring",
	Short: "Create the transactions due from recurring templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := orch.ProcessRecurring(cmd.Context(), time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %d transactions from %d templates.\n",
			len(run.Transactions), len(run.Templates))
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <collection> <id>",
	Short: "Mark a record deleted",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := parseCollection(args[0])
		if err != nil {
			return err
		}
		if err := orch.Delete(cmd.Context(), c, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %s locally; run 'sheetsync-cli sync' to push.\n", c, args[1])
		return nil
	},
}

var tagCmd = &cobra.Command{
	Use:   "tag <name>",
	Short: "Create a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, err := orch.SaveTag(cmd.Context(), core.Tag{Name: args[0]})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created tag %s.\n", tag.ID)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sync in the foreground until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		noRecurring, _ := cmd.Flags().GetBool("no-recurring")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		auto := client.NewAutoSync(orch, client.AutoSyncConfig{
			Interval:  interval,
			Recurring: !noRecurring,
		})
		if err := auto.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Watching every %s, press Ctrl+C to stop...\n", interval)

		<-ctx.Done()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		return auto.Stop(stopCtx)
	},
}

func init() {
	resolveCmd.Flags().String("choice", string(client.TakeServer), "server or local")
	resolveCmd.Flags().Bool("all", false, "apply the choice to every held conflict")

	watchCmd.Flags().Duration("interval", client.DefaultAutoSyncConfig().Interval, "time between cycles")
	watchCmd.Flags().Bool("no-recurring", false, "do not create due recurring transactions")

	rootCmd.AddCommand(statusCmd, refreshCmd, syncCmd, resolveCmd, recurringCmd, deleteCmd, tagCmd, watchCmd)
}

var allCollections = []core.Collection{
	core.Categories, core.Transactions, core.Recurring,
	core.Tags, core.Users, core.UserSettings,
}

func parseCollection(s string) (core.Collection, error) {
	for _, c := range allCollections {
		if strings.EqualFold(s, string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown collection %q", s)
}

func printConflicts(cmd *cobra.Command, held services.Conflicts) {
	if held.Empty() {
		fmt.Fprintln(cmd.OutOrStdout(), "No conflicts.")
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COLLECTION\tID\tSERVER VERSION")
	for _, r := range held.Categories {
		fmt.Fprintf(w, "%s\t%s\t%d\n", core.Categories, r.Key(), r.Version)
	}
	for _, r := range held.Transactions {
		fmt.Fprintf(w, "%s\t%s\t%d\n", core.Transactions, r.Key(), r.Version)
	}
	for _, r := range held.Recurring {
		fmt.Fprintf(w, "%s\t%s\t%d\n", core.Recurring, r.Key(), r.Version)
	}
	for _, r := range held.Tags {
		fmt.Fprintf(w, "%s\t%s\t%d\n", core.Tags, r.Key(), r.Version)
	}
	_ = w.Flush()
}
