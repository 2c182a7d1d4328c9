package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/callingjournal/internal/events"
)

var (
	repairLimit   int
	repairOwner   int64
	repairJournal int64
	repairAction  string
	repairAsync   bool
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Re-index unindexed journals or rescore/retag one journal",
	Long: `Without --journal, indexes journals that were saved without a retrieval
reference. With --owner and --journal, re-runs emotion scoring (--action rescore)
or topic extraction (--action retag) for that journal. With --async the request
is published on NATS for a running journald serve instead.`,
	RunE: runRepair,
}

func init() {
	repairCmd.Flags().IntVar(&repairLimit, "limit", 100, "maximum journals to re-index")
	repairCmd.Flags().Int64Var(&repairOwner, "owner", 0, "owner of the journal to correct")
	repairCmd.Flags().Int64Var(&repairJournal, "journal", 0, "journal to correct")
	repairCmd.Flags().StringVar(&repairAction, "action", "rescore", "rescore or retag")
	repairCmd.Flags().BoolVar(&repairAsync, "async", false, "publish the request to a running server over NATS")
}

func repairRequest() events.MaintenanceRequest {
	if repairJournal == 0 {
		return events.MaintenanceRequest{Action: events.ActionReindex}
	}
	return events.MaintenanceRequest{
		Action:    events.MaintenanceAction(repairAction),
		OwnerID:   repairOwner,
		JournalID: repairJournal,
	}
}

func runRepair(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx, cfg, repairAsync)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if repairAsync {
		if a.events == nil {
			return errors.New("--async needs a reachable NATS_URL")
		}
		req := repairRequest()
		if err := a.events.RequestMaintenance(req); err != nil {
			return err
		}
		if err := a.events.Flush(ctx); err != nil {
			return fmt.Errorf("flush maintenance request: %w", err)
		}
		fmt.Fprintf(out, "queued %s\n", req.Action)
		return nil
	}

	if repairJournal == 0 {
		res, err := a.maint.Repair(ctx, repairLimit)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "scanned %d, indexed %d, failures %d\n", res.Scanned, res.Indexed, res.Failures)
		return nil
	}

	if repairOwner == 0 {
		return fmt.Errorf("--owner is required with --journal")
	}
	switch repairAction {
	case "rescore":
		e, err := a.maint.Rescore(ctx, repairOwner, repairJournal)
		if err != nil {
			return err
		}
		for _, s := range e.Ranked() {
			fmt.Fprintf(out, "%-12s %.2f\n", s.Name, s.Score)
		}
	case "retag":
		topics, err := a.maint.Retag(ctx, repairOwner, repairJournal)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, topics.String())
	default:
		return fmt.Errorf("unknown action %q", repairAction)
	}
	return nil
}
