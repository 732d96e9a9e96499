package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/okian/staffrate/internal/domain/leader"
	"github.com/okian/staffrate/internal/domain/model"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "print the current tally and leader",
		Args:  cobra.NoArgs,
		RunE:  show,
	}
}

func show(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openSharedStore(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	snap, err := store.Snapshot(cmd.Context())
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return printSnapshot(cmd.OutOrStdout(), snap)
}

func printSnapshot(out io.Writer, snap model.Snapshot) error { //nolint:gocritic // hugeParam: read-only
	fmt.Fprintf(out, "version %d\n", snap.Version)

	if best, ok := leader.Select(snap.Entities); ok {
		avg, _ := best.Average()
		fmt.Fprintf(out, "leader %s (%s) %.2f from %d votes\n", best.Name, best.ID, avg, best.VoteCount)
	} else {
		fmt.Fprintf(out, "leader %s\n", leader.PlaceholderName)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVOTES\tSUM\tAVERAGE")
	for _, e := range snap.Entities {
		avg := "-"
		if a, ok := e.Average(); ok {
			avg = fmt.Sprintf("%.2f", a)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", e.ID, e.Name, e.VoteCount, e.RatingSum, avg)
	}
	return tw.Flush()
}
