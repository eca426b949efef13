package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lueurxax/hotspot-engine/internal/core/ports"
	"github.com/lueurxax/hotspot-engine/internal/core/textnorm"
	"github.com/lueurxax/hotspot-engine/internal/process/cluster"
	"github.com/lueurxax/hotspot-engine/internal/process/lifecycle"
)

// operator holds the components the commands drive.
type operator struct {
	clusters  *cluster.Manager
	lifecycle *lifecycle.Machine
	embedder  ports.Embedder
	close     func()
}

type openFunc func(ctx context.Context, verbose bool) (*operator, error)

func newRootCmd(open openFunc) *cobra.Command {
	var (
		verbose bool
		op      *operator
	)

	root := &cobra.Command{
		Use:           "hotspotctl",
		Short:         "Operator actions for the hotspot engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			o, err := open(cmd.Context(), verbose)
			if err != nil {
				return err
			}

			op = o

			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if op != nil && op.close != nil {
				op.close()
			}
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	get := func() *operator { return op }

	root.AddCommand(
		newMergeCmd(get),
		newSplitCmd(get),
		newRepCmd(get),
		newDeleteCmd(get),
		newRenameCmd(get),
		newRelinkCmd(get),
		newRejectCmd(get),
	)

	return root
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}

	return nil
}

func newMergeCmd(op func() *operator) *cobra.Command {
	var name, rep string

	cmd := &cobra.Command{
		Use:   "merge CLUSTER_ID CLUSTER_ID...",
		Short: "Merge clusters into the first one",
		Long: `Merge folds every listed cluster into the first. The merged cluster keeps
the first cluster's id; --name and --rep override its name and representative.

Examples:
  hotspotctl merge c1 c2
  hotspotctl merge c1 c2 c3 --name "camping" --rep h42`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := op().clusters.Merge(cmd.Context(), args, name, rep)
			if err != nil {
				return err
			}

			return printJSON(cmd, map[string]string{"cluster_id": id})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Name of the merged cluster")
	cmd.Flags().StringVar(&rep, "rep", "", "Representative hotspot id")

	return cmd
}

func newSplitCmd(op func() *operator) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "split CLUSTER_ID HOTSPOT_ID...",
		Short: "Remove hotspots from a cluster",
		Long: `Split removes the listed hotspots from the cluster. One removed hotspot
becomes clusterless; several form a new cluster. Removing every member is refused.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := op().clusters.Split(cmd.Context(), args[0], args[1:], name)
			if err != nil {
				return err
			}

			return printJSON(cmd, map[string]interface{}{
				"new_cluster_id": res.NewClusterID,
				"ungrouped":      res.Ungrouped,
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Name of the new cluster")

	return cmd
}

func newRepCmd(op func() *operator) *cobra.Command {
	return &cobra.Command{
		Use:   "rep CLUSTER_ID HOTSPOT_ID",
		Short: "Select the representative hotspot of a cluster",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := op().clusters.SetRepresentative(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}

			return printJSON(cmd, map[string]string{"cluster_id": args[0], "representative": args[1]})
		},
	}
}

func newDeleteCmd(op func() *operator) *cobra.Command {
	return &cobra.Command{
		Use:   "delete CLUSTER_ID",
		Short: "Delete a cluster and leave its members clusterless",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := op().clusters.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}

			return printJSON(cmd, map[string]string{"deleted": args[0]})
		},
	}
}

func newRenameCmd(op func() *operator) *cobra.Command {
	return &cobra.Command{
		Use:   "rename CLUSTER_ID NAME",
		Short: "Rename a cluster",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := op().clusters.Rename(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}

			return printJSON(cmd, map[string]string{"cluster_id": args[0], "name": args[1]})
		},
	}
}

func newRelinkCmd(op func() *operator) *cobra.Command {
	return &cobra.Command{
		Use:   "relink SOURCE_HOTSPOT_ID KEYWORD",
		Short: "Create a hotspot for a new keyword in the source's cluster",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o := op()
			keyword := textnorm.Clean(args[1])

			vec, err := o.embedder.GetEmbedding(cmd.Context(), keyword)
			if err != nil {
				return fmt.Errorf("embedding %q: %w", keyword, err)
			}

			h, err := o.lifecycle.Relink(cmd.Context(), lifecycle.RelinkRequest{
				SourceID:  args[0],
				Keyword:   keyword,
				Embedding: vec,
			})
			if err != nil {
				return err
			}

			return printJSON(cmd, map[string]string{
				"hotspot_id": h.ID,
				"keyword":    h.Keyword,
				"cluster_id": h.ClusterID,
				"status":     string(h.Status),
			})
		},
	}
}

func newRejectCmd(op func() *operator) *cobra.Command {
	return &cobra.Command{
		Use:   "reject HOTSPOT_ID REASON",
		Short: "Reject a pending hotspot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := op().lifecycle.Reject(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			return printJSON(cmd, map[string]interface{}{"hotspot_id": args[0], "rejected": ok})
		},
	}
}
