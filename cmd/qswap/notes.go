package main

import (
	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/note"
	"github.com/spf13/cobra"
)

// noteView is a note without its secret.
type noteView struct {
	Commitment common.Felt   `json:"commitment"`
	Nullifier  common.Felt   `json:"nullifier"`
	Amount     common.Amount `json:"amount"`
	Owner      common.Felt   `json:"owner"`
	LeafIndex  uint64        `json:"leaf_index"`
	Spent      bool          `json:"spent"`
}

func viewNote(n *note.Note) noteView {
	return noteView{
		Commitment: n.Commitment,
		Nullifier:  n.Nullifier,
		Amount:     n.Amount,
		Owner:      n.RecipientIdentity,
		LeafIndex:  n.LeafIndex,
		Spent:      n.Spent,
	}
}

func noteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Create and inspect private notes",
	}

	var owner string
	commit := &cobra.Command{
		Use:   "commit <amount>",
		Short: "Commit a new note to the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := common.ParseAmount(args[0])
			if err != nil {
				return err
			}
			var to common.Felt
			if owner != "" {
				to, err = common.ParseFelt(owner)
			} else {
				to, err = a.identity()
			}
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			coord, err := a.coordinator(ctx)
			if err != nil {
				return err
			}
			n, err := coord.CommitNote(ctx, amount, to)
			if err != nil {
				return err
			}
			return printJSON(cmd, viewNote(n))
		},
	}
	commit.Flags().StringVar(&owner, "owner", "", "recipient identity, defaults to this wallet")

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored notes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			coord, err := a.coordinator(ctx)
			if err != nil {
				return err
			}
			notes, err := coord.Engine().ListNotes(ctx)
			if err != nil {
				return err
			}
			views := make([]noteView, 0, len(notes))
			for _, n := range notes {
				if n.Spent && !all {
					continue
				}
				views = append(views, viewNote(n))
			}
			return printJSON(cmd, views)
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include spent notes")

	sync := &cobra.Command{
		Use:   "sync",
		Short: "Pull new ledger leaves into the local accumulator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			coord, err := a.coordinator(ctx)
			if err != nil {
				return err
			}
			added, err := coord.SyncLeaves(ctx)
			if err != nil {
				return err
			}
			root, err := coord.Engine().Accumulator().Root(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"added": added, "root": root})
		},
	}

	cmd.AddCommand(commit, list, sync)
	return cmd
}
