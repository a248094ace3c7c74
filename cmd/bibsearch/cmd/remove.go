package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
	"github.com/Aman-CERP/bibsearch/internal/output"
)

func newRemoveCmd() *cobra.Command {
	var keyless bool

	cmd := &cobra.Command{
		Use:   "remove <key>...",
		Short: "Remove the pages of entries from the index",
		Long: `Remove every indexed page owned by the given citation keys.

Use --keyless to remove the pages of entries that have no citation key.`,
		Example: `  bibsearch remove Smith2020 Doe2019
  bibsearch remove --keyless`,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := args
			if keyless {
				keys = append(keys, "")
			}
			if len(keys) == 0 {
				return bserrors.InvalidArgument("at least one key or --keyless is required")
			}
			return runRemove(cmd.Context(), cmd, keys)
		},
	}

	cmd.Flags().BoolVar(&keyless, "keyless", false, "Also remove pages of entries without a citation key")

	return cmd
}

func runRemove(ctx context.Context, cmd *cobra.Command, keys []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := openIndex(ctx, cfg, openOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	n, err := svc.Remove(ctx, keys)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if n == 0 {
		out.Warning("No indexed pages matched")
		return nil
	}
	out.Success(fmt.Sprintf("Removed %d pages", n))
	return nil
}
