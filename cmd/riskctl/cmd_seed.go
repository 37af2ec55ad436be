package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/riskcycle/internal/di"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Replace the asset registry with a universe file",
	Long: `Load a YAML universe file, validate every entry and replace the asset
registry in one transaction. An invalid file leaves the registry untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	return withContainer(cmd, func(ctx context.Context, c *di.Container) error {
		n, err := c.AssetRepo.Seed(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Seeded %d assets from %s\n", n, args[0])
		return nil
	})
}
