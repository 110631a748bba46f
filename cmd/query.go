package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/matluuk/linkscluster/pkg/config"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query <cluster-id> [subcluster-index]",
	Short: "Look up a persisted cluster or sub-cluster",
	Long: `Opens a configured store and prints the persisted document for one
cluster, or one sub-cluster within it when a zero-based index is given.

Example:
  linkscluster query --store sqlite --store-path clusters.db 6ba7b810-9dad-11d1-80b4-00c04fd430c8
  linkscluster query --store sqlite --store-path clusters.db 6ba7b810-9dad-11d1-80b4-00c04fd430c8 2`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().String("store", "memory", "store backend to query: memory, sqlite")
	queryCmd.Flags().String("store-path", "", "sqlite file path (when --store sqlite)")
}

func runQuery(cmd *cobra.Command, args []string) error {
	storeBackend, _ := cmd.Flags().GetString("store")
	storePath, _ := cmd.Flags().GetString("store-path")

	clusterID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid cluster id %q: %w", args[0], err)
	}

	st, err := buildStore(config.StoreConfig{Backend: storeBackend, Path: storePath})
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()

	if len(args) == 2 {
		index, err := parseIndex(args[1])
		if err != nil {
			return err
		}
		doc, err := st.GetSubcluster(ctx, clusterID, index)
		if err != nil {
			return fmt.Errorf("get sub-cluster: %w", err)
		}
		return printJSON(doc)
	}

	doc, err := st.Get(ctx, clusterID)
	if err != nil {
		return fmt.Errorf("get cluster: %w", err)
	}
	return printJSON(doc)
}

func parseIndex(raw string) (int, error) {
	var index int
	if _, err := fmt.Sscanf(raw, "%d", &index); err != nil {
		return 0, fmt.Errorf("invalid sub-cluster index %q: %w", raw, err)
	}
	return index, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
