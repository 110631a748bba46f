package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matluuk/linkscluster/pkg/config"
	"github.com/matluuk/linkscluster/pkg/linkscluster"
	"github.com/matluuk/linkscluster/pkg/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Replay a JSONL file of vectors through the clustering engine",
	Long: `Reads a JSONL file of vectors and feeds them, in file order, through a
fresh in-process engine's Predict, then reports how the population landed
without persisting or mirroring anything.

Example:
  linkscluster analyze --file data.jsonl --cluster-sim 0.7

The three thresholds control how eagerly vectors merge:
  - cluster-sim (S): base adjacency threshold between two singletons
  - subcluster-sim (sigma): direct-absorption threshold
  - pair-sim-max (M): asymptotic adjacency threshold as populations grow`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringP("file", "f", "", "path to JSONL file containing vectors (required)")
	analyzeCmd.Flags().Float64("cluster-sim", 0.7, "base cluster-adjacency threshold (S)")
	analyzeCmd.Flags().Float64("subcluster-sim", 0.75, "sub-cluster absorption threshold (sigma)")
	analyzeCmd.Flags().Float64("pair-sim-max", 0.99, "asymptotic adjacency threshold (M)")

	_ = analyzeCmd.MarkFlagRequired("file")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	filePath, _ := cmd.Flags().GetString("file")
	clusterSim, _ := cmd.Flags().GetFloat64("cluster-sim")
	subclusterSim, _ := cmd.Flags().GetFloat64("subcluster-sim")
	pairSimMax, _ := cmd.Flags().GetFloat64("pair-sim-max")
	verbose := viper.GetBool("verbose")

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
		cancel()
	}()

	if verbose {
		fmt.Fprintf(os.Stderr, "Loading vectors from %s...\n", filePath)
	}

	loadStart := time.Now()
	vectors, err := loadVectorsFromFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to load vectors: %w", err)
	}
	loadDuration := time.Since(loadStart)

	if len(vectors) == 0 {
		fmt.Println("No vectors found in file.")
		return nil
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "Loaded %d vectors in %v\n", len(vectors), loadDuration)
		fmt.Fprintf(os.Stderr, "Vector dimension: %d\n", vectors[0].Dimension())
	}

	engine, err := buildEngine(config.EngineConfig{
		ClusterSim:    clusterSim,
		SubclusterSim: subclusterSim,
		PairSimMax:    pairSimMax,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	var predicted, failed int
	replayStart := time.Now()

	for _, v := range vectors {
		if _, err := engine.Predict(v.Values, time.Now()); err != nil {
			if verbose {
				fmt.Fprintf(os.Stderr, "Warning: predict failed for %s: %v\n", v.ID, err)
			}
			failed++
			continue
		}
		predicted++
	}

	replayDuration := time.Since(replayStart)

	stats := computeGraphStats(engine)
	printAnalysisReport(stats, len(vectors), predicted, failed, replayDuration)

	return nil
}

// graphStats summarizes the sub-cluster adjacency graph a replay produced.
type graphStats struct {
	ClusterCount    int
	SubclusterCount int
	MinClusterSize  int
	MaxClusterSize  int
	TotalEdges      int
	PossibleEdges   int
}

// computeGraphStats walks every live cluster and tallies its sub-cluster
// count and internal edge count. Edges are counted once per pair: each
// sub-cluster's neighbor set contributes half of every edge it touches.
func computeGraphStats(engine *linkscluster.Engine) graphStats {
	var g graphStats
	clusters := engine.Clusters()
	g.ClusterCount = len(clusters)
	for _, cl := range clusters {
		view := cl.View()
		size := len(view.Subclusters)
		g.SubclusterCount += size
		if g.MinClusterSize == 0 || size < g.MinClusterSize {
			g.MinClusterSize = size
		}
		if size > g.MaxClusterSize {
			g.MaxClusterSize = size
		}
		edgesInCluster := 0
		for _, sc := range view.Subclusters {
			edgesInCluster += len(sc.ConnectedSubclusters)
		}
		g.TotalEdges += edgesInCluster / 2
		g.PossibleEdges += size * (size - 1) / 2
	}
	return g
}

// EdgeDensity returns the fraction of possible intra-cluster edges that
// actually exist, or 0 if there is no room for an edge at all.
func (g graphStats) EdgeDensity() float64 {
	if g.PossibleEdges == 0 {
		return 0
	}
	return float64(g.TotalEdges) / float64(g.PossibleEdges)
}

func loadVectorsFromFile(filePath string) ([]types.Vector, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var vectors []types.Vector
	scanner := bufio.NewScanner(file)

	// Increase buffer for large lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var v struct {
			ID       string                 `json:"id"`
			Values   []float32              `json:"values"`
			Metadata map[string]interface{} `json:"metadata,omitempty"`
		}

		if err := json.Unmarshal(line, &v); err != nil {
			// Skip malformed lines but warn
			fmt.Fprintf(os.Stderr, "Warning: skipping malformed line %d: %v\n", lineNum, err)
			continue
		}

		if v.ID == "" || len(v.Values) == 0 {
			continue
		}

		vectors = append(vectors, types.Vector{
			ID:       v.ID,
			Values:   v.Values,
			Metadata: v.Metadata,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return vectors, nil
}

func printAnalysisReport(stats graphStats, total, predicted, failed int, duration time.Duration) {
	fmt.Println()
	fmt.Println("=== Clustering Replay Analysis ===")
	fmt.Println()
	fmt.Printf("Total vectors replayed:  %d\n", total)
	fmt.Printf("Successfully predicted:  %d\n", predicted)
	fmt.Printf("Failed:                  %d\n", failed)
	fmt.Printf("Processing time:         %v\n", duration.Round(time.Millisecond))
	fmt.Println()
	fmt.Printf("Clusters formed:         %d\n", stats.ClusterCount)
	fmt.Printf("Sub-clusters formed:     %d\n", stats.SubclusterCount)
	if stats.ClusterCount > 0 {
		fmt.Printf("Cluster size range:      %d - %d sub-clusters\n", stats.MinClusterSize, stats.MaxClusterSize)
	}
	fmt.Printf("Intra-cluster edges:     %d\n", stats.TotalEdges)
	fmt.Printf("Edge density:            %.1f%%\n", stats.EdgeDensity()*100)
	fmt.Println()

	if stats.ClusterCount > 0 && predicted > 0 {
		avg := float64(predicted) / float64(stats.ClusterCount)
		fmt.Printf("Average vectors/cluster: %.1f\n", avg)
	}
}
