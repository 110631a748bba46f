package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/matluuk/linkscluster/pkg/config"
	"github.com/matluuk/linkscluster/pkg/linkscluster"
	"github.com/matluuk/linkscluster/pkg/mirror"
	"github.com/matluuk/linkscluster/pkg/retriever"
	"github.com/matluuk/linkscluster/pkg/store"
	"github.com/matluuk/linkscluster/pkg/types"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay a vector population through the clustering engine",
	Long: `Reads a population of vectors, either from a JSONL file or by paging
through a configured retriever.Source, and feeds them in order through a
fresh engine's Predict. The resulting sub-cluster centroids are then
pushed to a configured mirror with a pool of concurrent workers.

Example:
  linkscluster sync --file data.jsonl --store sqlite --store-path clusters.db
  linkscluster sync --source pinecone --source-index my-index --mirror pinecone --mirror-index my-centroids --mirror-namespace prod

Environment Variables:
  PINECONE_API_KEY   required when --source or --mirror is pinecone
  QDRANT_API_KEY      API key used when --source or --mirror is qdrant`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringP("file", "f", "", "path to JSONL file containing vectors (mutually exclusive with --source)")
	syncCmd.Flags().String("source", "", "retriever backend to replay from: pinecone, qdrant")
	syncCmd.Flags().String("source-index", "", "index/collection name for --source")
	syncCmd.Flags().String("source-host", "", "host for --source (qdrant)")
	syncCmd.Flags().String("namespace", "", "namespace to scope the replay to")
	syncCmd.Flags().Int("page-size", 100, "records per retriever page")

	syncCmd.Flags().Float64("cluster-sim", 0.7, "base cluster-adjacency threshold (S)")
	syncCmd.Flags().Float64("subcluster-sim", 0.75, "sub-cluster absorption threshold (sigma)")
	syncCmd.Flags().Float64("pair-sim-max", 0.99, "asymptotic adjacency threshold (M)")

	syncCmd.Flags().String("store", "", "persist the replayed population: memory, sqlite")
	syncCmd.Flags().String("store-path", "", "sqlite file path (when --store sqlite)")

	syncCmd.Flags().String("mirror", "", "mirror backend to push centroids to: pinecone, qdrant, none")
	syncCmd.Flags().String("mirror-index", "", "index/collection name for --mirror")
	syncCmd.Flags().String("mirror-host", "", "host for --mirror (qdrant)")
	syncCmd.Flags().String("mirror-namespace", "", "namespace for --mirror")
	syncCmd.Flags().IntP("workers", "w", 0, "concurrent mirror-upload workers (0 = NumCPU*2)")
	syncCmd.Flags().IntP("batch-size", "b", 100, "centroids per mirror upsert batch")
}

func runSync(cmd *cobra.Command, args []string) error {
	filePath, _ := cmd.Flags().GetString("file")
	sourceBackend, _ := cmd.Flags().GetString("source")
	sourceIndex, _ := cmd.Flags().GetString("source-index")
	sourceHost, _ := cmd.Flags().GetString("source-host")
	namespace, _ := cmd.Flags().GetString("namespace")
	pageSize, _ := cmd.Flags().GetInt("page-size")

	clusterSim, _ := cmd.Flags().GetFloat64("cluster-sim")
	subclusterSim, _ := cmd.Flags().GetFloat64("subcluster-sim")
	pairSimMax, _ := cmd.Flags().GetFloat64("pair-sim-max")

	storeBackend, _ := cmd.Flags().GetString("store")
	storePath, _ := cmd.Flags().GetString("store-path")

	mirrorBackend, _ := cmd.Flags().GetString("mirror")
	mirrorIndex, _ := cmd.Flags().GetString("mirror-index")
	mirrorHost, _ := cmd.Flags().GetString("mirror-host")
	mirrorNamespace, _ := cmd.Flags().GetString("mirror-namespace")
	workers, _ := cmd.Flags().GetInt("workers")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	verbose := viper.GetBool("verbose")

	if filePath == "" && sourceBackend == "" {
		return fmt.Errorf("either --file or --source is required")
	}
	if filePath != "" && sourceBackend != "" {
		return fmt.Errorf("--file and --source are mutually exclusive")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
		cancel()
	}()

	vectors, err := loadReplayPopulation(ctx, filePath, config.RetrieverConfig{
		Backend:   sourceBackend,
		Index:     sourceIndex,
		Host:      sourceHost,
		Namespace: namespace,
		PageSize:  pageSize,
	}, verbose)
	if err != nil {
		return fmt.Errorf("load replay population: %w", err)
	}
	if len(vectors) == 0 {
		fmt.Println("No vectors to replay.")
		return nil
	}

	engine, err := buildEngine(config.EngineConfig{
		ClusterSim:    clusterSim,
		SubclusterSim: subclusterSim,
		PairSimMax:    pairSimMax,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	var st store.Store
	if storeBackend != "" {
		st, err = buildStore(config.StoreConfig{Backend: storeBackend, Path: storePath})
		if err != nil {
			return fmt.Errorf("build store: %w", err)
		}
		defer func() { _ = st.Close() }()
	}

	summary := &types.ReplaySummary{TotalVectors: int64(len(vectors))}
	replayStart := time.Now()

	bar := progressbar.NewOptions64(
		int64(len(vectors)),
		progressbar.OptionSetDescription("Replaying"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("vectors"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)

	// Predict is not safe for concurrent use, so the replay itself is a
	// strictly sequential loop: only the downstream mirror push fans out.
	var touched []*linkscluster.Cluster
	seenCluster := make(map[string]bool)
	for _, v := range vectors {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cl, err := engine.Predict(v.Values, time.Now())
		_ = bar.Add(1)
		if err != nil {
			summary.FailedVectors++
			if verbose {
				fmt.Fprintf(os.Stderr, "Warning: predict failed for %s: %v\n", v.ID, err)
			}
			continue
		}
		summary.PredictedVectors++
		if cl != nil && !seenCluster[cl.ID().String()] {
			seenCluster[cl.ID().String()] = true
			touched = append(touched, cl)
		}
		if st != nil && cl != nil {
			if err := st.Upsert(ctx, store.ToDocument(cl.View())); err != nil && verbose {
				fmt.Fprintf(os.Stderr, "Warning: store upsert failed for cluster %s: %v\n", cl.ID(), err)
			}
		}
	}
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	summary.ClustersFormed = int64(engine.ClusterCount())
	summary.DurationMs = time.Since(replayStart).Milliseconds()

	if mirrorBackend != "" && mirrorBackend != "none" {
		mr, err := buildMirror(ctx, config.MirrorConfig{
			Backend:   mirrorBackend,
			Index:     mirrorIndex,
			Host:      mirrorHost,
			Namespace: mirrorNamespace,
		})
		if err != nil {
			return fmt.Errorf("build mirror: %w", err)
		}
		if mr != nil {
			defer func() { _ = mr.Close() }()
			mirrored, err := mirrorCentroids(ctx, mr, touched, workers, batchSize, verbose)
			if err != nil {
				return fmt.Errorf("mirror centroids: %w", err)
			}
			summary.MirroredVectors = mirrored
		}
	}

	printSyncSummary(summary, verbose)

	if summary.FailedVectors > 0 {
		return fmt.Errorf("%d vectors failed to predict", summary.FailedVectors)
	}
	return nil
}

// loadReplayPopulation reads vectors from a JSONL file, or pages through a
// retriever.Source until it is exhausted, depending on which of the two
// is configured.
func loadReplayPopulation(ctx context.Context, filePath string, rcfg config.RetrieverConfig, verbose bool) ([]types.Vector, error) {
	if filePath != "" {
		if verbose {
			fmt.Fprintf(os.Stderr, "Loading vectors from %s...\n", filePath)
		}
		return loadVectorsFromFile(filePath)
	}

	src, err := buildRetriever(ctx, rcfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	if verbose {
		fmt.Fprintf(os.Stderr, "Paging vectors from %s retriever...\n", rcfg.Backend)
	}

	var vectors []types.Vector
	cursor := ""
	for {
		page, err := src.Query(ctx, retriever.Filter{
			Namespace: rcfg.Namespace,
			Cursor:    cursor,
			PageSize:  rcfg.PageSize,
		})
		if err != nil {
			return nil, err
		}
		for _, r := range page.Records {
			vectors = append(vectors, types.Vector{ID: r.ID, Values: r.Embedding, Metadata: r.Metadata})
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return vectors, nil
}

// mirrorCentroids pushes every touched cluster's sub-cluster centroids to
// mr using a pool of concurrent workers, grounded on the teacher's
// batch-and-worker-pool ingestion pipeline: a batcher goroutine feeds a
// channel of batches, a fixed pool of workers drains it, and an atomic
// counter tracks how many centroids made it through.
func mirrorCentroids(ctx context.Context, mr mirror.Mirror, clusters []*linkscluster.Cluster, workers, batchSize int, verbose bool) (int64, error) {
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	var centroids []mirror.Centroid
	for _, cl := range clusters {
		view := cl.View()
		for _, sc := range view.Subclusters {
			centroids = append(centroids, mirror.Centroid{
				ID:     sc.ID.String(),
				Values: sc.Centroid,
				Metadata: map[string]any{
					"cluster_id":   view.ID.String(),
					"vector_count": sc.VectorCount,
				},
			})
		}
	}
	if len(centroids) == 0 {
		return 0, nil
	}

	batchCh := make(chan []mirror.Centroid, workers*2)
	var mirrored int64
	var failed int64

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batchCh {
				if err := mr.UpsertCentroids(ctx, batch); err != nil {
					atomic.AddInt64(&failed, int64(len(batch)))
					if verbose {
						fmt.Fprintf(os.Stderr, "Warning: mirror upsert failed for batch of %d: %v\n", len(batch), err)
					}
					continue
				}
				atomic.AddInt64(&mirrored, int64(len(batch)))
			}
		}()
	}

	for i := 0; i < len(centroids); i += batchSize {
		end := i + batchSize
		if end > len(centroids) {
			end = len(centroids)
		}
		select {
		case batchCh <- centroids[i:end]:
		case <-ctx.Done():
		}
	}
	close(batchCh)
	wg.Wait()

	if verbose {
		fmt.Fprintf(os.Stderr, "Mirrored %d centroids (%d failed)\n", mirrored, failed)
	}
	return mirrored, nil
}

func printSyncSummary(s *types.ReplaySummary, verbose bool) {
	fmt.Println()
	fmt.Println("=== Replay Complete ===")
	fmt.Println()
	fmt.Printf("Total vectors:       %d\n", s.TotalVectors)
	fmt.Printf("Predicted:           %d\n", s.PredictedVectors)
	fmt.Printf("Failed:              %d\n", s.FailedVectors)
	fmt.Printf("Success rate:        %.1f%%\n", s.SuccessRate())
	fmt.Println()
	fmt.Printf("Clusters formed:     %d\n", s.ClustersFormed)
	if s.MirroredVectors > 0 {
		fmt.Printf("Centroids mirrored:  %d\n", s.MirroredVectors)
	}
	fmt.Printf("Duration:            %v\n", time.Duration(s.DurationMs)*time.Millisecond)
	fmt.Println()
}
