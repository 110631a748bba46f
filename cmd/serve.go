package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/matluuk/linkscluster/pkg/cache"
	"github.com/matluuk/linkscluster/pkg/config"
	"github.com/matluuk/linkscluster/pkg/embedding"
	"github.com/matluuk/linkscluster/pkg/linkscluster"
	"github.com/matluuk/linkscluster/pkg/metrics"
	"github.com/matluuk/linkscluster/pkg/mirror"
	"github.com/matluuk/linkscluster/pkg/sse"
	"github.com/matluuk/linkscluster/pkg/store"
	"github.com/matluuk/linkscluster/pkg/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the linkscluster HTTP server",
	Long: `Starts an HTTP server that assigns incoming vectors to clusters online.

Example:
  linkscluster serve --port 8080 --store sqlite --store-path clusters.db

The server exposes:
  POST /v1/predict        - Assign a vector (or embed text, then assign)
  POST /v1/stream         - Same, streamed as Server-Sent Events
  GET  /v1/clusters       - List every live cluster
  GET  /v1/clusters/{id}  - Fetch one cluster
  GET  /health            - Health check
  GET  /metrics           - Prometheus metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "HTTP server port")
	serveCmd.Flags().String("host", "0.0.0.0", "HTTP server host")

	serveCmd.Flags().Float64("cluster-sim", 0.7, "base cluster-adjacency threshold (S)")
	serveCmd.Flags().Float64("subcluster-sim", 0.75, "sub-cluster absorption threshold (sigma)")
	serveCmd.Flags().Float64("pair-sim-max", 0.99, "asymptotic adjacency threshold (M)")
	serveCmd.Flags().Bool("store-vectors", false, "retain raw vectors on every sub-cluster")

	serveCmd.Flags().String("store", "memory", "persistence backend (memory, sqlite)")
	serveCmd.Flags().String("store-path", "", "sqlite file path (or :memory:)")

	serveCmd.Flags().String("mirror", "none", "ANN mirror backend (pinecone, qdrant, none)")
	serveCmd.Flags().String("mirror-index", "", "mirror index/collection name")
	serveCmd.Flags().String("mirror-host", "", "mirror host (qdrant)")

	serveCmd.Flags().String("embedding-model", "text-embedding-3-small", "OpenAI embedding model")
	serveCmd.Flags().String("api-keys", "", "comma-separated bearer tokens accepted on /v1/predict (or LINKSCLUSTER_API_KEYS)")

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("engine.cluster_sim", serveCmd.Flags().Lookup("cluster-sim"))
	_ = viper.BindPFlag("engine.subcluster_sim", serveCmd.Flags().Lookup("subcluster-sim"))
	_ = viper.BindPFlag("engine.pair_sim_max", serveCmd.Flags().Lookup("pair-sim-max"))
	_ = viper.BindPFlag("engine.store_vectors", serveCmd.Flags().Lookup("store-vectors"))
	_ = viper.BindPFlag("store.backend", serveCmd.Flags().Lookup("store"))
	_ = viper.BindPFlag("store.path", serveCmd.Flags().Lookup("store-path"))
	_ = viper.BindPFlag("mirror.backend", serveCmd.Flags().Lookup("mirror"))
	_ = viper.BindPFlag("mirror.index", serveCmd.Flags().Lookup("mirror-index"))
	_ = viper.BindPFlag("mirror.host", serveCmd.Flags().Lookup("mirror-host"))
	_ = viper.BindPFlag("embedding.model", serveCmd.Flags().Lookup("embedding-model"))
	_ = viper.BindPFlag("auth.api_keys", serveCmd.Flags().Lookup("api-keys"))
}

// Server holds the HTTP server state. The engine is not safe for
// concurrent use, so every handler that touches it holds mu for the
// duration of the call.
type Server struct {
	mu     sync.Mutex
	engine *linkscluster.Engine

	store    store.Store
	mirror   mirror.Mirror
	embedder embedding.Provider
	respCache cache.Cache
	metrics  *metrics.Metrics
	tracer   *telemetry.Provider

	validKeys map[string]bool
	hasAuth   bool
}

// PredictRequest is the JSON request body for /v1/predict and /v1/stream.
type PredictRequest struct {
	Vector []float32 `json:"vector,omitempty"`
	Text   string    `json:"text,omitempty"`
}

// PredictResponse is the JSON response for /v1/predict.
type PredictResponse struct {
	ClusterID string      `json:"cluster_id,omitempty"`
	Outcome   string      `json:"outcome"`
	Stats     engineStats `json:"stats"`
	LatencyMs int64       `json:"latency_ms"`
}

func runServe(cmd *cobra.Command, args []string) error {
	host := viper.GetString("server.host")
	port := viper.GetInt("server.port")

	engCfg := config.EngineConfig{
		ClusterSim:    viper.GetFloat64("engine.cluster_sim"),
		SubclusterSim: viper.GetFloat64("engine.subcluster_sim"),
		PairSimMax:    viper.GetFloat64("engine.pair_sim_max"),
		StoreVectors:  viper.GetBool("engine.store_vectors"),
	}
	storeCfg := config.StoreConfig{
		Backend: viper.GetString("store.backend"),
		Path:    viper.GetString("store.path"),
	}
	mirrorCfg := config.MirrorConfig{
		Backend: viper.GetString("mirror.backend"),
		Index:   viper.GetString("mirror.index"),
		Host:    viper.GetString("mirror.host"),
	}
	embCfg := config.EmbeddingConfig{
		Provider: "openai",
		Model:    viper.GetString("embedding.model"),
	}

	ctx := context.Background()

	st, err := buildStore(storeCfg)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer func() { _ = st.Close() }()

	mr, err := buildMirror(ctx, mirrorCfg)
	if err != nil {
		return fmt.Errorf("build mirror: %w", err)
	}
	if mr != nil {
		defer func() { _ = mr.Close() }()
	}

	var embedder embedding.Provider
	if os.Getenv("OPENAI_API_KEY") != "" {
		embedder, err = buildEmbedder(embCfg)
		if err != nil {
			return fmt.Errorf("build embedder: %w", err)
		}
	}

	engine, err := loadOrCreateEngine(ctx, engCfg, st)
	if err != nil {
		return fmt.Errorf("load engine: %w", err)
	}

	apiKeysStr := viper.GetString("auth.api_keys")
	if apiKeysStr == "" {
		apiKeysStr = os.Getenv("LINKSCLUSTER_API_KEYS")
	}
	validKeys := make(map[string]bool)
	for _, key := range strings.Split(apiKeysStr, ",") {
		key = strings.TrimSpace(key)
		if key != "" {
			validKeys[key] = true
		}
	}

	m := metrics.New()
	tracer, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	respCache, err := buildCache(ctx, config.CacheConfig{Backend: "memory", DefaultTTL: 2 * time.Second, MaxSize: 1000})
	if err != nil {
		return fmt.Errorf("build cache: %w", err)
	}
	defer func() { _ = respCache.Close() }()

	srv := &Server{
		engine:    engine,
		store:     st,
		mirror:    mr,
		embedder:  embedder,
		respCache: respCache,
		metrics:   m,
		tracer:    tracer,
		validKeys: validKeys,
		hasAuth:   len(validKeys) > 0,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/predict", m.Middleware("/v1/predict", srv.handlePredict))
	mux.HandleFunc("POST /v1/stream", m.Middleware("/v1/stream", srv.handleStream))
	mux.HandleFunc("GET /v1/clusters", m.Middleware("/v1/clusters", srv.handleListClusters))
	mux.HandleFunc("GET /v1/clusters/{id}", m.Middleware("/v1/clusters/{id}", srv.handleGetCluster))
	mux.HandleFunc("GET /health", srv.handleHealth)
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) { m.Handler().ServeHTTP(w, r) })

	handler := corsMiddleware(mux)

	addr := fmt.Sprintf("%s:%d", host, port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		fmt.Fprintln(os.Stderr, "\nShutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Server shutdown error: %v\n", err)
		}
		close(done)
	}()

	fmt.Printf("linkscluster server starting on %s\n", addr)
	fmt.Printf("  Store:  %s\n", storeCfg.Backend)
	fmt.Printf("  Mirror: %s\n", mirrorCfg.Backend)
	fmt.Printf("  Embeddings: %v\n", embedder != nil)
	fmt.Printf("  Auth: %v (%d keys)\n", srv.hasAuth, len(validKeys))
	fmt.Println()
	fmt.Println("Endpoints:")
	fmt.Printf("  POST http://%s/v1/predict\n", addr)
	fmt.Printf("  POST http://%s/v1/stream\n", addr)
	fmt.Printf("  GET  http://%s/v1/clusters\n", addr)
	fmt.Printf("  GET  http://%s/health\n", addr)
	fmt.Println()

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	fmt.Println("Server stopped")
	return nil
}

// loadOrCreateEngine rehydrates every cluster document the store already
// holds into a live engine, or returns a fresh empty one if the store is
// empty. A document that fails to rehydrate is fatal: a corrupt store is
// not something the server can paper over.
func loadOrCreateEngine(ctx context.Context, cfg config.EngineConfig, st store.Store) (*linkscluster.Engine, error) {
	docs, err := st.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored clusters: %w", err)
	}
	if len(docs) == 0 {
		return buildEngine(cfg)
	}

	clusters := make([]*linkscluster.Cluster, len(docs))
	for i, doc := range docs {
		rc, err := store.RehydrateNeighbors(doc)
		if err != nil {
			return nil, fmt.Errorf("rehydrate cluster %s: %w", doc.ID, err)
		}
		clusters[i] = linkscluster.Restore(rc)
	}

	return linkscluster.RestoreEngine(linkscluster.Config{
		ClusterSim:    cfg.ClusterSim,
		SubclusterSim: cfg.SubclusterSim,
		PairSimMax:    cfg.PairSimMax,
		StoreVectors:  cfg.StoreVectors,
	}, clusters)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if !s.hasAuth {
		return true
	}
	auth := r.Header.Get("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	return token != "" && s.validKeys[token]
}

// resolveVector returns req.Vector if present, otherwise embeds req.Text.
func (s *Server) resolveVector(ctx context.Context, req PredictRequest) ([]float32, error) {
	if len(req.Vector) > 0 {
		return req.Vector, nil
	}
	if req.Text == "" {
		return nil, fmt.Errorf("either 'vector' or 'text' is required")
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("no embedding provider configured; supply 'vector' directly or set OPENAI_API_KEY")
	}
	return s.embedder.Embed(ctx, req.Text)
}

// predictLocked runs one Predict call under the server's engine lock and
// persists/mirrors its result. Returns the affected cluster (nil on
// seed), the classified outcome, and the engine's post-call population.
func (s *Server) predictLocked(ctx context.Context, vector []float32) (*linkscluster.Cluster, string, engineStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seeded := s.engine.ClusterCount() == 0
	before := statsOf(s.engine)

	cl, err := s.engine.Predict(vector, time.Now())
	if err != nil {
		return nil, "", engineStats{}, err
	}

	after := statsOf(s.engine)
	outcome := predictOutcome(seeded, before.ClusterCount, before.SubclusterCount, after.ClusterCount, after.SubclusterCount)
	_ = s.respCache.Delete(ctx, clusterListCacheKey)

	if cl != nil && s.store != nil {
		if err := s.store.Upsert(ctx, store.ToDocument(cl.View())); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to persist cluster %s: %v\n", cl.ID(), err)
		}
		if s.mirror != nil {
			if err := s.mirrorCluster(ctx, cl); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to mirror cluster %s: %v\n", cl.ID(), err)
			}
		}
	}

	return cl, outcome, after, nil
}

func (s *Server) mirrorCluster(ctx context.Context, cl *linkscluster.Cluster) error {
	view := cl.View()
	centroids := make([]mirror.Centroid, len(view.Subclusters))
	for i, sc := range view.Subclusters {
		centroids[i] = mirror.Centroid{
			ID:     sc.ID.String(),
			Values: sc.Centroid,
			Metadata: map[string]any{
				"cluster_id":   view.ID.String(),
				"vector_count": sc.VectorCount,
			},
		}
	}
	return s.mirror.UpsertCentroids(ctx, centroids)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "invalid or missing API key", http.StatusUnauthorized)
		return
	}

	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	ctx, span := s.tracer.StartRequest(r.Context(), "/v1/predict")
	defer span.End()

	start := time.Now()
	vector, err := s.resolveVector(ctx, req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cl, outcome, stats, err := s.predictLocked(ctx, vector)
	if err != nil {
		telemetry.RecordError(span, err)
		http.Error(w, fmt.Sprintf("predict failed: %v", err), http.StatusUnprocessableEntity)
		return
	}

	latency := time.Since(start)
	s.metrics.RecordPrediction(outcome, stats.ClusterCount, stats.SubclusterCount)
	telemetry.RecordResult(span, outcome, stats.ClusterCount, stats.SubclusterCount, latency)

	resp := PredictResponse{Outcome: outcome, Stats: stats, LatencyMs: latency.Milliseconds()}
	if cl != nil {
		resp.ClusterID = cl.ID().String()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "invalid or missing API key", http.StatusUnauthorized)
		return
	}

	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	sw := sse.NewWriter(w)
	if sw == nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()

	if len(req.Vector) == 0 {
		_ = sw.SendProgress(sse.StageEmbedding, 0)
		vec, err := s.resolveVector(ctx, req)
		if err != nil {
			_ = sw.SendError(sse.StageEmbedding, err.Error())
			return
		}
		req.Vector = vec
		_ = sw.SendProgress(sse.StageEmbedding, 1.0)
	}

	_ = sw.SendProgress(sse.StageAssign, 0)
	cl, outcome, stats, err := s.predictLocked(ctx, req.Vector)
	if err != nil {
		_ = sw.SendError(sse.StageAssign, err.Error())
		return
	}
	_ = sw.SendProgress(sse.StageAssign, 1.0)

	s.metrics.RecordPrediction(outcome, stats.ClusterCount, stats.SubclusterCount)

	result := PredictResponse{Outcome: outcome, Stats: stats}
	if cl != nil {
		result.ClusterID = cl.ID().String()
	}
	_ = sw.SendComplete(result, stats)
}

const clusterListCacheKey = "clusters:list"

func (s *Server) handleListClusters(w http.ResponseWriter, r *http.Request) {
	_, span := s.tracer.StartCacheLookup(r.Context(), clusterListCacheKey)
	if cached, err := s.respCache.Get(r.Context(), clusterListCacheKey); err == nil {
		span.End()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(cached)
		return
	}
	span.End()

	s.mu.Lock()
	views := make([]linkscluster.ClusterView, 0, len(s.engine.Clusters()))
	for _, cl := range s.engine.Clusters() {
		views = append(views, cl.View())
	}
	s.mu.Unlock()

	body, err := json.Marshal(map[string]any{"clusters": views})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = s.respCache.Set(r.Context(), clusterListCacheKey, body, 2*time.Second)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid cluster id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	cl, err := s.engine.ClusterByID(id)
	var view linkscluster.ClusterView
	if err == nil {
		view = cl.View()
	}
	s.mu.Unlock()

	if err != nil {
		http.Error(w, "cluster not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(view)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
