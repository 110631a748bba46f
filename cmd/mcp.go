package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/matluuk/linkscluster/pkg/config"
	"github.com/matluuk/linkscluster/pkg/embedding"
	"github.com/matluuk/linkscluster/pkg/linkscluster"
	"github.com/matluuk/linkscluster/pkg/store"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start linkscluster as an MCP server",
	Long: `Starts the clustering engine as a Model Context Protocol (MCP) server.

This allows AI assistants like Claude, Amp, and Cursor to assign vectors to
clusters and inspect the resulting population directly.

Transports:
  stdio (default) - For local desktop apps (Claude Desktop, Cursor)
  http            - For remote/cloud deployments (hosted MCP server)

Tools exposed:
  assign_vector  - Predict a cluster assignment for one vector or text
  get_cluster    - Fetch one cluster's sub-clusters by id
  list_clusters  - List every live cluster
  get_threshold  - Report the engine's three similarity thresholds

Resources exposed:
  linkscluster://system-prompt - System prompt for AI assistants
  linkscluster://config        - Current engine configuration

Example:
  # Local stdio server (Claude Desktop, Cursor, Amp)
  linkscluster mcp

  # Remote HTTP server (hosted deployment)
  linkscluster mcp --transport http --port 8081

  # With text input via an embedding provider
  linkscluster mcp --embedding-model text-embedding-3-small

Configure in Claude Desktop (claude_desktop_config.json):
  {
    "mcpServers": {
      "linkscluster": {
        "command": "linkscluster",
        "args": ["mcp"]
      }
    }
  }`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport type: stdio or http")
	mcpCmd.Flags().Int("port", 8081, "HTTP server port (for http transport)")
	mcpCmd.Flags().String("host", "0.0.0.0", "HTTP server host (for http transport)")

	mcpCmd.Flags().Float64("cluster-sim", 0.7, "base cluster-adjacency threshold (S)")
	mcpCmd.Flags().Float64("subcluster-sim", 0.75, "sub-cluster absorption threshold (sigma)")
	mcpCmd.Flags().Float64("pair-sim-max", 0.99, "asymptotic adjacency threshold (M)")

	mcpCmd.Flags().String("store", "memory", "store backend: memory, sqlite")
	mcpCmd.Flags().String("store-path", "", "sqlite file path (when --store sqlite)")

	mcpCmd.Flags().String("embedding-model", "", "OpenAI embedding model, enables text input (requires OPENAI_API_KEY)")
}

// MCPServer wraps an in-process engine with the mutex its doc comment
// requires: Engine is not safe for concurrent use, and an MCP server may
// receive tool calls from multiple client goroutines.
type MCPServer struct {
	mu       sync.Mutex
	engine   *linkscluster.Engine
	store    store.Store
	embedder embedding.Provider
	engCfg   config.EngineConfig
}

func runMCP(cmd *cobra.Command, args []string) error {
	transport, _ := cmd.Flags().GetString("transport")
	port, _ := cmd.Flags().GetInt("port")
	host, _ := cmd.Flags().GetString("host")

	clusterSim, _ := cmd.Flags().GetFloat64("cluster-sim")
	subclusterSim, _ := cmd.Flags().GetFloat64("subcluster-sim")
	pairSimMax, _ := cmd.Flags().GetFloat64("pair-sim-max")

	storeBackend, _ := cmd.Flags().GetString("store")
	storePath, _ := cmd.Flags().GetString("store-path")

	embeddingModel, _ := cmd.Flags().GetString("embedding-model")

	engCfg := config.EngineConfig{ClusterSim: clusterSim, SubclusterSim: subclusterSim, PairSimMax: pairSimMax}
	engine, err := buildEngine(engCfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	st, err := buildStore(config.StoreConfig{Backend: storeBackend, Path: storePath})
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer func() { _ = st.Close() }()

	mcpSrv := &MCPServer{engine: engine, store: st, engCfg: engCfg}

	if embeddingModel != "" {
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when --embedding-model is set")
		}
		embedder, err := buildEmbedder(config.EmbeddingConfig{Provider: "openai", Model: embeddingModel})
		if err != nil {
			return fmt.Errorf("build embedder: %w", err)
		}
		mcpSrv.embedder = embedder
	}

	s := server.NewMCPServer(
		"linkscluster",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(false),
	)

	mcpSrv.registerTools(s)
	mcpSrv.registerResources(s)
	mcpSrv.registerPrompts(s)

	switch transport {
	case "stdio":
		if err := server.ServeStdio(s); err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}

	case "http":
		addr := fmt.Sprintf("%s:%d", host, port)
		fmt.Printf("linkscluster MCP server starting on http://%s\n", addr)
		fmt.Printf("  Endpoint: http://%s/mcp\n", addr)
		fmt.Printf("  Health:   http://%s/health\n", addr)
		fmt.Println()

		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok","server":"linkscluster-mcp"}`))
		})

		mcpHandler := server.NewStreamableHTTPServer(s, server.WithStateful(true))
		mux.Handle("/mcp", mcpHandler)

		httpServer := &http.Server{Addr: addr, Handler: mux}
		if err := httpServer.ListenAndServe(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}

	default:
		return fmt.Errorf("unsupported transport: %s (use 'stdio' or 'http')", transport)
	}

	return nil
}

func (m *MCPServer) registerTools(s *server.MCPServer) {
	assignTool := mcp.NewTool("assign_vector",
		mcp.WithDescription(`Assign a vector to a cluster using single-pass online clustering.

WHEN TO USE: Call this whenever a new embedding arrives and you need to know
which group of previously-seen vectors it belongs with, without re-running
clustering over the whole population.

INPUT: Either 'vector' (array of floats) or 'text' (requires --embedding-model
to have been set when the server started).
OUTPUT: The assigned cluster id, the kind of update that happened (seed,
new_cluster, attach, absorb, merge, split), and the engine's population.`),
		mcp.WithArray("vector",
			mcp.Description("The embedding to assign, as an array of floats. Mutually exclusive with 'text'."),
		),
		mcp.WithString("text",
			mcp.Description("Text to embed and assign. Requires the server to have an embedding provider configured."),
		),
	)
	s.AddTool(assignTool, m.handleAssignVector)

	getClusterTool := mcp.NewTool("get_cluster",
		mcp.WithDescription(`Fetch one cluster's sub-clusters and their centroids by id.`),
		mcp.WithString("cluster_id",
			mcp.Required(),
			mcp.Description("The cluster's UUID, as returned by assign_vector or list_clusters"),
		),
	)
	s.AddTool(getClusterTool, m.handleGetCluster)

	listClustersTool := mcp.NewTool("list_clusters",
		mcp.WithDescription(`List every live cluster with its id and sub-cluster count.`),
	)
	s.AddTool(listClustersTool, m.handleListClusters)

	thresholdTool := mcp.NewTool("get_threshold",
		mcp.WithDescription(`Report the engine's three similarity thresholds (cluster_sim, subcluster_sim, pair_sim_max).`),
	)
	s.AddTool(thresholdTool, m.handleGetThreshold)
}

const systemPromptContent = `You have access to linkscluster, an online agglomerative clustering engine.

IMPORTANT: When you receive a new embedding and need to know which group of
previously-seen vectors it belongs with:
1. Call assign_vector with the embedding (or text, if the server has an
   embedding provider configured)
2. Use get_cluster or list_clusters to inspect the resulting population
3. Use get_threshold if you need to explain why two vectors did or didn't
   land in the same cluster

Each call to assign_vector is a single, irreversible update: the engine
never re-clusters the whole population from scratch.`

func (m *MCPServer) registerResources(s *server.MCPServer) {
	systemPrompt := mcp.NewResource(
		"linkscluster://system-prompt",
		"linkscluster System Prompt",
		mcp.WithResourceDescription("System prompt that guides AI to use the clustering tools effectively"),
		mcp.WithMIMEType("text/plain"),
	)
	s.AddResource(systemPrompt, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: "linkscluster://system-prompt", MIMEType: "text/plain", Text: systemPromptContent},
		}, nil
	})

	configResource := mcp.NewResource(
		"linkscluster://config",
		"linkscluster Configuration",
		mcp.WithResourceDescription("Current engine thresholds and embedder configuration"),
		mcp.WithMIMEType("application/json"),
	)
	s.AddResource(configResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		cfg := map[string]any{
			"cluster_sim":          m.engCfg.ClusterSim,
			"subcluster_sim":       m.engCfg.SubclusterSim,
			"pair_sim_max":         m.engCfg.PairSimMax,
			"embedder_configured":  m.embedder != nil,
		}
		cfgJSON, _ := json.MarshalIndent(cfg, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: "linkscluster://config", MIMEType: "application/json", Text: string(cfgJSON)},
		}, nil
	})
}

func (m *MCPServer) registerPrompts(s *server.MCPServer) {
	explainPrompt := mcp.NewPrompt(
		"explain-assignment",
		mcp.WithPromptDescription("Explain why a vector was assigned to its cluster"),
		mcp.WithArgument("cluster_id", mcp.ArgumentDescription("The cluster id returned by assign_vector")),
	)
	s.AddPrompt(explainPrompt, func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		clusterID := request.Params.Arguments["cluster_id"]
		return &mcp.GetPromptResult{
			Description: "Explain a cluster assignment",
			Messages: []mcp.PromptMessage{
				{
					Role: mcp.RoleUser,
					Content: mcp.TextContent{
						Type: "text",
						Text: fmt.Sprintf(`Call get_cluster with cluster_id %q and get_threshold, then explain in
plain language why the sub-clusters it contains are considered similar
enough to share a cluster, referencing the thresholds where useful.`, clusterID),
					},
				},
			},
		}, nil
	})
}

func (m *MCPServer) handleAssignVector(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	var vector []float32
	if raw, ok := args["vector"]; ok {
		values, ok := raw.([]any)
		if !ok {
			return mcp.NewToolResultError("vector must be an array of numbers"), nil
		}
		vector = make([]float32, len(values))
		for i, v := range values {
			f, ok := v.(float64)
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("vector[%d] is not a number", i)), nil
			}
			vector[i] = float32(f)
		}
	} else if text := request.GetString("text", ""); text != "" {
		if m.embedder == nil {
			return mcp.NewToolResultError("no embedding provider configured; start the server with --embedding-model"), nil
		}
		embedded, err := m.embedder.Embed(ctx, text)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("embed text: %v", err)), nil
		}
		vector = embedded
	} else {
		return mcp.NewToolResultError("either 'vector' or 'text' is required"), nil
	}

	m.mu.Lock()
	seeded := m.engine.ClusterCount() == 0
	before := statsOf(m.engine)
	cl, err := m.engine.Predict(vector, time.Now())
	after := statsOf(m.engine)
	if cl != nil && m.store != nil {
		_ = m.store.Upsert(ctx, store.ToDocument(cl.View()))
	}
	m.mu.Unlock()

	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("predict: %v", err)), nil
	}

	outcome := predictOutcome(seeded, before.ClusterCount, before.SubclusterCount, after.ClusterCount, after.SubclusterCount)
	result := map[string]any{
		"outcome": outcome,
		"stats":   after,
	}
	if cl != nil {
		result["cluster_id"] = cl.ID().String()
	}

	resultJSON, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (m *MCPServer) handleGetCluster(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idStr, err := request.RequireString("cluster_id")
	if err != nil {
		return mcp.NewToolResultError("cluster_id parameter is required"), nil
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid cluster_id: %v", err)), nil
	}

	m.mu.Lock()
	cl, err := m.engine.ClusterByID(id)
	var view linkscluster.ClusterView
	if err == nil {
		view = cl.View()
	}
	m.mu.Unlock()

	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cluster not found: %v", err)), nil
	}

	resultJSON, _ := json.MarshalIndent(view, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (m *MCPServer) handleListClusters(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m.mu.Lock()
	clusters := m.engine.Clusters()
	summaries := make([]map[string]any, len(clusters))
	for i, cl := range clusters {
		summaries[i] = map[string]any{
			"cluster_id":       cl.ID().String(),
			"subcluster_count": len(cl.Subclusters()),
		}
	}
	m.mu.Unlock()

	resultJSON, _ := json.MarshalIndent(map[string]any{"clusters": summaries}, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (m *MCPServer) handleGetThreshold(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result := map[string]any{
		"cluster_sim":    m.engCfg.ClusterSim,
		"subcluster_sim": m.engCfg.SubclusterSim,
		"pair_sim_max":   m.engCfg.PairSimMax,
	}
	resultJSON, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}
