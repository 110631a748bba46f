package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "linkscluster",
	Short: "linkscluster - online agglomerative clustering over streaming vectors",
	Long: `linkscluster assigns a stream of high-dimensional unit-norm vectors to
clusters as they arrive, without ever re-scanning history.

Each vector lands in the nearest sub-cluster or seeds a new one; the
sub-cluster graph is kept connected by a population-scaled similarity
threshold, so clusters merge and split as evidence accumulates.

Features:
  - Single-pass online assignment (predict), no batch re-clustering
  - Population-scaled adjacency threshold between sub-clusters
  - Pluggable persistence (in-memory or SQLite) and ANN mirrors

Environment Variables:
  OPENAI_API_KEY      For text → embedding conversion
  PINECONE_API_KEY    For Pinecone retriever/mirror backend
  QDRANT_API_KEY      For Qdrant retriever/mirror backend`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Disable the default cobra completion command to avoid duplicate name conflict.
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.linkscluster.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")

	// Bind to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
// Config loading priority: CLI flags > environment variables > config file > defaults.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("linkscluster")
	}

	// Read environment variables with LINKSCLUSTER_ prefix
	viper.SetEnvPrefix("LINKSCLUSTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Also check for PINECONE_API_KEY without prefix
	_ = viper.BindEnv("pinecone_api_key", "PINECONE_API_KEY")
	_ = viper.BindEnv("openai_api_key", "OPENAI_API_KEY")

	// Read config file if it exists
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
