// Package assignment runs the term-wide optimisation that turns ranked
// selections into final placements, and checks its output before it is stored.
package assignment

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/course-select-api/internal/models"
	"github.com/noah-isme/course-select-api/pkg/config"
)

// Gateway produces a complete assignment set from a consistent snapshot.
// Implementations must not write anything themselves.
type Gateway interface {
	RunAssignment(ctx context.Context, snapshot models.AssignmentSnapshot) ([]models.AssignmentRecord, error)
}

// New selects the gateway configured by ASSIGNMENT_SOLVER.
func New(cfg config.AssignmentConfig, logger *zap.Logger) (Gateway, error) {
	switch cfg.Solver {
	case "", config.SolverGreedy:
		return NewGreedySolver(cfg.Seed), nil
	case config.SolverCommand:
		if cfg.Command == "" {
			return nil, fmt.Errorf("assignment solver %q requires ASSIGNMENT_COMMAND", cfg.Solver)
		}
		return NewCommandGateway(cfg.Command, cfg.Args, logger), nil
	default:
		return nil, fmt.Errorf("unknown assignment solver %q", cfg.Solver)
	}
}
