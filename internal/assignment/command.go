package assignment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/course-select-api/internal/models"
)

const stderrTail = 2048

type commandOutput struct {
	Assignments []models.AssignmentRecord `json:"assignments"`
}

// CommandGateway runs an external solver process. The snapshot is written to
// its stdin as JSON and the process must print {"assignments":[...]} to stdout.
// A non-zero exit status fails the run.
type CommandGateway struct {
	command string
	args    []string
	logger  *zap.Logger
}

// NewCommandGateway builds a subprocess gateway.
func NewCommandGateway(command string, args []string, logger *zap.Logger) *CommandGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandGateway{command: command, args: args, logger: logger}
}

// RunAssignment implements Gateway.
func (g *CommandGateway) RunAssignment(ctx context.Context, snapshot models.AssignmentSnapshot) ([]models.AssignmentRecord, error) {
	input, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode assignment snapshot: %w", err)
	}

	cmd := exec.CommandContext(ctx, g.command, g.args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		tail := stderr.String()
		if len(tail) > stderrTail {
			tail = tail[len(tail)-stderrTail:]
		}
		g.logger.Error("assignment solver failed",
			zap.String("command", g.command),
			zap.String("term_id", snapshot.TermID),
			zap.String("stderr", strings.TrimSpace(tail)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("run assignment solver: %w", err)
	}

	var out commandOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("decode assignment solver output: %w", err)
	}
	for i := range out.Assignments {
		if out.Assignments[i].TermID == "" {
			out.Assignments[i].TermID = snapshot.TermID
		}
		if out.Assignments[i].AssignedAt.IsZero() {
			out.Assignments[i].AssignedAt = snapshot.TakenAt
		}
	}
	return out.Assignments, nil
}
