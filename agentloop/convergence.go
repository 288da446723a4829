package agentloop

import (
	"context"
	"fmt"
	"log/slog"
)

// Conversation is the part of a Session the convergence loop drives.
type Conversation interface {
	SendMessage(ctx context.Context, text string) error
}

// MutationTracker reports and resets whether a project was written to.
// *Project satisfies it.
type MutationTracker interface {
	IsDirty() bool
	ClearDirty()
}

// ConvergenceOutcome describes why Converge stopped.
type ConvergenceOutcome string

const (
	// OutcomeNoChanges means a work turn left the destination untouched.
	OutcomeNoChanges ConvergenceOutcome = "no_changes"
	// OutcomeConverged means the build check reported no diagnostics.
	OutcomeConverged ConvergenceOutcome = "converged"
	// OutcomeIterationLimit means MaxIterations work turns ran without
	// either of the above.
	OutcomeIterationLimit ConvergenceOutcome = "iteration_limit"
)

// ConvergenceConfig holds the fixed instructions of a run.
type ConvergenceConfig struct {
	AnalysisInstruction  string
	CreateInstruction    string
	FixInstructionPrefix string
	MaxIterations        int // work turns; 0 = unlimited
	Logger               *slog.Logger
}

// ConvergenceConfigFromPrompts builds a config from prompts that already
// have the target language substituted.
func ConvergenceConfigFromPrompts(p Prompts, maxIterations int, logger *slog.Logger) ConvergenceConfig {
	return ConvergenceConfig{
		AnalysisInstruction:  p.Analyze,
		CreateInstruction:    p.Create,
		FixInstructionPrefix: p.FixPrefix,
		MaxIterations:        maxIterations,
		Logger:               logger,
	}
}

// ConvergenceResult summarizes a finished run.
type ConvergenceResult struct {
	Outcome         ConvergenceOutcome `json:"outcome"`
	Iterations      int                `json:"iterations"`
	BuildChecks     int                `json:"build_checks"`
	LastDiagnostics string             `json:"last_diagnostics,omitempty"`
}

// Converge sends the analysis instruction once, then alternates work turns
// with build checks. Each work turn that writes to dst is followed by a
// check; its diagnostics become the next instruction. The run stops when a
// work turn writes nothing, when the check comes back clean, or after
// MaxIterations work turns.
//
// Errors from the conversation or from running the check end the run.
func Converge(ctx context.Context, conv Conversation, dst MutationTracker, checker BuildChecker, cfg ConvergenceConfig) (*ConvergenceResult, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	result := &ConvergenceResult{}

	if cfg.AnalysisInstruction != "" {
		logger.Info("analysis turn")
		if err := conv.SendMessage(ctx, cfg.AnalysisInstruction); err != nil {
			return result, fmt.Errorf("analysis turn: %w", err)
		}
	}

	instruction := cfg.CreateInstruction
	for {
		if cfg.MaxIterations > 0 && result.Iterations >= cfg.MaxIterations {
			logger.Warn("iteration limit reached", slog.Int("iterations", result.Iterations))
			result.Outcome = OutcomeIterationLimit
			return result, nil
		}

		result.Iterations++
		logger.Info("work turn", slog.Int("iteration", result.Iterations))
		if err := conv.SendMessage(ctx, instruction); err != nil {
			return result, fmt.Errorf("work turn %d: %w", result.Iterations, err)
		}

		if !dst.IsDirty() {
			logger.Info("no changes to destination", slog.Int("iteration", result.Iterations))
			result.Outcome = OutcomeNoChanges
			return result, nil
		}
		dst.ClearDirty()

		result.BuildChecks++
		diagnostics, err := checker.Check(ctx)
		if err != nil {
			return result, fmt.Errorf("build check: %w", err)
		}
		result.LastDiagnostics = diagnostics
		if diagnostics == "" {
			logger.Info("build check clean", slog.Int("iteration", result.Iterations))
			result.Outcome = OutcomeConverged
			return result, nil
		}
		instruction = cfg.FixInstructionPrefix + diagnostics
	}
}
