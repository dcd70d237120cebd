package errors

import (
	"fmt"
	"log/slog"
)

// CLIErrorAdapter handles error presentation and exit code determination for CLI applications.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{verbose: verbose, logger: logger}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	classified, ok := AsClassified(err)
	if !ok {
		return 1
	}
	switch classified.Category() {
	case CategoryValidation:
		return 2 // Invalid usage
	case CategoryAuth, CategoryPermission:
		return 5
	case CategoryConfig:
		return 7
	case CategoryNetwork, CategoryGit, CategoryUpstream:
		return 8 // External system error
	case CategoryInternal:
		return 10
	case CategoryBuild, CategoryUnsupported, CategoryTimeout:
		return 11
	case CategoryRuntime, CategoryPersistence, CategoryEventStore:
		return 12
	default:
		return 1
	}
}

// FormatError formats an error for user-friendly display.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	classified, ok := AsClassified(err)
	if !ok || a.verbose {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Error: %s", classified.Message())
}

// Report logs the error and returns the exit code the caller should use.
func (a *CLIErrorAdapter) Report(err error) int {
	if err == nil {
		return 0
	}
	code := a.ExitCodeFor(err)
	a.logger.Error(a.FormatError(err), slog.Int("exit_code", code))
	return code
}
