package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/ripple/internal/config"
	"github.com/roach88/ripple/internal/scenario"
)

// FileValidation is the result for one file.
type FileValidation struct {
	File  string `json:"file"`
	Kind  string `json:"kind"` // "scenario" | "config"
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
	Line  int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate scenario and config files",
		Long: `Check scenario files (.yaml, .yml) and engine config files (.cue,
.json) without running anything.

Scenarios are checked for unknown keys, undeclared nodes and malformed
steps. Configs are checked against the engine's CUE schema.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(files))}

	for _, file := range files {
		v := validateFile(file)
		if !v.Valid {
			result.Valid = false
		}
		result.Files = append(result.Files, v)
	}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, v := range result.Files {
			if v.Valid {
				fmt.Fprintf(w, "ok    %s (%s)\n", v.File, v.Kind)
				continue
			}
			fmt.Fprintf(w, "error %s (%s): %s\n", v.File, v.Kind, v.Error)
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

func validateFile(file string) FileValidation {
	switch filepath.Ext(file) {
	case ".yaml", ".yml":
		v := FileValidation{File: file, Kind: "scenario", Valid: true}
		if _, err := scenario.Load(file); err != nil {
			v.Valid = false
			v.Error = err.Error()
		}
		return v
	case ".cue", ".json":
		v := FileValidation{File: file, Kind: "config", Valid: true}
		if _, err := config.Load(file); err != nil {
			v.Valid = false
			v.Error = err.Error()
			var cfgErr *config.Error
			if errors.As(err, &cfgErr) && cfgErr.Pos.IsValid() {
				v.Line = cfgErr.Pos.Line()
			}
		}
		return v
	default:
		return FileValidation{
			File:  file,
			Kind:  "unknown",
			Error: fmt.Sprintf("unsupported file type %q", filepath.Ext(file)),
		}
	}
}
