package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/ripple/internal/config"
	"github.com/roach88/ripple/internal/engine"
	"github.com/roach88/ripple/internal/graph"
	"github.com/roach88/ripple/internal/trace"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Scenario or validation failure
	ExitCommandError = 2 // Command error (invalid paths, unreadable database, etc.)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Error codes used in JSON error responses.
const (
	ErrCodeGeneric  = "E001"
	ErrCodeNotFound = "E002"
	ErrCodeInvalid  = "E003"
	ErrCodeEngine   = "E004" // the engine rejected an operation or a flush failed
)

// ErrorDetails locates an error inside the engine or an input file.
type ErrorDetails struct {
	EngineCode string `json:"engine_code,omitempty"` // RuntimeError code, or STEP_QUOTA
	GraphCode  string `json:"graph_code,omitempty"`  // graph invariant behind it
	Node       string `json:"node,omitempty"`
	Flush      string `json:"flush,omitempty"`
	Line       int    `json:"line,omitempty"`
}

func (d *ErrorDetails) String() string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("engine_code", d.EngineCode)
	add("graph_code", d.GraphCode)
	add("node", d.Node)
	add("flush", d.Flush)
	if d.Line > 0 {
		add("line", fmt.Sprintf("%d", d.Line))
	}
	return strings.Join(parts, " ")
}

// classifyError picks the response code for err and collects whatever
// engine context it carries. Details is nil when there is none.
func classifyError(err error) (string, *ErrorDetails) {
	d := &ErrorDetails{}
	var ge *graph.InvariantError
	if errors.As(err, &ge) {
		d.GraphCode = string(ge.Code)
		if ge.Node != 0 {
			d.Node = fmt.Sprintf("%d", ge.Node)
		}
	}

	var re *engine.RuntimeError
	var se *engine.StepsExceededError
	var ce *config.Error
	code := ErrCodeGeneric
	switch {
	case errors.As(err, &re):
		code = ErrCodeEngine
		d.EngineCode = string(re.Code)
		if re.Label != "" {
			d.Node = re.Label
		} else if re.Node != 0 {
			d.Node = fmt.Sprintf("%d", re.Node)
		}
	case errors.As(err, &se):
		code = ErrCodeEngine
		d.EngineCode = string(graph.CodeStepQuota)
		d.Flush = se.FlushID
	case ge != nil:
		code = ErrCodeEngine
	case errors.Is(err, trace.ErrFlushNotFound):
		code = ErrCodeNotFound
	case errors.As(err, &ce):
		code = ErrCodeInvalid
		if ce.Pos.IsValid() {
			d.Line = ce.Pos.Line()
		}
	}
	if *d == (ErrorDetails{}) {
		return code, nil
	}
	return code, d
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err with the code and details classifyError derives from it.
func (f *OutputFormatter) Fail(message string, err error) error {
	code, details := classifyError(err)
	msg := fmt.Sprintf("%s: %v", message, err)
	if details == nil {
		return f.Error(code, msg, nil) // a nil *ErrorDetails would encode as null
	}
	return f.Error(code, msg, details)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
