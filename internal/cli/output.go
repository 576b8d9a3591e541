package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/bissquit/clubmail/internal/mailer"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The operation was refused (quota, not found, too late, ...)
	ExitCommandError = 2 // The command could not run (bad flags, config, database)
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
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

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope written in json format.
type Response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Success writes a successful result.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data})
	}

	var err error
	switch v := data.(type) {
	case *mailer.ScheduleResult:
		_, err = fmt.Fprintf(f.Writer, "%s\nenqueued:   %d\nduplicates: %d\n", v.Message, v.Enqueued, v.Duplicates)
	case mailer.ProcessStats:
		_, err = fmt.Fprintf(f.Writer, "processed: %d\nsent:      %d\nfailed:    %d\nretried:   %d\nskipped:   %d\nthrottled: %t\n",
			v.Processed, v.Sent, v.Failed, v.Retried, v.Skipped, v.Throttled)
	case mailer.RetryStats:
		_, err = fmt.Fprintf(f.Writer, "retried: %d\nsuccess: %d\nfailed:  %d\n", v.Retried, v.Success, v.Failed)
	case *mailer.QueueStats:
		_, err = fmt.Fprintf(f.Writer, "pending:    %d\nprocessing: %d\nsent:       %d\nfailed:     %d\n",
			v.Pending, v.Processing, v.Sent, v.Failed)
	default:
		_, err = fmt.Fprintln(f.Writer, data)
	}
	return err
}

// Error writes a failure in the configured format. Text errors are left to the caller.
func (f *OutputFormatter) Error(err error) error {
	if f.Format != "json" {
		return nil
	}
	return json.NewEncoder(f.Writer).Encode(Response{Status: "error", Error: err.Error()})
}
