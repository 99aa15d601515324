package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeEnumeration    ErrorType = "Enumeration"
	ErrorTypeDescribe       ErrorType = "Describe"
	ErrorTypeNormalization  ErrorType = "Normalization"
	ErrorTypeSynthesis      ErrorType = "Synthesis"
	ErrorTypeWrite          ErrorType = "Write"
	ErrorTypeConfiguration  ErrorType = "Configuration"
	ErrorTypeAuthentication ErrorType = "Authentication"
)

// Outcome classifies why a provider call did not return a value
type Outcome string

const (
	OutcomeNotFound         Outcome = "NotFound"
	OutcomeTimeout          Outcome = "Timeout"
	OutcomePermissionDenied Outcome = "PermissionDenied"
	OutcomeUnavailable      Outcome = "Unavailable"
	OutcomeCancelled        Outcome = "Cancelled"
	OutcomeFailed           Outcome = "Failed"
)

// Exit codes of the export command
const (
	ExitOK          = 0
	ExitPartial     = 1
	ExitEnumeration = 2
	ExitFatal       = 3
)

// RunError is a typed export failure with actionable guidance
type RunError struct {
	Type        ErrorType
	Outcome     Outcome
	Resource    string
	Message     string
	Cause       string
	Solutions   []string
	Verify      string
	Help        string
	Environment string
	Err         error
}

// Error implements the error interface
func (e *RunError) Error() string {
	var sb strings.Builder
	sb.WriteString(strings.ToLower(string(e.Type)))
	if e.Resource != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Resource)
	}
	if e.Outcome != "" {
		sb.WriteString(" [")
		sb.WriteString(string(e.Outcome))
		sb.WriteString("]")
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Cause != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Cause)
	} else if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error
func (e *RunError) Unwrap() error {
	return e.Err
}

// Format implements fmt.Formatter for custom formatting
func (e *RunError) Format(f fmt.State, verb rune) {
	switch verb {
	case 's':
		fmt.Fprintf(f, "%s", e.Error())
	case 'v':
		if f.Flag('+') {
			fmt.Fprintf(f, "[%s] %s", e.Type, e.Error())
		} else {
			fmt.Fprintf(f, "%s", e.Error())
		}
	case 'q':
		fmt.Fprintf(f, "%q", e.Error())
	default:
		fmt.Fprintf(f, "%s", e.Error())
	}
}

// New creates a new RunError
func New(errType ErrorType, message string) *RunError {
	return &RunError{
		Type:        errType,
		Message:     message,
		Environment: detectEnvironment(),
	}
}

// Wrap creates a RunError around err, taking the outcome from err
func Wrap(errType ErrorType, err error, message string) *RunError {
	e := New(errType, message)
	e.Err = err
	if err != nil {
		e.Outcome = OutcomeOf(err)
	}
	return e
}

// WithResource names the resource the error applies to
func (e *RunError) WithResource(resource string) *RunError {
	e.Resource = resource
	return e
}

// WithCause adds cause information
func (e *RunError) WithCause(cause string) *RunError {
	e.Cause = cause
	return e
}

// WithSolutions adds solution steps
func (e *RunError) WithSolutions(solutions ...string) *RunError {
	e.Solutions = append(e.Solutions, solutions...)
	return e
}

// WithVerify adds verification command
func (e *RunError) WithVerify(verify string) *RunError {
	e.Verify = verify
	return e
}

// WithHelp adds help command
func (e *RunError) WithHelp(help string) *RunError {
	e.Help = help
	return e
}

// EnumerationError reports a failed resource listing. It aborts the run.
func EnumerationError(err error) *RunError {
	return Wrap(ErrorTypeEnumeration, err, "failed to list resources")
}

// DescribeError reports a resource whose configuration could not be fetched
func DescribeError(resource string, err error) *RunError {
	return Wrap(ErrorTypeDescribe, err, "failed to describe resource").WithResource(resource)
}

// NormalizationError reports a provider document that violates a schema assumption
func NormalizationError(resource, message string) *RunError {
	return New(ErrorTypeNormalization, message).WithResource(resource)
}

// SynthesisError reports generated configuration that failed to parse back
func SynthesisError(artifact, message string) *RunError {
	return New(ErrorTypeSynthesis, message).WithResource(artifact)
}

// WriteError reports a failure persisting the export
func WriteError(path string, err error) *RunError {
	return Wrap(ErrorTypeWrite, err, "failed to write export").WithResource(path)
}

// ConfigurationError reports invalid or missing configuration
func ConfigurationError(message string) *RunError {
	return New(ErrorTypeConfiguration, message)
}

// OutcomeError carries the classified outcome of a provider call
type OutcomeError struct {
	Outcome Outcome
	Err     error
}

// NewOutcomeError classifies err as outcome
func NewOutcomeError(outcome Outcome, err error) *OutcomeError {
	return &OutcomeError{Outcome: outcome, Err: err}
}

func (e *OutcomeError) Error() string {
	if e.Err == nil {
		return string(e.Outcome)
	}
	return string(e.Outcome) + ": " + e.Err.Error()
}

func (e *OutcomeError) Unwrap() error {
	return e.Err
}

// OutcomeOf classifies err; provider classification wins over context state
func OutcomeOf(err error) Outcome {
	if err == nil {
		return ""
	}

	var outcomeErr *OutcomeError
	if stderrors.As(err, &outcomeErr) {
		return outcomeErr.Outcome
	}

	var runErr *RunError
	if stderrors.As(err, &runErr) && runErr.Outcome != "" {
		return runErr.Outcome
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case stderrors.Is(err, context.Canceled):
		return OutcomeCancelled
	}
	return OutcomeFailed
}

// IsNotFound reports whether err was classified as NotFound
func IsNotFound(err error) bool {
	return OutcomeOf(err) == OutcomeNotFound
}

// IsType reports whether err is a RunError of the given type
func IsType(err error, errType ErrorType) bool {
	var runErr *RunError
	return stderrors.As(err, &runErr) && runErr.Type == errType
}

// GetExitCode returns the exit code for a fatal run error
func GetExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var runErr *RunError
	if !stderrors.As(err, &runErr) {
		return ExitFatal
	}

	switch runErr.Type {
	case ErrorTypeEnumeration:
		return ExitEnumeration
	case ErrorTypeDescribe:
		return ExitPartial
	default:
		return ExitFatal
	}
}

// detectEnvironment detects the current environment
func detectEnvironment() string {
	ciVars := []string{"CI", "CONTINUOUS_INTEGRATION", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_HOME"}
	for _, v := range ciVars {
		if os.Getenv(v) != "" {
			return "CI/CD detected"
		}
	}

	if os.Getenv("CLOUD_SHELL") == "true" || os.Getenv("GOOGLE_CLOUD_SHELL") == "true" {
		return "Cloud Shell detected"
	}

	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "Container environment detected"
	}

	return "Development workstation detected"
}
