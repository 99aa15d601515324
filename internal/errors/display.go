package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/viper"
)

// DisplayError formats and displays an error on stderr
func DisplayError(err error) {
	FprintError(os.Stderr, err)
}

// FprintError writes a RunError with its guidance to w
func FprintError(w io.Writer, err error) {
	noColor := os.Getenv("NO_COLOR") != "" || os.Getenv("RUNPORT_NO_COLOR") != ""

	// Also check viper configuration (set by --no-color flag)
	if viperNoColor := getViperBool("output.no_color"); viperNoColor {
		noColor = true
	}

	color.NoColor = noColor

	var runErr *RunError
	if !stderrors.As(err, &runErr) {
		fmt.Fprintf(w, "%s\n", color.RedString("Error: %v", err))
		return
	}

	colorFunc := getErrorStyle(runErr.Type)

	fmt.Fprintf(w, "\n%s\n", colorFunc(runErr.Error()))

	if runErr.Environment != "" {
		fmt.Fprintf(w, "   %s %s\n", color.CyanString("Environment:"), color.HiBlackString(runErr.Environment))
	}

	if len(runErr.Solutions) > 0 {
		fmt.Fprintf(w, "\n   %s\n", color.GreenString("Solutions:"))
		for i, solution := range runErr.Solutions {
			fmt.Fprintf(w, "   %s %s\n", color.HiBlackString(fmt.Sprintf("%d.", i+1)), solution)
		}
	}

	if runErr.Verify != "" {
		fmt.Fprintf(w, "\n   %s %s\n", color.BlueString("Verify:"), color.HiWhiteString(runErr.Verify))
	}

	if runErr.Help != "" {
		fmt.Fprintf(w, "   %s %s\n", color.MagentaString("Help:"), color.HiWhiteString(runErr.Help))
	}

	fmt.Fprintln(w)
}

// getErrorStyle returns the appropriate color function for an error type
func getErrorStyle(errType ErrorType) func(format string, a ...interface{}) string {
	switch errType {
	case ErrorTypeConfiguration:
		return color.YellowString
	case ErrorTypeDescribe:
		return color.YellowString
	case ErrorTypeEnumeration, ErrorTypeAuthentication:
		return color.RedString
	case ErrorTypeWrite:
		return color.MagentaString
	default:
		return color.RedString
	}
}

// FormatErrorWithContext formats an error without color for CI/CD logs
func FormatErrorWithContext(err error, context map[string]string) string {
	var sb strings.Builder

	var runErr *RunError
	if !stderrors.As(err, &runErr) {
		sb.WriteString(fmt.Sprintf("Error: %v\n", err))
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("Error: %s\n", runErr.Message))
	sb.WriteString(fmt.Sprintf("Type: %s\n", runErr.Type))
	if runErr.Outcome != "" {
		sb.WriteString(fmt.Sprintf("Outcome: %s\n", runErr.Outcome))
	}
	if runErr.Resource != "" {
		sb.WriteString(fmt.Sprintf("Resource: %s\n", runErr.Resource))
	}
	if runErr.Cause != "" {
		sb.WriteString(fmt.Sprintf("Cause: %s\n", runErr.Cause))
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("\nContext:\n")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", k, context[k]))
		}
	}

	if len(runErr.Solutions) > 0 {
		sb.WriteString("\nSolutions:\n")
		for i, solution := range runErr.Solutions {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, solution))
		}
	}

	if runErr.Verify != "" {
		sb.WriteString(fmt.Sprintf("\nVerify: %s\n", runErr.Verify))
	}

	if runErr.Help != "" {
		sb.WriteString(fmt.Sprintf("Help: %s\n", runErr.Help))
	}

	return sb.String()
}

// getViperBool safely gets a boolean value from viper
func getViperBool(key string) bool {
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	return false
}
