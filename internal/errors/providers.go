package errors

import (
	"fmt"
	"strings"
)

// ProjectNotConfigured creates a configuration error for a missing project ID
func ProjectNotConfigured() *RunError {
	err := ConfigurationError("GCP project not configured")
	err.WithCause("No project found in flags, config file, environment or gcloud configuration")

	err.WithSolutions(
		`runport export --project your-project-id`,
		`export PROJECT_ID="your-project-id"`,
		`gcloud config set project your-project-id`,
	)

	err.WithVerify("gcloud config get-value project")
	err.WithHelp("runport export --help")

	return err
}

// EnumerationFailed decorates an enumeration error with guidance for its outcome
func EnumerationFailed(project string, cause error) *RunError {
	err := EnumerationError(cause)
	err.WithResource("project " + project)

	switch err.Outcome {
	case OutcomePermissionDenied:
		err.WithSolutions(
			`Ensure the caller has roles/run.viewer on the project`,
			fmt.Sprintf(`gcloud projects get-iam-policy %s`, project),
		)
		err.WithVerify("gcloud auth list")
	case OutcomeTimeout, OutcomeUnavailable:
		err.WithSolutions(
			`Check internet connectivity and proxy settings: echo $HTTPS_PROXY`,
			`Retry the export; listing is read-only and safe to repeat`,
		)
		err.WithVerify("gcloud run regions list")
	default:
		if cause != nil && strings.Contains(cause.Error(), "could not find default credentials") {
			err.WithCause("Application default credentials not found")
		}
		err.WithSolutions(
			`gcloud auth application-default login`,
			`export GOOGLE_APPLICATION_CREDENTIALS="/path/to/key.json"`,
		)
		err.WithVerify(fmt.Sprintf("gcloud run services list --project %s", project))
	}

	err.WithHelp("runport export --help")
	return err
}

// InvalidConfiguration creates a configuration error for a bad setting
func InvalidConfiguration(setting string, cause error) *RunError {
	err := ConfigurationError(fmt.Sprintf("Invalid configuration: %s", setting))
	if cause != nil {
		err.WithCause(cause.Error())
		err.Err = cause
	}
	err.WithSolutions(
		`Check ~/.runport/config.yaml and RUNPORT_* environment variables`,
		`Override the setting with the matching export flag`,
	)
	err.WithHelp("runport export --help")
	return err
}
