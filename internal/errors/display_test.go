package errors

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestFprintError(t *testing.T) {
	color.NoColor = true

	tests := []struct {
		name     string
		err      error
		contains []string
	}{
		{
			name: "Missing project",
			err:  ProjectNotConfigured(),
			contains: []string{
				"GCP project not configured",
				"runport export --project your-project-id",
				"gcloud config get-value project",
			},
		},
		{
			name: "Permission denied listing",
			err:  EnumerationFailed("proj", NewOutcomeError(OutcomePermissionDenied, fmt.Errorf("403"))),
			contains: []string{
				"enumeration project proj [PermissionDenied]",
				"roles/run.viewer",
				"gcloud projects get-iam-policy proj",
			},
		},
		{
			name: "Write failure",
			err:  WriteError("/tmp/out/main.tf", fmt.Errorf("disk full")),
			contains: []string{
				"write /tmp/out/main.tf",
				"disk full",
			},
		},
		{
			name:     "Plain error",
			err:      fmt.Errorf("boom"),
			contains: []string{"Error: boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			FprintError(&buf, tt.err)
			output := buf.String()

			for _, expected := range tt.contains {
				assert.Contains(t, output, expected, "Output should contain: %s", expected)
			}
		})
	}
}

func TestFormatErrorWithContext(t *testing.T) {
	err := DescribeError("svc-a (us-central1)", NewOutcomeError(OutcomeTimeout, fmt.Errorf("deadline"))).
		WithSolutions("Raise --request-timeout", "Retry the export")

	context := map[string]string{
		"Region":  "us-central1",
		"Project": "proj",
	}

	output := FormatErrorWithContext(err, context)

	assert.Contains(t, output, "Error: failed to describe resource")
	assert.Contains(t, output, "Type: Describe")
	assert.Contains(t, output, "Outcome: Timeout")
	assert.Contains(t, output, "Resource: svc-a (us-central1)")
	assert.Contains(t, output, "Context:\n  Project: proj\n  Region: us-central1\n")
	assert.Contains(t, output, "1. Raise --request-timeout")
}
