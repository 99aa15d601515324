package output

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/runport/internal/collectors"
	"github.com/yairfalse/runport/internal/errors"
	"github.com/yairfalse/runport/internal/exporter"
	"github.com/yairfalse/runport/internal/storage"
	"github.com/yairfalse/runport/pkg/types"
)

var (
	refA = types.ResourceRef{Name: "svc-a", Region: "us-central1"}
	refB = types.ResourceRef{Name: "svc-b", Region: "us-central1"}
	refC = types.ResourceRef{Name: "svc-c", Region: "us-central1"}
)

func partialSummary() *exporter.Summary {
	return &exporter.Summary{
		ProjectID: "demo-project",
		Region:    "us-central1",
		OutDir:    "./export",
		Resources: []types.ResourceRef{refA, refC},
		Skipped: []collectors.Skipped{{
			Ref:     refB,
			Reason:  string(errors.OutcomePermissionDenied),
			Outcome: errors.OutcomePermissionDenied,
			Message: "describe svc-b (us-central1): 403",
		}},
		Warnings: []collectors.Warning{{
			Resource: refA.String(),
			Stage:    collectors.StageIAM,
			Message:  "IAM policy not exported: 503",
		}},
		Variables: 2,
		Diff: &storage.ManifestDiff{
			Added:   []types.ResourceRef{refC},
			Removed: []types.ResourceRef{},
			Changed: []storage.ResourceChange{{Ref: refA, Paths: []string{"attributes.image"}}},
		},
		Written:   []string{"main.tf", "manifest.json"},
		Unchanged: []string{"variables.tf"},
		Published: []string{"gs://exports/prod/main.tf", "gs://exports/prod/manifest.json"},
		Duration:  1500 * time.Millisecond,
		ExitCode:  errors.ExitPartial,
	}
}

func TestNewFormatter(t *testing.T) {
	f, err := NewFormatter("json", false)
	require.NoError(t, err)
	assert.IsType(t, &JSONFormatter{}, f)

	f, err = NewFormatter("", true)
	require.NoError(t, err)
	assert.IsType(t, &TextFormatter{}, f)

	_, err = NewFormatter("yaml", false)
	assert.Error(t, err)
}

func TestTextFormatter_PartialExport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&TextFormatter{noColor: true}).FormatSummary(partialSummary(), &buf))
	out := buf.String()

	assert.Contains(t, out, "Export of demo-project (us-central1)")
	assert.Contains(t, out, "2 exported, 1 skipped")
	assert.Contains(t, out, "+1 added -0 removed ~1 changed")
	assert.Contains(t, out, "  + svc-c (us-central1)")
	assert.Contains(t, out, "  ~ svc-a (us-central1)  attributes.image")
	assert.Contains(t, out, "svc-b (us-central1)  PermissionDenied")
	assert.Contains(t, out, "svc-a (us-central1) iam: IAM policy not exported: 503")
	assert.Contains(t, out, "Published 2 objects to gs://exports/prod/")
	assert.Contains(t, out, "Partial export, 1 resources skipped, written in 1.5s")
}

func TestTextFormatter_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		summary *exporter.Summary
		want    string
	}{
		{
			name:    "complete",
			summary: &exporter.Summary{ProjectID: "p", Region: "r", Duration: 2 * time.Second},
			want:    "Export complete in 2.0s",
		},
		{
			name:    "interrupted",
			summary: &exporter.Summary{ProjectID: "p", Region: "r", Cancelled: true, ExitCode: errors.ExitPartial},
			want:    "Export interrupted, partial results written",
		},
		{
			name:    "failed",
			summary: &exporter.Summary{ProjectID: "p", Region: "r", Error: "enumeration: failed to list resources", ExitCode: errors.ExitEnumeration},
			want:    "Export failed: enumeration: failed to list resources",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, (&TextFormatter{noColor: true}).FormatSummary(tt.summary, &buf))
			assert.Contains(t, buf.String(), tt.want)
			assert.NotContains(t, buf.String(), "Changes:")
		})
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).FormatSummary(partialSummary(), &buf))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "demo-project", decoded["project_id"])
	assert.Equal(t, float64(errors.ExitPartial), decoded["exit_code"])
	assert.Len(t, decoded["skipped"], 1)

	diff := decoded["diff"].(map[string]any)
	assert.Len(t, diff["added"], 1)
}

func TestPublishedPrefix(t *testing.T) {
	assert.Equal(t, "gs://b/p/", publishedPrefix([]string{"gs://b/p/main.tf", "gs://b/p/manifest.json"}))
	assert.Equal(t, "gs://b/", publishedPrefix([]string{"gs://b/x/main.tf", "gs://b/y/main.tf"}))
	assert.Equal(t, "gs://b/", publishedPrefix([]string{"gs://b/main.tf"}))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "abcdefg...", truncateString("abcdefghijklmnop", 10))

	got := truncateString("dépôt indisponible: délai dépassé", 10)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "dépôt i...", got)
	assert.Equal(t, 10, utf8.RuneCountInString(got))
}
