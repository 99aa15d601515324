package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/runport/internal/errors"
	"github.com/yairfalse/runport/pkg/types"
)

// fakeAPI serves the handful of Cloud Run and IAM routes the collector uses
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}
	writeError := func(w http.ResponseWriter, code int, msg string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, code, msg)
	}

	mux.HandleFunc("/v1/projects/proj/locations", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pageToken") == "" {
			writeJSON(w, map[string]any{
				"locations":     []any{map[string]any{"locationId": "us-east1"}},
				"nextPageToken": "page2",
			})
			return
		}
		writeJSON(w, map[string]any{
			"locations": []any{map[string]any{"locationId": "europe-west1"}, map[string]any{"locationId": "us-central1"}},
		})
	})

	mux.HandleFunc("/v1/projects/proj/locations/us-central1/services", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("continue") == "" {
			writeJSON(w, map[string]any{
				"items":    []any{map[string]any{"metadata": map[string]any{"name": "svc-a"}}},
				"metadata": map[string]any{"continue": "next"},
			})
			return
		}
		writeJSON(w, map[string]any{
			"items": []any{map[string]any{"metadata": map[string]any{"name": "svc-b"}}},
		})
	})

	mux.HandleFunc("/v1/projects/proj/locations/us-east1/services", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusForbidden, "run.services.list denied")
	})

	mux.HandleFunc("/v1/projects/proj/locations/us-central1/services/svc-a", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"apiVersion": "serving.knative.dev/v1",
			"kind":       "Service",
			"metadata":   map[string]any{"name": "svc-a"},
			"spec": map[string]any{
				"template": map[string]any{
					"spec": map[string]any{
						"serviceAccountName": "runner@proj.iam.gserviceaccount.com",
						"containers": []any{
							map[string]any{
								"image": "gcr.io/proj/a:1",
								"ports": []any{map[string]any{"containerPort": 8080}},
							},
						},
					},
				},
			},
		})
	})

	mux.HandleFunc("/v1/projects/proj/locations/us-central1/services/svc-a:getIamPolicy", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"bindings": []any{
				map[string]any{"role": "roles/run.invoker", "members": []string{"allUsers", "user:b@example.com"}},
				map[string]any{"role": "roles/run.invoker", "members": []string{"allUsers"}},
			},
		})
	})

	mux.HandleFunc("/v1/projects/proj/locations/us-central1/services/svc-b", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusServiceUnavailable, "backend unavailable")
	})

	mux.HandleFunc("/v1/projects/-/serviceAccounts/", func(w http.ResponseWriter, r *http.Request) {
		email := strings.TrimPrefix(r.URL.Path, "/v1/projects/-/serviceAccounts/")
		if email != "runner@proj.iam.gserviceaccount.com" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeJSON(w, map[string]any{
			"email":       email,
			"displayName": "Runner",
			"uniqueId":    "1234",
			"projectId":   "proj",
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestCollector(t *testing.T) *RunCollector {
	t.Helper()
	srv := fakeAPI(t)

	client, err := NewClient(context.Background(), ClientConfig{
		ProjectID:             "proj",
		RunEndpoint:           srv.URL + "/",
		IAMEndpoint:           srv.URL + "/",
		WithoutAuthentication: true,
	})
	require.NoError(t, err)
	return NewRunCollector(client)
}

func TestRunCollector_ListLocationsPages(t *testing.T) {
	c := newTestCollector(t)

	regions, err := c.ListLocations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"europe-west1", "us-central1", "us-east1"}, regions)
}

func TestRunCollector_ListFollowsContinue(t *testing.T) {
	c := newTestCollector(t)

	refs, err := c.List(context.Background(), types.KindRunService, "us-central1")
	require.NoError(t, err)
	assert.Equal(t, []types.ResourceRef{
		{Name: "svc-a", Region: "us-central1"},
		{Name: "svc-b", Region: "us-central1"},
	}, refs)
}

func TestRunCollector_ListClassifiesErrors(t *testing.T) {
	c := newTestCollector(t)

	_, err := c.List(context.Background(), types.KindRunService, "us-east1")
	require.Error(t, err)
	assert.Equal(t, errors.OutcomePermissionDenied, errors.OutcomeOf(err))

	_, err = c.List(context.Background(), "run.job", "us-central1")
	assert.Error(t, err)
}

func TestRunCollector_Describe(t *testing.T) {
	c := newTestCollector(t)

	config, err := c.Describe(context.Background(), types.KindRunService, types.ResourceRef{Name: "svc-a", Region: "us-central1"})
	require.NoError(t, err)

	spec := config["spec"].(map[string]any)["template"].(map[string]any)["spec"].(map[string]any)
	assert.Equal(t, "runner@proj.iam.gserviceaccount.com", spec["serviceAccountName"])
	container := spec["containers"].([]any)[0].(map[string]any)
	assert.Equal(t, "gcr.io/proj/a:1", container["image"])

	_, err = c.Describe(context.Background(), types.KindRunService, types.ResourceRef{Name: "svc-b", Region: "us-central1"})
	assert.Equal(t, errors.OutcomeUnavailable, errors.OutcomeOf(err))

	_, err = c.Describe(context.Background(), types.KindRunService, types.ResourceRef{Name: "svc-gone", Region: "us-central1"})
	assert.Equal(t, errors.OutcomeNotFound, errors.OutcomeOf(err))
}

func TestRunCollector_GetIamPolicyMergesRoles(t *testing.T) {
	c := newTestCollector(t)

	bindings, err := c.GetIamPolicy(context.Background(), types.KindRunService, types.ResourceRef{Name: "svc-a", Region: "us-central1"})
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "roles/run.invoker", bindings[0].Role)
	assert.Equal(t, []string{"allUsers", "user:b@example.com"}, bindings[0].Members)
}

func TestRunCollector_DescribeIdentity(t *testing.T) {
	c := newTestCollector(t)

	sa, err := c.DescribeIdentity(context.Background(), "runner@proj.iam.gserviceaccount.com")
	require.NoError(t, err)
	assert.Equal(t, "Runner", sa.DisplayName)
	assert.Equal(t, "1234", sa.UniqueID)
	assert.Equal(t, "runner", sa.AccountID())

	_, err = c.DescribeIdentity(context.Background(), "gone@proj.iam.gserviceaccount.com")
	assert.True(t, errors.IsNotFound(err))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.Equal(t, errors.OutcomeTimeout, errors.OutcomeOf(classify(context.DeadlineExceeded)))
	assert.Equal(t, errors.OutcomeFailed, errors.OutcomeOf(classify(fmt.Errorf("boom"))))

	assert.Equal(t, errors.OutcomeNotFound, outcomeForStatus(404))
	assert.Equal(t, errors.OutcomePermissionDenied, outcomeForStatus(401))
	assert.Equal(t, errors.OutcomeUnavailable, outcomeForStatus(429))
	assert.Equal(t, errors.OutcomeUnavailable, outcomeForStatus(502))
	assert.Equal(t, errors.OutcomeTimeout, outcomeForStatus(504))
	assert.Equal(t, errors.OutcomeFailed, outcomeForStatus(400))
}
