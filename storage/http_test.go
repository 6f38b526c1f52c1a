package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/rest"
)

func repoServer(t *testing.T, handler http.HandlerFunc) (*HTTPRepository, string) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewHTTPRepository(rest.NewClient("jobs", "secret", ts.URL)), ts.URL
}

func TestHTTPRepositoryCurrentVersion(t *testing.T) {
	repo, base := repoServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/groups/ag-1/versions", r.URL.Path)
		user, _, _ := r.BasicAuth()
		assert.Equal(t, "jobs", user)
		json.NewEncoder(w).Encode(map[string]string{"current": "v3"})
	})

	current, err := repo.GetCurrentVersion(context.Background(), base+"/groups/ag-1")
	require.NoError(t, err)
	assert.Equal(t, "v3", current)
}

func TestHTTPRepositoryApplyConflict(t *testing.T) {
	repo, base := repoServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		var body struct {
			SourceVersion string `json:"source_version"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "v2", body.SourceVersion)
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{
			"title": "Version v2 is no longer current",
			"id":    "conflict",
		})
	})

	_, err := repo.ApplyChangeSet(context.Background(), base+"/groups/ag-1", "v2", models.ChangeSet{
		BinariesAdded: []models.BinaryOp{{Path: "objects/a.tif"}},
	})
	require.Error(t, err)
	terr := models.Classify(err)
	assert.Equal(t, models.CodeConflict, terr.Code)
	assert.False(t, terr.Retryable)
}

func TestHTTPRepositoryStorageMap(t *testing.T) {
	repo, base := repoServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/groups/ag-1/versions/v2/map", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"map": map[string]string{"objects/a.tif": "blobs/aa11"},
		})
	})

	smap, err := repo.GetStorageMap(context.Background(), base+"/groups/ag-1", "v2")
	require.NoError(t, err)
	assert.Equal(t, StorageMap{"objects/a.tif": "blobs/aa11"}, smap)
}

func TestHTTPRepositoryForeignGroup(t *testing.T) {
	repo, _ := repoServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := repo.GetCurrentVersion(context.Background(), "https://elsewhere.example.org/groups/ag-1")
	require.Error(t, err)
	assert.Equal(t, models.CodeValidation, models.Classify(err).Code)
}

func TestHTTPRepositoryNotFound(t *testing.T) {
	repo, base := repoServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"title": "No archival group at /groups/missing",
			"id":    "not_found",
		})
	})
	_, err := repo.GetCurrentVersion(context.Background(), base+"/groups/missing")
	require.Error(t, err)
	assert.Equal(t, models.CodeNotFound, models.Classify(err).Code)
}
