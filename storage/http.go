package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	shyprest "github.com/Shyp/rest"

	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/rest"
)

// HTTPRepository talks to the storage service's versioned-repository API.
// Archival groups are identified by their URI under the client's base.
type HTTPRepository struct {
	Client *rest.Client
}

func NewHTTPRepository(client *rest.Client) *HTTPRepository {
	return &HTTPRepository{Client: client}
}

// groupPath turns an absolute group URI into a request path. Groups outside
// the storage base are rejected.
func (r *HTTPRepository) groupPath(group string) (string, error) {
	path := strings.TrimPrefix(group, r.Client.Base)
	if path == group {
		return "", models.NewValidation(
			"Archival group %s is not under the storage base", group)
	}
	return path, nil
}

// translate maps an HTTP problem response onto the error taxonomy.
func translate(err error) error {
	apierr, ok := err.(*shyprest.Error)
	if !ok {
		return models.NewUnknown(err)
	}
	switch apierr.Status {
	case http.StatusNotFound, http.StatusGone:
		return models.NewNotFound("%s", apierr.Title)
	case http.StatusConflict, http.StatusPreconditionFailed:
		return models.NewConflict("%s", apierr.Title)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return models.NewValidation("%s", apierr.Title)
	default:
		return models.NewUnknown(apierr)
	}
}

type versionsDocument struct {
	Current string `json:"current"`
}

func (r *HTTPRepository) GetCurrentVersion(ctx context.Context, group string) (string, error) {
	path, err := r.groupPath(group)
	if err != nil {
		return "", err
	}
	req, err := r.Client.NewRequest(ctx, "GET", path+"/versions", nil)
	if err != nil {
		return "", models.NewUnknown(err)
	}
	var doc versionsDocument
	if err := r.Client.Do(req, &doc); err != nil {
		return "", translate(err)
	}
	return doc.Current, nil
}

type applyRequest struct {
	SourceVersion string           `json:"source_version"`
	Changes       models.ChangeSet `json:"changes"`
}

type applyResponse struct {
	Version string `json:"version"`
}

func (r *HTTPRepository) ApplyChangeSet(ctx context.Context, group, version string, changes models.ChangeSet) (string, error) {
	path, err := r.groupPath(group)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(applyRequest{SourceVersion: version, Changes: changes})
	if err != nil {
		return "", models.NewUnknown(err)
	}
	req, err := r.Client.NewRequest(ctx, "POST", path+"/versions", bytes.NewReader(body))
	if err != nil {
		return "", models.NewUnknown(err)
	}
	var doc applyResponse
	if err := r.Client.Do(req, &doc); err != nil {
		return "", translate(err)
	}
	return doc.Version, nil
}

type storageMapDocument struct {
	Map map[string]string `json:"map"`
}

func (r *HTTPRepository) GetStorageMap(ctx context.Context, group, version string) (StorageMap, error) {
	path, err := r.groupPath(group)
	if err != nil {
		return nil, err
	}
	target := path + "/map"
	if version != "" {
		target = path + "/versions/" + version + "/map"
	}
	req, err := r.Client.NewRequest(ctx, "GET", target, nil)
	if err != nil {
		return nil, models.NewUnknown(err)
	}
	var doc storageMapDocument
	if err := r.Client.Do(req, &doc); err != nil {
		return nil, translate(err)
	}
	return StorageMap(doc.Map), nil
}
