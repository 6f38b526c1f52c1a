// Package siegfried runs signature-based format identification over deposit
// files and parses the tool's JSON output.
package siegfried

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os/exec"

	"github.com/arkstead/keepsake/models"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Tool invokes the sf binary as a subprocess.
type Tool struct {
	Path   string
	logger *zap.Logger
}

func New(path string, logger *zap.Logger) *Tool {
	if path == "" {
		path = "sf"
	}
	return &Tool{Path: path, logger: logger}
}

// Identify runs format identification over every file under root. Returns
// one record per file with digest, size and format matches.
func (t *Tool) Identify(ctx context.Context, root string) ([]models.FileRecord, error) {
	cmd := exec.CommandContext(ctx, t.Path, "-json", "-hash", "sha256", root)

	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	t.logger.Debug("running format identification", zap.String("root", root))
	if err := cmd.Run(); err != nil {
		return nil, models.NewUnknown(
			errors.Wrapf(err, "siegfried: sf failed: %s", stderr.String()))
	}
	return Parse(&out)
}

// output mirrors the subset of sf's JSON document the job subsystem reads.
type output struct {
	Siegfried string   `json:"siegfried"`
	Scandate  string   `json:"scandate"`
	Files     []sfFile `json:"files"`
}

type sfFile struct {
	Filename string               `json:"filename"`
	Filesize int64                `json:"filesize"`
	Modified string               `json:"modified"`
	Errors   string               `json:"errors"`
	SHA256   string               `json:"sha256"`
	Matches  []models.FormatMatch `json:"matches"`
}

// Parse decodes an sf JSON document into file records.
func Parse(r io.Reader) ([]models.FileRecord, error) {
	var doc output
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, models.NewUnknown(errors.Wrap(err, "siegfried: decoding output"))
	}
	records := make([]models.FileRecord, 0, len(doc.Files))
	for _, f := range doc.Files {
		records = append(records, models.FileRecord{
			Filename: f.Filename,
			Size:     f.Filesize,
			Modified: f.Modified,
			Digest:   f.SHA256,
			Errors:   f.Errors,
			Matches:  f.Matches,
		})
	}
	return records, nil
}
