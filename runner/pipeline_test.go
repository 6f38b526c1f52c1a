package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/test/factory"
)

type fakeIdentifier struct {
	records []models.FileRecord
	err     error
	roots   []string
}

func (f *fakeIdentifier) Identify(ctx context.Context, root string) ([]models.FileRecord, error) {
	f.roots = append(f.roots, root)
	return f.records, f.err
}

func TestPipelineCollectsRecords(t *testing.T) {
	tool := &fakeIdentifier{records: []models.FileRecord{
		{Filename: "objects/METS.xml", Size: 48213, Digest: "aa"},
		{Filename: "objects/0001.tif", Size: 28114092, Digest: "bb"},
		{Filename: "objects/broken.jp2", Size: 0, Digest: "", Errors: "failed to read"},
	}}
	r := &PipelineRunner{Tool: tool, Logger: zap.NewNop()}

	job := factory.Job(models.KindPipeline, models.PipelineRequest{
		ArchivalGroup: testGroup,
		Root:          "/staging/deposit-7f3a",
	})
	snap, err := r.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 3, len(snap.Files))
	assert.Equal(t, []string{"/staging/deposit-7f3a"}, tool.roots)

	// Per-file read failures surface in the result's error list without
	// failing the job.
	require.Equal(t, 1, len(snap.Errors))
	assert.Equal(t, models.CodeValidation, snap.Errors[0].Code)
	assert.Contains(t, snap.Errors[0].Message, "objects/broken.jp2")
}

func TestPipelineRequiresRoot(t *testing.T) {
	r := &PipelineRunner{Tool: &fakeIdentifier{}, Logger: zap.NewNop()}
	job := factory.Job(models.KindPipeline, models.PipelineRequest{ArchivalGroup: testGroup})
	_, err := r.Execute(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, models.CodeValidation, models.Classify(err).Code)
}

func TestPipelineToolFailureIsRetryable(t *testing.T) {
	r := &PipelineRunner{
		Tool:   &fakeIdentifier{err: models.NewUnknown(assert.AnError)},
		Logger: zap.NewNop(),
	}
	job := factory.Job(models.KindPipeline, models.PipelineRequest{
		ArchivalGroup: testGroup,
		Root:          "/staging/deposit-7f3a",
	})
	_, err := r.Execute(context.Background(), job)
	require.Error(t, err)
	assert.True(t, models.Classify(err).Retryable)
}

func TestRunnerSetDispatch(t *testing.T) {
	set := Set{models.KindPipeline: &PipelineRunner{Tool: &fakeIdentifier{}, Logger: zap.NewNop()}}

	r, err := set.For(models.KindPipeline)
	require.NoError(t, err)
	assert.NotNil(t, r)

	_, err = set.For(models.KindImport)
	require.Error(t, err)
	assert.Equal(t, models.CodeValidation, models.Classify(err).Code)
}
