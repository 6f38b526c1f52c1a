package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectWithoutSnapshot(t *testing.T) {
	job := &Job{
		DepositID: "deposit-1a2b3c4d",
		Kind:      KindImport,
		Status:    StatusWaiting,
	}
	jr, err := Project(job)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, jr.Status)
	assert.Empty(t, jr.NewVersion)
	assert.Equal(t, ResultCounts{}, jr.Counts)
	assert.Nil(t, jr.Errors)
}

func TestProjectWithSnapshot(t *testing.T) {
	snap := Snapshot{
		NewVersion: "v4",
		Counts:     ResultCounts{BinariesAdded: 2, ContainersAdded: 1},
		Errors:     []Error{{Code: CodeValidation, Message: "objects/bad.tif: checksum mismatch"}},
	}
	bits, err := json.Marshal(snap)
	require.NoError(t, err)

	job := &Job{Kind: KindImport, Status: StatusCompleted, Result: bits}
	jr, err := Project(job)
	require.NoError(t, err)
	assert.Equal(t, "v4", jr.NewVersion)
	assert.Equal(t, 2, jr.Counts.BinariesAdded)
	require.Len(t, jr.Errors, 1)
	assert.Equal(t, CodeValidation, jr.Errors[0].Code)

	assert.Equal(t, snap, jr.Snapshot())
}

func TestProjectBadSnapshot(t *testing.T) {
	job := &Job{Status: StatusCompleted, Result: json.RawMessage(`{`)}
	_, err := Project(job)
	assert.Error(t, err)
}
