package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPolicyEmptyPath(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	kp := p.For("import")
	assert.Equal(t, DefaultKindPolicy, kp)
}

func TestLoadPolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	body := `kinds:
  import:
    concurrency: 4
    max_deliveries: 3
    backoff_base: 1s
    backoff_cap: 30s
    stuck_after: 10m
  export:
    concurrency: 1
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)

	imp := p.For("import")
	assert.Equal(t, 4, imp.Concurrency)
	assert.Equal(t, 3, imp.MaxDeliveries)
	assert.Equal(t, time.Second, imp.BackoffBase)
	assert.Equal(t, 30*time.Second, imp.BackoffCap)
	assert.Equal(t, 10*time.Minute, imp.StuckAfter)

	// omitted fields fall back to defaults
	exp := p.For("export")
	assert.Equal(t, 1, exp.Concurrency)
	assert.Equal(t, DefaultKindPolicy.MaxDeliveries, exp.MaxDeliveries)

	// unknown kinds get the full default policy
	assert.Equal(t, DefaultKindPolicy, p.For("pipeline"))
}

func TestBackoffSchedule(t *testing.T) {
	kp := KindPolicy{BackoffBase: time.Second, BackoffCap: 10 * time.Second}
	assert.Equal(t, time.Second, kp.Backoff(1))
	assert.Equal(t, 2*time.Second, kp.Backoff(2))
	assert.Equal(t, 4*time.Second, kp.Backoff(3))
	assert.Equal(t, 8*time.Second, kp.Backoff(4))
	// capped from here on
	assert.Equal(t, 10*time.Second, kp.Backoff(5))
	assert.Equal(t, 10*time.Second, kp.Backoff(50))
	// deliveries below 1 are clamped
	assert.Equal(t, time.Second, kp.Backoff(0))
}
