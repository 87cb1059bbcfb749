package identity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceUUID_StableWithinProcess(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	first := InstanceUUID("client", "prod")
	second := InstanceUUID("client", "prod")

	assert.Regexp(t, uuidPattern, first)
	assert.Equal(t, first, second)
}

func TestInstanceUUID_DistinctPerClientAndEnv(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	a := InstanceUUID("client", "prod")
	b := InstanceUUID("client", "staging")
	c := InstanceUUID("other", "prod")

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, b, c)
}

func TestInstanceUUID_SweepsExpiredUUIDFile(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)
	dir := filepath.Join(tmp, "apitally")
	require.NoError(t, os.MkdirAll(dir, 0o777))

	hash := hashKey("client", "prod")
	uuidPath := slotPath(dir, hash, 0, "uuid")
	stale := uuid.NewString()
	require.NoError(t, os.WriteFile(uuidPath, []byte(stale), 0o644))
	old := time.Now().Add(-25 * time.Hour)
	require.NoError(t, os.Chtimes(uuidPath, old, old))

	got := InstanceUUID("client", "prod")
	assert.NotEqual(t, stale, got)
	assert.Regexp(t, uuidPattern, got)
}

func TestInstanceUUID_SweepsInvalidUUIDFile(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)
	dir := filepath.Join(tmp, "apitally")
	require.NoError(t, os.MkdirAll(dir, 0o777))

	hash := hashKey("client", "prod")
	uuidPath := slotPath(dir, hash, 0, "uuid")
	require.NoError(t, os.WriteFile(uuidPath, []byte("not a uuid"), 0o644))

	got := InstanceUUID("client", "prod")
	assert.Regexp(t, uuidPattern, got)

	onDisk, err := os.ReadFile(uuidPath)
	require.NoError(t, err)
	assert.Equal(t, got, string(onDisk))
}

func TestInstanceUUID_ReclaimsSlotWithUnreadablePidFile(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)
	dir := filepath.Join(tmp, "apitally")
	require.NoError(t, os.MkdirAll(dir, 0o777))

	hash := hashKey("client", "prod")
	require.NoError(t, os.WriteFile(slotPath(dir, hash, 0, "pid"), []byte("garbage"), 0o644))
	existing := uuid.NewString()
	require.NoError(t, os.WriteFile(slotPath(dir, hash, 0, "uuid"), []byte(existing), 0o644))

	got := InstanceUUID("client", "prod")
	assert.Equal(t, existing, got)
}

func TestInstanceUUID_RemovesDuplicateUUIDs(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)
	dir := filepath.Join(tmp, "apitally")
	require.NoError(t, os.MkdirAll(dir, 0o777))

	hash := hashKey("client", "prod")
	dup := uuid.NewString()
	require.NoError(t, os.WriteFile(slotPath(dir, hash, 0, "uuid"), []byte(dup), 0o644))
	require.NoError(t, os.WriteFile(slotPath(dir, hash, 1, "uuid"), []byte(dup), 0o644))

	got := InstanceUUID("client", "prod")
	assert.Equal(t, dup, got)

	_, err := os.Stat(slotPath(dir, hash, 1, "uuid"))
	assert.True(t, os.IsNotExist(err))
}
