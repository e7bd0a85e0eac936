package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidCatalog(t *testing.T) {
	path := writeCatalog(t, `
features:
  - id: A
    name: Alpha
    priority: 1
    workflow_type: tdd
  - id: B
    name: Bravo
    depends_on: [A]
    priority: 2
    workflow_type: direct
integration_tests:
  - name: smoke
    feature_ids: [A, B]
`)

	cat, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cat.Features, 2)
	assert.Equal(t, "A", cat.Features[0].ID)
	assert.Equal(t, []string{"A"}, cat.Features[1].DependsOn)
	assert.Equal(t, WorkflowTDD, cat.Features[0].WorkflowType)
	require.Len(t, cat.IntegrationTests, 1)
	assert.Equal(t, "smoke", cat.IntegrationTests[0].Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsDuplicateID(t *testing.T) {
	path := writeCatalog(t, `
features:
  - id: A
    name: Alpha
  - id: A
    name: Alpha Two
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "duplicate feature id")
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	path := writeCatalog(t, `
features:
  - id: A
    name: Alpha
    depends_on: [ghost]
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown feature")
}

func TestValidateRejectsSelfDependency(t *testing.T) {
	path := writeCatalog(t, `
features:
  - id: A
    name: Alpha
    depends_on: [A]
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "depends on itself")
}

func TestByIDLookup(t *testing.T) {
	cat := &Catalog{Features: []Feature{{ID: "A"}, {ID: "B"}}}
	idx := cat.ByID()
	assert.Len(t, idx, 2)
	_, ok := idx["A"]
	assert.True(t, ok)
}
