package signal

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCatalogScansNSRRLayout(t *testing.T) {
	root := t.TempDir()
	edfDir := filepath.Join(root, "edfs")
	annDir := filepath.Join(root, "annotations-events-nsrr")
	writeSubject(t, filepath.Join(edfDir, "shhs1-200002.edf"), filepath.Join(annDir, "shhs1-200002-nsrr.xml"), 30)
	writeSubject(t, filepath.Join(edfDir, "shhs1-200001.edf"), filepath.Join(annDir, "shhs1-200001-nsrr.xml"), 30)
	// No annotation file: not replayable.
	writeEDF(t, filepath.Join(edfDir, "shhs1-200003.edf"), 30, 1, shhsChannels())

	cat, err := NewCatalog(CatalogConfig{EDFDir: edfDir, AnnotationDir: annDir}, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, cat.Available())
	assert.Equal(t, []string{"200001", "200002"}, cat.Subjects())
	assert.True(t, cat.Has("200002"))
	assert.False(t, cat.Has("200003"))

	limited, err := NewCatalog(CatalogConfig{EDFDir: edfDir, AnnotationDir: annDir, MaxSubjects: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"200001"}, limited.Subjects())

	rec, err := cat.Open("200001")
	require.NoError(t, err)
	defer rec.Close()
	w, err := rec.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, w.Index)
}

func TestCatalogUnknownSubjectFailsFast(t *testing.T) {
	cat := EmptyCatalog()
	_, err := cat.Open("missing")
	assert.ErrorIs(t, err, ErrSubjectNotFound)

	_, err = cat.Pick(nil)
	assert.ErrorIs(t, err, ErrNoCorpus)
	assert.False(t, cat.Available())
	assert.Empty(t, cat.Subjects())
}

func TestCatalogManifest(t *testing.T) {
	root := t.TempDir()
	writeSubject(t, filepath.Join(root, "data", "a.edf"), filepath.Join(root, "data", "a.xml"), 30)
	manifest := []byte(`subjects:
  - id: night-a
    edf: data/a.edf
    annotations: data/a.xml
  - id: night-b
    edf: data/missing.edf
    annotations: data/missing.xml
`)
	path := filepath.Join(root, "corpus.yaml")
	require.NoError(t, os.WriteFile(path, manifest, 0o644))

	cat, err := NewCatalog(CatalogConfig{Manifest: path}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"night-a"}, cat.Subjects())

	id, err := cat.Pick(rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, "night-a", id)
}

func TestCatalogManifestErrors(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "corpus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("subjects:\n  - edf: a.edf\n"), 0o644))
	_, err := NewCatalog(CatalogConfig{Manifest: path}, nil)
	assert.ErrorContains(t, err, "missing id")

	_, err = NewCatalog(CatalogConfig{Manifest: filepath.Join(root, "absent.yaml")}, nil)
	assert.Error(t, err)
}
