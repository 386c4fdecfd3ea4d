package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexify/internal/index"
)

// fakeTarget splits on newlines and stores fragments by source and position.
type fakeTarget struct {
	fragments map[string]string
	adds      int
	failAdd   bool
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{fragments: map[string]string{}}
}

func (f *fakeTarget) Name() string { return "fake" }

func (f *fakeTarget) Fragments(text string) int { return len(strings.Split(text, "\n")) }

func (f *fakeTarget) AddTexts(_ context.Context, docs []index.Document) (int, error) {
	if f.failAdd {
		return 0, errors.New("store unavailable")
	}
	f.adds++
	n := 0
	for _, doc := range docs {
		for i, piece := range strings.Split(doc.Text, "\n") {
			f.fragments[fmt.Sprintf("%s#%d", doc.Metadata[SourceKey], i)] = piece
			n++
		}
	}
	return n, nil
}

func (f *fakeTarget) DeleteFragments(_ context.Context, metadata map[string]string, from, to int) error {
	for i := from; i < to; i++ {
		delete(f.fragments, fmt.Sprintf("%s#%d", metadata[SourceKey], i))
	}
	return nil
}

func (f *fakeTarget) FragmentsEnd(_ context.Context, metadata map[string]string, from int) (int, error) {
	for {
		if _, ok := f.fragments[fmt.Sprintf("%s#%d", metadata[SourceKey], from)]; !ok {
			return from, nil
		}
		from++
	}
}

func (f *fakeTarget) keys() []string {
	out := make([]string, 0, len(f.fragments))
	for k := range f.fragments {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func newTestSyncer(t *testing.T, root string, target Target, dedup []string) *Syncer {
	t.Helper()
	scanner, err := NewScanner(root, Options{}, nil)
	require.NoError(t, err)
	s, err := NewSyncer(SyncerConfig{
		Target:      target,
		Scanner:     scanner,
		Metadata:    map[string]string{"project": "demo"},
		DedupFields: dedup,
		BatchFiles:  2,
	})
	require.NoError(t, err)
	return s
}

// =============================================================================
// TS03: Syncing files into an index
// =============================================================================

func TestSyncer_AddAll(t *testing.T) {
	// Given: three files and a batch size of two
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":     "one\ntwo",
		"b.txt":     "three",
		"sub/c.txt": "four",
	})
	target := newFakeTarget()
	s := newTestSyncer(t, root, target, []string{SourceKey})

	// When: the tree is added
	res, err := s.AddAll(context.Background())

	// Then: every file is stored in two add calls
	require.NoError(t, err)
	assert.Equal(t, Result{Files: 3, Fragments: 4}, res)
	assert.Equal(t, 2, target.adds)
	assert.Equal(t, []string{"a.txt#0", "a.txt#1", "b.txt#0", "sub/c.txt#0"}, target.keys())
	assert.True(t, s.Replaces())
}

func TestSyncer_ApplyReplacesAndRemoves(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":     "one\ntwo\nthree",
		"sub/b.txt": "four",
		"sub/c.txt": "five",
	})
	target := newFakeTarget()
	s := newTestSyncer(t, root, target, []string{SourceKey})
	_, err := s.AddAll(ctx)
	require.NoError(t, err)

	// When: a.txt shrinks and sub/ is removed
	writeTree(t, root, map[string]string{"a.txt": "ONE"})
	require.NoError(t, os.RemoveAll(filepath.Join(root, "sub")))
	res, err := s.Apply(ctx, []Change{{Path: "a.txt"}, {Path: "sub", Removed: true}})

	// Then: the stale tail and the removed files are gone
	require.NoError(t, err)
	assert.Equal(t, Result{Files: 1, Fragments: 1, Removed: 2}, res)
	assert.Equal(t, []string{"a.txt#0"}, target.keys())
	assert.Equal(t, "ONE", target.fragments["a.txt#0"])
}

func TestSyncer_AddAllTrimsTailFromEarlierRun(t *testing.T) {
	ctx := context.Background()

	// Given: a file added by one syncer
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "one\ntwo\nthree"})
	target := newFakeTarget()
	_, err := newTestSyncer(t, root, target, []string{SourceKey}).AddAll(ctx)
	require.NoError(t, err)

	// When: the file shrinks and a fresh syncer adds the tree again
	writeTree(t, root, map[string]string{"a.txt": "ONE"})
	_, err = newTestSyncer(t, root, target, []string{SourceKey}).AddAll(ctx)

	// Then: the fragments of the longer version are gone
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt#0"}, target.keys())
}

func TestSyncer_AppendOnlyKeepsRemovedFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "one\ntwo"})
	target := newFakeTarget()
	s := newTestSyncer(t, root, target, nil)
	_, err := s.AddAll(ctx)
	require.NoError(t, err)
	require.False(t, s.Replaces())

	res, err := s.Apply(ctx, []Change{{Path: "a.txt", Removed: true}, {Path: "never-seen.txt", Removed: true}})

	require.NoError(t, err)
	assert.Equal(t, 0, res.Removed)
	assert.Len(t, target.keys(), 2)
}

func TestSyncer_ApplySkipsVanishedFiles(t *testing.T) {
	root := t.TempDir()
	target := newFakeTarget()
	s := newTestSyncer(t, root, target, []string{SourceKey})

	res, err := s.Apply(context.Background(), []Change{{Path: "ghost.txt"}})

	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, 0, target.adds)
}

func TestSyncer_AddFailure(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "one"})
	target := newFakeTarget()
	target.failAdd = true
	s := newTestSyncer(t, root, target, []string{SourceKey})

	_, err := s.AddAll(context.Background())

	assert.Error(t, err)
}

func TestSyncer_MetadataCopied(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "one"})
	var got []index.Document
	target := &recordingTarget{fakeTarget: newFakeTarget(), docs: &got}
	s := newTestSyncer(t, root, target, nil)

	_, err := s.AddAll(context.Background())

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]string{"project": "demo", SourceKey: "a.txt"}, got[0].Metadata)
}

func TestNewSyncer_RequiresTargetAndScanner(t *testing.T) {
	_, err := NewSyncer(SyncerConfig{})
	assert.Error(t, err)
}

type recordingTarget struct {
	*fakeTarget
	docs *[]index.Document
}

func (r *recordingTarget) AddTexts(ctx context.Context, docs []index.Document) (int, error) {
	*r.docs = append(*r.docs, docs...)
	return r.fakeTarget.AddTexts(ctx, docs)
}
