package diffbundle

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSkipsUnchangedSnapshots(t *testing.T) {
	b := NewBuilder()
	bundle := b.Build(time.Now(), []Snapshot{
		{Path: "a.go", OldContent: "same", NewContent: "same"},
		{Path: "b.go", OldContent: "old", NewContent: "new"},
	})
	require.Len(t, bundle.Diffs, 1)
	assert.Equal(t, "b.go", bundle.Diffs[0].Path)
	assert.Equal(t, BundleVersion, bundle.Version)
}

func TestBuildTruncatesOversizedDiffs(t *testing.T) {
	b := &Builder{maxDiffBytes: 16}
	bundle := b.Build(time.Now(), []Snapshot{
		{Path: "big.go", OldContent: "", NewContent: strings.Repeat("x", 1000)},
	})
	require.Len(t, bundle.Diffs, 1)
	assert.True(t, bundle.Diffs[0].Truncated)
	assert.LessOrEqual(t, len(bundle.Diffs[0].Diff), 16)
}

func TestPersistLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder()
	bundle := b.Build(time.Now(), []Snapshot{{Path: "a.go", OldContent: "x", NewContent: "y"}})

	require.NoError(t, Persist(dir, bundle))
	loaded, err := Load(dir)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, bundle.Diffs[0].Path, loaded.Diffs[0].Path)
}

func TestLoadReturnsNilWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestDiscardIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, Discard(dir))

	b := NewBuilder()
	bundle := b.Build(time.Now(), []Snapshot{{Path: "a.go", OldContent: "x", NewContent: "y"}})
	require.NoError(t, Persist(dir, bundle))
	assert.NoError(t, Discard(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestCombineForAttachmentConcatenatesAllDiffsWithHeaders(t *testing.T) {
	bundle := &Bundle{Diffs: []Entry{
		{Path: "a.go", Diff: "diff-a"},
		{Path: "b.go", Diff: "diff-b", Truncated: true},
	}}
	attachment := CombineForAttachment(bundle)
	require.NotNil(t, attachment)
	assert.Contains(t, attachment.Diff, "a.go")
	assert.Contains(t, attachment.Diff, "diff-a")
	assert.Contains(t, attachment.Diff, "b.go")
	assert.True(t, attachment.Truncated)
}

func TestCombineForAttachmentNilWhenEmpty(t *testing.T) {
	assert.Nil(t, CombineForAttachment(nil))
	assert.Nil(t, CombineForAttachment(&Bundle{}))
}
