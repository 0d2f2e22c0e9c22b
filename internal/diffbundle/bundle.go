// Package diffbundle builds and persists post-compaction.json: the
// per-file diff bundle attached to the first request after a context
// compaction, so the model sees what changed on disk during the turns it
// no longer has verbatim history for.
package diffbundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/latticehq/minionrt/internal/pipeline"
)

const (
	// BundleVersion is the post-compaction.json schema version.
	BundleVersion = 1

	// MaxDiffBytes caps a single file's diff text before truncation.
	MaxDiffBytes = 64 * 1024

	fileName = "post-compaction.json"
	filePerm = 0o644
)

// Snapshot is a before/after pair for one file captured around a
// compaction boundary.
type Snapshot struct {
	Path       string
	OldContent string
	NewContent string
}

// Entry is one diffs[] element of post-compaction.json.
type Entry struct {
	Path      string `json:"path"`
	Diff      string `json:"diff"`
	Truncated bool   `json:"truncated"`
}

// Bundle is the full post-compaction.json document.
type Bundle struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	Diffs     []Entry   `json:"diffs"`
}

// Builder generates unified diffs for a set of file snapshots.
type Builder struct {
	maxDiffBytes int
}

// NewBuilder constructs a Builder with the default diff-size cap.
func NewBuilder() *Builder {
	return &Builder{maxDiffBytes: MaxDiffBytes}
}

// Build produces one Entry per snapshot whose contents actually changed;
// snapshots with identical old/new content are dropped.
func (b *Builder) Build(now time.Time, snapshots []Snapshot) Bundle {
	bundle := Bundle{Version: BundleVersion, CreatedAt: now}
	for _, snap := range snapshots {
		if snap.OldContent == snap.NewContent {
			continue
		}
		bundle.Diffs = append(bundle.Diffs, b.diffOne(snap))
	}
	return bundle
}

func (b *Builder) diffOne(snap Snapshot) Entry {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(snap.OldContent, snap.NewContent, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	patches := dmp.PatchMake(snap.OldContent, diffs)
	text := dmp.PatchToText(patches)
	if text == "" {
		text = fmt.Sprintf("--- a/%s\n+++ b/%s\n(no textual diff available)\n", snap.Path, snap.Path)
	}

	entry := Entry{Path: snap.Path, Diff: text}
	if len(entry.Diff) > b.maxDiffBytes {
		entry.Diff = entry.Diff[:b.maxDiffBytes]
		entry.Truncated = true
	}
	return entry
}

// Persist writes bundle to <minionDir>/post-compaction.json.
func Persist(minionDir string, bundle Bundle) error {
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("diffbundle: marshal: %w", err)
	}
	return os.WriteFile(filepath.Join(minionDir, fileName), data, filePerm)
}

// Load reads post-compaction.json, returning (nil, nil) if it does not exist
// — callers treat "no pending attachment" as the common case, not an error.
func Load(minionDir string) (*Bundle, error) {
	data, err := os.ReadFile(filepath.Join(minionDir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("diffbundle: read: %w", err)
	}
	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("diffbundle: unmarshal: %w", err)
	}
	return &bundle, nil
}

// Discard removes post-compaction.json, used when a retry drops
// postCompactionAttachments after a first context_exceeded.
func Discard(minionDir string) error {
	err := os.Remove(filepath.Join(minionDir, fileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("diffbundle: discard: %w", err)
	}
	return nil
}

// CombineForAttachment folds every entry in bundle into the single
// PostCompactionAttachment MessagePipeline injects (§4.7 stage 6): the
// persisted file tracks one diff per changed path, but the pipeline's
// contract carries one attachment per minion, so the per-file diffs are
// concatenated under per-path headers.
func CombineForAttachment(bundle *Bundle) *pipeline.PostCompactionAttachment {
	if bundle == nil || len(bundle.Diffs) == 0 {
		return nil
	}
	var b strings.Builder
	truncated := false
	for i, entry := range bundle.Diffs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## %s\n%s", entry.Path, entry.Diff)
		if entry.Truncated {
			truncated = true
		}
	}
	return &pipeline.PostCompactionAttachment{
		Path:      bundle.Diffs[0].Path,
		Diff:      b.String(),
		Truncated: truncated,
	}
}
