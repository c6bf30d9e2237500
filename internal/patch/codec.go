// Package patch wraps the text diff/patch library behind the narrow
// contract the room mutation path consumes, so a compatible
// implementation can be substituted without touching room logic.
package patch

import (
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Set is an opaque deserialized patch-set.
type Set interface{}

// Codec deserializes and applies text patch-sets against a base string.
type Codec interface {
	Deserialize(text string) (Set, error)
	// Apply returns the patched content and a per-hunk success vector.
	// Hunks that fail to match leave the content best-effort patched.
	Apply(base string, set Set) (string, []bool)
}

// DiffMatchPatch implements Codec on top of the diff-match-patch text
// patch format.
type DiffMatchPatch struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewDiffMatchPatch constructs the default codec.
func NewDiffMatchPatch() *DiffMatchPatch {
	return &DiffMatchPatch{dmp: diffmatchpatch.New()}
}

// Deserialize parses the textual patch-set representation.
func (c *DiffMatchPatch) Deserialize(text string) (Set, error) {
	patches, err := c.dmp.PatchFromText(text)
	if err != nil {
		return nil, fmt.Errorf("parse patch set: %w", err)
	}
	return patches, nil
}

// Apply patches the base content using context matching to place each hunk.
func (c *DiffMatchPatch) Apply(base string, set Set) (string, []bool) {
	patches, ok := set.([]diffmatchpatch.Patch)
	if !ok {
		return base, nil
	}
	return c.dmp.PatchApply(patches, base)
}
