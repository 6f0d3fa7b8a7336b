// Package encode decides which archive entries are encodable images,
// clusters numbered frames into sequence groups, and fronts the AV1
// encoder with still-AVIF and sequence-AVIS entry points.
package encode

import (
	"path"
	"strings"
)

// DefaultImageExtensions are the file suffixes treated as encodable images.
var DefaultImageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp"}

// DefaultSkipPrefixes name subtrees that are never encoded. GUI assets are
// loaded through code paths the runtime loader does not hook.
var DefaultSkipPrefixes = []string{"gui/"}

// Classifier decides from a name alone whether an entry should be encoded.
type Classifier struct {
	exts map[string]struct{}
	skip []string
}

// NewClassifier builds a classifier; nil slices select the defaults.
func NewClassifier(extensions, skipPrefixes []string) *Classifier {
	if extensions == nil {
		extensions = DefaultImageExtensions
	}
	if skipPrefixes == nil {
		skipPrefixes = DefaultSkipPrefixes
	}
	c := &Classifier{
		exts: make(map[string]struct{}, len(extensions)),
		skip: skipPrefixes,
	}
	for _, ext := range extensions {
		c.exts[strings.ToLower(ext)] = struct{}{}
	}
	return c
}

// IsImage reports whether the name's suffix, case-folded, is a recognized
// image extension.
func (c *Classifier) IsImage(name string) bool {
	_, ok := c.exts[strings.ToLower(path.Ext(name))]
	return ok
}

// ShouldEncode reports whether the entry is an image outside every skip
// prefix. Prefix comparison is byte-exact on the original casing.
func (c *Classifier) ShouldEncode(name string) bool {
	if !c.IsImage(name) {
		return false
	}
	for _, p := range c.skip {
		if strings.HasPrefix(name, p) {
			return false
		}
	}
	return true
}

// AvifName derives the target name for a scatter image: the original name
// with its suffix replaced by .avif.
func AvifName(name string) string {
	ext := path.Ext(name)
	return name[:len(name)-len(ext)] + ".avif"
}

// SequenceName derives the archive entry name for an encoded sequence from
// its group key (shared prefix plus extension). The extension is folded
// into the name so same-prefix groups of different file types stay
// distinct: "images/01/ale .jpg" becomes "sequences/images/01/ale_jpg.avis".
func SequenceName(groupKey string) string {
	ext := path.Ext(groupKey)
	prefix := strings.TrimRight(groupKey[:len(groupKey)-len(ext)], " _-.")
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		prefix += "seq"
	}
	return "sequences/" + prefix + "_" + strings.TrimPrefix(ext, ".") + ".avis"
}
