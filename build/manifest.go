package build

import (
	"encoding/json"
	"strings"
)

// ManifestName is the well-known archive entry the runtime loader reads.
const ManifestName = "renpak_manifest.json"

// sequenceRef points one original frame into an encoded sequence.
type sequenceRef struct {
	Avis  string `json:"avis"`
	Frame int    `json:"frame"`
}

// Manifest accumulates the original-name to compressed-target mapping.
// Keys are stored lowercase so the runtime can look names up
// case-insensitively.
type Manifest struct {
	entries map[string]interface{}
}

// NewManifest returns an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{entries: make(map[string]interface{})}
}

// AddImage maps an original name to its scatter AVIF target.
func (m *Manifest) AddImage(name, target string) {
	m.entries[strings.ToLower(name)] = target
}

// AddFrame maps an original name to a frame of an encoded sequence.
func (m *Manifest) AddFrame(name, sequence string, frame int) {
	m.entries[strings.ToLower(name)] = sequenceRef{Avis: sequence, Frame: frame}
}

// Len returns the number of manifested names.
func (m *Manifest) Len() int { return len(m.entries) }

// Lookup returns the mapping for a name, case-insensitively.
func (m *Manifest) Lookup(name string) (interface{}, bool) {
	v, ok := m.entries[strings.ToLower(name)]
	return v, ok
}

// Encode serializes the manifest as compact UTF-8 JSON.
func (m *Manifest) Encode() ([]byte, error) {
	return json.Marshal(m.entries)
}
