package storage

import (
	"encoding/json"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Manifest is the npm package document ("packument").
type Manifest struct {
	ID          string                 `json:"_id,omitempty"`
	Rev         string                 `json:"_rev,omitempty"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	DistTags    map[string]string      `json:"dist-tags"`
	Versions    map[string]*Version    `json:"versions"`
	Time        map[string]string      `json:"time,omitempty"`
	Readme      string                 `json:"readme,omitempty"`
	Attachments map[string]*Attachment `json:"_attachments,omitempty"`
	Cache       *CacheInfo             `json:"_cache,omitempty"`
}

// Version is a single published version. Fields whose shape varies across the
// npm ecosystem are kept raw.
type Version struct {
	ID                   string            `json:"_id,omitempty"`
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Description          string            `json:"description,omitempty"`
	Main                 string            `json:"main,omitempty"`
	License              json.RawMessage   `json:"license,omitempty"`
	Repository           json.RawMessage   `json:"repository,omitempty"`
	Bin                  json.RawMessage   `json:"bin,omitempty"`
	Engines              json.RawMessage   `json:"engines,omitempty"`
	Scripts              json.RawMessage   `json:"scripts,omitempty"`
	Dependencies         map[string]string `json:"dependencies,omitempty"`
	DevDependencies      map[string]string `json:"devDependencies,omitempty"`
	PeerDependencies     map[string]string `json:"peerDependencies,omitempty"`
	OptionalDependencies map[string]string `json:"optionalDependencies,omitempty"`
	Deprecated           string            `json:"deprecated,omitempty"`
	Dist                 Dist              `json:"dist"`
}

// Dist describes the tarball of a version.
type Dist struct {
	Tarball   string `json:"tarball"`
	Shasum    string `json:"shasum,omitempty"`
	Integrity string `json:"integrity,omitempty"`
}

// Attachment carries a base64 tarball inside a publish request.
type Attachment struct {
	ContentType string `json:"content_type,omitempty"`
	Data        string `json:"data"`
	Length      int64  `json:"length,omitempty"`
}

// CacheInfo marks manifests mirrored from the uplink. Locally published
// manifests have no CacheInfo.
type CacheInfo struct {
	FetchedAt int64  `json:"fetched_at"`
	ETag      string `json:"etag,omitempty"`
}

// Clone returns a deep copy via a JSON round trip.
func (m *Manifest) Clone() (*Manifest, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out Manifest
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SortedVersions returns version keys ordered by semver, invalid versions last.
func (m *Manifest) SortedVersions() []string {
	keys := make([]string, 0, len(m.Versions))
	for key := range m.Versions {
		keys = append(keys, key)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		a, errA := semver.NewVersion(keys[i])
		b, errB := semver.NewVersion(keys[j])
		switch {
		case errA != nil && errB != nil:
			return keys[i] < keys[j]
		case errA != nil:
			return false
		case errB != nil:
			return true
		}
		return a.LessThan(b)
	})
	return keys
}

// NormalizeDistTags drops tags pointing at versions that no longer exist and
// points "latest" at the highest stable version when it went missing.
func (m *Manifest) NormalizeDistTags() {
	if m.DistTags == nil {
		m.DistTags = map[string]string{}
	}
	for tag, version := range m.DistTags {
		if _, ok := m.Versions[version]; !ok {
			delete(m.DistTags, tag)
		}
	}
	if _, ok := m.DistTags["latest"]; ok {
		return
	}
	sorted := m.SortedVersions()
	for i := len(sorted) - 1; i >= 0; i-- {
		v, err := semver.NewVersion(sorted[i])
		if err == nil && v.Prerelease() == "" {
			m.DistTags["latest"] = sorted[i]
			return
		}
	}
	if len(sorted) > 0 {
		m.DistTags["latest"] = sorted[len(sorted)-1]
	}
}

// LatestVersion returns the version the "latest" tag points at, if any.
func (m *Manifest) LatestVersion() *Version {
	if m == nil {
		return nil
	}
	if tag, ok := m.DistTags["latest"]; ok {
		return m.Versions[tag]
	}
	return nil
}
