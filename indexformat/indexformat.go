// Package indexformat serializes a crate's versions into the line-delimited
// JSON format the git and sparse indexes both publish, one line per version
// in ascending semver order. It is a pure function: no I/O, no database
// handles, nothing but data in and bytes out, so both index back-ends (C4's
// git repository and C2's sparse index mirror) can call the same code and
// can never drift apart.
//
// Field names and the v:2/features2 split are grounded directly on the
// Rust serializer this package replaces, crates_io_index's encoding of
// crates.io-index lines (original_source/crates/crates_io_index), and the
// release-track grouping helper mirrors
// original_source/crates/crates_io_api_types/src/release_tracks.rs.
package indexformat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/zeebo/errs"
)

// Error is this package's class-tagged error, consistent with the rest of
// the registry's zeebo/errs usage.
var Error = errs.Class("indexformat")

// Dependency is one line entry's dependency, independent of the database
// row shape in package database so this package has zero storage imports.
type Dependency struct {
	Name            string
	Req             string
	Features        []string
	Optional        bool
	DefaultFeatures bool
	Target          string // empty if none
	Kind            string // "normal", "build", or "dev"
	Package         string // explicit rename source crate, empty if none
}

// Version is one line entry's version-level fields.
type Version struct {
	Num         string
	Checksum    string
	Features    map[string][]string // raw feature table as declared in the manifest
	Yanked      bool
	Links       string // empty if none
	RustVersion string // empty if none
	Deps        []Dependency
}

// dependsOnNewFeatureSyntax reports whether a feature value list uses
// `dep:` or `?/` syntax, which pre-v2 clients cannot parse.
func dependsOnNewFeatureSyntax(values []string) bool {
	for _, v := range values {
		if strings.HasPrefix(v, "dep:") || strings.Contains(v, "?/") {
			return true
		}
	}
	return false
}

// lineEntry is the exact on-wire shape, field order matches the Rust
// serializer's struct so line-by-line diffs against historical index
// content stay readable.
type lineEntry struct {
	Name        string           `json:"name"`
	Vers        string           `json:"vers"`
	Deps        []depEntry       `json:"deps"`
	Cksum       string           `json:"cksum"`
	Features    map[string][]string `json:"features"`
	Features2   map[string][]string `json:"features2,omitempty"`
	Yanked      *bool            `json:"yanked,omitempty"`
	Links       string           `json:"links,omitempty"`
	RustVersion string           `json:"rust_version,omitempty"`
	V           *int             `json:"v,omitempty"`
}

type depEntry struct {
	Name            string   `json:"name"`
	Req             string   `json:"req"`
	Features        []string `json:"features,omitempty"`
	Optional        bool     `json:"optional"`
	DefaultFeatures bool     `json:"default_features"`
	Target          string   `json:"target,omitempty"`
	Kind            string   `json:"kind"`
	Package         string   `json:"package,omitempty"`
}

// sortDeps orders dependencies by the canonical tuple
// (name, kind, req, optional, default_features, target, package, features),
// with kinds ordered normal, build, dev, matching spec's "deps are sorted by ..." rule so re-serializing never
// reorders an existing index line and old clients never mis-select between
// a dependency declared under multiple kinds.
func sortDeps(deps []Dependency) []Dependency {
	out := make([]Dependency, len(deps))
	copy(out, deps)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Kind != b.Kind {
			rank := map[string]int{"normal": 0, "build": 1, "dev": 2}
			return rank[a.Kind] < rank[b.Kind]
		}
		if a.Req != b.Req {
			return a.Req < b.Req
		}
		if a.Optional != b.Optional {
			return !a.Optional
		}
		if a.DefaultFeatures != b.DefaultFeatures {
			return !a.DefaultFeatures
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		if a.Package != b.Package {
			return a.Package < b.Package
		}
		return strings.Join(a.Features, ",") < strings.Join(b.Features, ",")
	})
	return out
}

// line renders one Version as a single index-format line (no trailing
// newline; callers join with "\n").
func line(name string, v Version) ([]byte, error) {
	legacy := map[string][]string{}
	v2 := map[string][]string{}
	usesV2 := false
	for feature, values := range v.Features {
		if dependsOnNewFeatureSyntax(values) {
			v2[feature] = values
			usesV2 = true
		} else {
			legacy[feature] = values
		}
	}

	entry := lineEntry{
		Name:        name,
		Vers:        v.Num,
		Cksum:       v.Checksum,
		Features:    legacy,
		Links:       v.Links,
		RustVersion: v.RustVersion,
	}
	if len(v2) > 0 {
		entry.Features2 = v2
	}
	if usesV2 {
		two := 2
		entry.V = &two
	}
	if v.Yanked {
		yes := true
		entry.Yanked = &yes
	}

	sorted := sortDeps(v.Deps)
	entry.Deps = make([]depEntry, len(sorted))
	for i, d := range sorted {
		entry.Deps[i] = depEntry{
			Name:            d.Name,
			Req:             d.Req,
			Features:        d.Features,
			Optional:        d.Optional,
			DefaultFeatures: d.DefaultFeatures,
			Target:          d.Target,
			Kind:            d.Kind,
			Package:         d.Package,
		}
	}

	return json.Marshal(entry)
}

// Render produces the complete line-delimited index body for one crate,
// with lines ordered by ascending semver. Versions whose Num fails to parse
// are an input error -- the publish pipeline never persists an
// unparseable version number, so this should not occur outside test data.
func Render(name string, versions []Version) ([]byte, error) {
	type parsedVersion struct {
		v  Version
		sv *semver.Version
	}
	parsed := make([]parsedVersion, len(versions))
	for i, v := range versions {
		sv, err := semver.NewVersion(v.Num)
		if err != nil {
			return nil, Error.Wrap(fmt.Errorf("parse version %q: %w", v.Num, err))
		}
		parsed[i] = parsedVersion{v, sv}
	}
	sort.SliceStable(parsed, func(i, j int) bool {
		return parsed[i].sv.LessThan(parsed[j].sv)
	})
	sorted := make([]Version, len(parsed))
	for i, p := range parsed {
		sorted[i] = p.v
	}

	var buf bytes.Buffer
	for i, v := range sorted {
		if i > 0 {
			buf.WriteByte('\n')
		}
		l, err := line(name, v)
		if err != nil {
			return nil, err
		}
		buf.Write(l)
	}
	return buf.Bytes(), nil
}

// Track is one bucket of ReleaseTracks: the track identifier ("0.3" or "2")
// and the highest version observed in it.
type Track struct {
	Track   string
	Highest string
}

// ReleaseTracks groups non-yanked, non-prerelease versions into ordered
// buckets: "major" for major >= 1, "0.minor" for major == 0. It sorts the
// versions descending itself, so the highest version in each bucket wins
// whatever order versions arrives in, reproducing release_tracks.rs exactly.
func ReleaseTracks(versions []Version) ([]Track, error) {
	type parsedVersion struct {
		v  Version
		sv *semver.Version
	}
	var live []parsedVersion
	for _, v := range versions {
		if v.Yanked {
			continue
		}
		sv, err := semver.NewVersion(v.Num)
		if err != nil {
			return nil, Error.Wrap(fmt.Errorf("parse version %q: %w", v.Num, err))
		}
		if sv.Prerelease() != "" {
			continue
		}
		live = append(live, parsedVersion{v, sv})
	}
	sort.SliceStable(live, func(i, j int) bool {
		return live[j].sv.LessThan(live[i].sv) // descending
	})

	seen := map[string]bool{}
	var tracks []Track
	for _, pv := range live {
		var key string
		if pv.sv.Major() == 0 {
			key = fmt.Sprintf("0.%d", pv.sv.Minor())
		} else {
			key = fmt.Sprintf("%d", pv.sv.Major())
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		tracks = append(tracks, Track{Track: key, Highest: pv.v.Num})
	}
	return tracks, nil
}
