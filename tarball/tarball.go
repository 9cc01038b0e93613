// Package tarball validates a single crate publish request body and
// extracts its manifest, ready for the publish coordinator (package
// publish) to persist. Decoding is pure: it reads from an io.Reader and
// returns data, never touching the database or the object store.
//
// Enforcement rules (path prefix, symlink/hardlink rejection, manifest
// presence, name/version match, license presence, keyword/category limits)
// follow the contract in SPEC_FULL.md §4.1 exactly. The streaming,
// bounded-read style (io.LimitReader wrapping the gzip reader so a
// decompression bomb cannot exhaust memory) is grounded on the teacher's
// bounded-read idiom used throughout its download pipeline
// (pkg/ranger and the uplink download path both wrap readers in a hard
// byte cap before handing them to a caller).
package tarball

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"github.com/zeebo/errs"

	"storj.io/cratesregistry/apierr"
)

// Error is this package's class-tagged error for the one failure mode here
// that is a programming error, not a malformed-input one; every
// client-facing validation failure instead returns apierr.BadRequest.
var Error = errs.Class("tarball")

// Limits bounds the validator's resource usage and the manifest content it
// will accept. Defaults live in the caller's configuration; per-crate
// overrides (max_upload_size, max_unpack_size) are threaded in by the
// publish coordinator after it looks up the target Crate row.
type Limits struct {
	MaxUploadSize        int64 // cap on the compressed tarball as received
	MaxUnpackSize        int64 // cap on the decompressed tar stream
	MaxReadmeSize        int64
	MaxFeatureNameLength int
	MaxDependencyNameLen int
	MaxKeywords          int
}

// DefaultLimits matches the legacy registry's historical defaults.
var DefaultLimits = Limits{
	MaxUploadSize:        10 << 20,  // 10 MiB
	MaxUnpackSize:        512 << 20, // 512 MiB
	MaxReadmeSize:        2 << 20,   // 2 MiB
	MaxFeatureNameLength: 128,
	MaxDependencyNameLen: 64,
	MaxKeywords:          5,
}

// Manifest is the subset of Cargo.toml-equivalent fields this core cares
// about. Unknown keys are ignored.
type Manifest struct {
	Package struct {
		Name        string   `toml:"name"`
		Version     string   `toml:"version"`
		Description string   `toml:"description"`
		License     string   `toml:"license"`
		LicenseFile string   `toml:"license-file"`
		Homepage    string   `toml:"homepage"`
		Documentation string `toml:"documentation"`
		Repository  string   `toml:"repository"`
		Readme      string   `toml:"readme"`
		Keywords    []string `toml:"keywords"`
		Categories  []string `toml:"categories"`
		Links       string   `toml:"links"`
		RustVersion string   `toml:"rust-version"`
	} `toml:"package"`
	Dependencies    map[string]DependencySpec `toml:"dependencies"`
	BuildDependencies map[string]DependencySpec `toml:"build-dependencies"`
	DevDependencies map[string]DependencySpec `toml:"dev-dependencies"`
	Features        map[string][]string       `toml:"features"`
}

// DependencySpec accepts both the short `dep = "1.0"` form and the table
// form; toml.Unmarshal against `any` lets us accept either without two
// separate passes. The publish coordinator turns this into
// database.Dependency rows.
type DependencySpec struct {
	Req             string
	Optional        bool
	DefaultFeatures bool
	Features        []string
	Package         string
	Target          string
}

// UnmarshalTOML implements toml.Unmarshaler so a bare version string and a
// full inline table both decode into DependencySpec.
func (d *DependencySpec) UnmarshalTOML(data any) error {
	d.DefaultFeatures = true
	switch v := data.(type) {
	case string:
		d.Req = v
		return nil
	case map[string]any:
		if s, ok := v["version"].(string); ok {
			d.Req = s
		}
		if b, ok := v["optional"].(bool); ok {
			d.Optional = b
		}
		if b, ok := v["default-features"].(bool); ok {
			d.DefaultFeatures = b
		}
		if s, ok := v["package"].(string); ok {
			d.Package = s
		}
		if fs, ok := v["features"].([]any); ok {
			for _, f := range fs {
				if s, ok := f.(string); ok {
					d.Features = append(d.Features, s)
				}
			}
		}
		return nil
	default:
		return Error.New("unsupported dependency spec shape %T", data)
	}
}

// Metadata is the JSON sidecar sent alongside the tarball. Only its name
// and version are decoded; Parse rejects a manifest whose name or version
// differs from them.
type Metadata struct {
	Name    string `json:"name"`
	Version string `json:"vers"`
}

// Parsed is the validated result of Parse: the manifest, the exact
// compressed tarball bytes (preserved byte-for-byte so the stored checksum
// matches what clients re-verify), and any non-fatal warnings such as
// dropped unknown category slugs.
type Parsed struct {
	Manifest Manifest
	Tarball  []byte
	Warnings []string
}

var keywordPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-+]*$`)

// Parse reads a request body shaped as
// u32le(meta_len) || meta_json || u32le(tar_len) || tar_gz_bytes,
// validates it against limits, and returns the parsed manifest plus the
// original tarball bytes. knownCategory is consulted for each declared
// category slug; slugs it reports unknown are dropped with a warning
// rather than failing the publish.
func Parse(r io.Reader, limits Limits, knownCategory func(slug string) bool) (*Metadata, *Parsed, error) {
	var metaLen uint32
	if err := binary.Read(r, binary.LittleEndian, &metaLen); err != nil {
		return nil, nil, apierr.BadRequest("invalid metadata length")
	}
	metaBytes := make([]byte, metaLen)
	if _, err := io.ReadFull(r, metaBytes); err != nil {
		return nil, nil, apierr.BadRequest("invalid metadata/tarball length")
	}

	var meta Metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, nil, apierr.BadRequest("malformed metadata json")
	}

	var tarLen uint32
	if err := binary.Read(r, binary.LittleEndian, &tarLen); err != nil {
		return nil, nil, apierr.BadRequest("invalid tarball length")
	}
	tarballBytes := make([]byte, tarLen)
	if _, err := io.ReadFull(r, tarballBytes); err != nil {
		return nil, nil, apierr.BadRequest("invalid metadata/tarball length")
	}
	if int64(tarLen) > limits.MaxUploadSize {
		return nil, nil, apierr.BadRequest("crate is too large")
	}
	// A trailing byte after the declared tarball length means the client's
	// u32le(meta_len)/u32le(tar_len) framing disagreed with the actual body.
	if n, err := r.Read(make([]byte, 1)); n > 0 || (err != nil && err != io.EOF) {
		return nil, nil, apierr.BadRequest("invalid metadata/tarball length")
	}

	prefix := fmt.Sprintf("%s-%s/", meta.Name, meta.Version)

	gz, err := gzip.NewReader(bytes.NewReader(tarballBytes))
	if err != nil {
		return nil, nil, apierr.BadRequest("invalid gzip stream")
	}
	limited := &io.LimitedReader{R: gz, N: limits.MaxUnpackSize + 1}
	tr := tar.NewReader(limited)

	var manifest *Manifest
	var warnings []string
	sawAnyEntry := false

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, apierr.BadRequest("invalid tar stream")
		}
		sawAnyEntry = true

		if limited.N <= 0 {
			return nil, nil, apierr.BadRequest("crate unpacks to more than the allowed size")
		}

		switch hdr.Typeflag {
		case tar.TypeSymlink, tar.TypeLink:
			return nil, nil, apierr.BadRequest("unexpected symlink or hard link")
		}

		if !strings.HasPrefix(hdr.Name, prefix) {
			return nil, nil, apierr.BadRequest("invalid path in tarball")
		}

		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		if hdr.Name == prefix+"Cargo.toml" {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, apierr.BadRequest("invalid manifest")
			}
			var m Manifest
			if err := toml.Unmarshal(data, &m); err != nil {
				return nil, nil, apierr.BadRequest("invalid manifest: "+err.Error())
			}
			manifest = &m
		}
	}

	if limited.N <= 0 {
		return nil, nil, apierr.BadRequest("crate unpacks to more than the allowed size")
	}
	if !sawAnyEntry {
		return nil, nil, apierr.BadRequest("crate tarball is empty")
	}
	if manifest == nil {
		return nil, nil, apierr.BadRequest("crate is missing a manifest")
	}

	if manifest.Package.Name != meta.Name || manifest.Package.Version != meta.Version {
		return nil, nil, apierr.BadRequest("manifest name/version does not match metadata")
	}
	if _, err := semver.NewVersion(manifest.Package.Version); err != nil {
		return nil, nil, apierr.BadRequest("invalid semver version")
	}
	if manifest.Package.License == "" && manifest.Package.LicenseFile == "" {
		return nil, nil, apierr.BadRequest("manifest is missing a license")
	}

	if len(manifest.Package.Keywords) > limits.MaxKeywords {
		return nil, nil, apierr.BadRequest(fmt.Sprintf("a crate may only have up to %d keywords", limits.MaxKeywords))
	}
	for _, kw := range manifest.Package.Keywords {
		if !keywordPattern.MatchString(kw) {
			return nil, nil, apierr.BadRequest(fmt.Sprintf("invalid keyword %q", kw))
		}
	}

	var keptCategories []string
	for _, slug := range manifest.Package.Categories {
		if knownCategory == nil || knownCategory(slug) {
			keptCategories = append(keptCategories, slug)
		} else {
			warnings = append(warnings, fmt.Sprintf("unknown category %q ignored", slug))
		}
	}
	manifest.Package.Categories = keptCategories

	for depName, dep := range allDependencies(manifest) {
		if len(depName) > limits.MaxDependencyNameLen {
			return nil, nil, apierr.BadRequest(fmt.Sprintf("dependency name %q is too long", depName))
		}
		_ = dep
	}
	for feature := range manifest.Features {
		if len(feature) > limits.MaxFeatureNameLength {
			return nil, nil, apierr.BadRequest(fmt.Sprintf("feature name %q is too long", feature))
		}
	}

	return &meta, &Parsed{Manifest: *manifest, Tarball: tarballBytes, Warnings: warnings}, nil
}

// DepKind is the normal/build/dev classification of a manifest dependency
// table. Kept local to this package (rather than importing package
// database) so tarball stays a pure parser with no storage-layer
// dependency; the publish coordinator maps DepKind to database.DependencyKind.
type DepKind int

const (
	DepKindNormal DepKind = iota
	DepKindBuild
	DepKindDev
)

// DependencyEntry pairs a declared dependency name and table with its spec.
type DependencyEntry struct {
	Name string
	Kind DepKind
	Spec DependencySpec
}

// Dependencies flattens the three dependency tables into one ordered slice,
// preserving which table each entry came from. Unlike a map keyed by name
// alone, this does not collapse a crate that appears in more than one table
// (e.g. both as a normal and a dev-dependency) into a single entry.
func Dependencies(m *Manifest) []DependencyEntry {
	out := make([]DependencyEntry, 0, len(m.Dependencies)+len(m.BuildDependencies)+len(m.DevDependencies))
	for name, spec := range m.Dependencies {
		out = append(out, DependencyEntry{Name: name, Kind: DepKindNormal, Spec: spec})
	}
	for name, spec := range m.BuildDependencies {
		out = append(out, DependencyEntry{Name: name, Kind: DepKindBuild, Spec: spec})
	}
	for name, spec := range m.DevDependencies {
		out = append(out, DependencyEntry{Name: name, Kind: DepKindDev, Spec: spec})
	}
	return out
}

func allDependencies(m *Manifest) map[string]DependencySpec {
	out := make(map[string]DependencySpec, len(m.Dependencies)+len(m.BuildDependencies)+len(m.DevDependencies))
	for k, v := range m.Dependencies {
		out[k] = v
	}
	for k, v := range m.BuildDependencies {
		out[k] = v
	}
	for k, v := range m.DevDependencies {
		out[k] = v
	}
	return out
}
