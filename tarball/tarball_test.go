package tarball_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/cratesregistry/tarball"
)

func buildRequest(t *testing.T, name, version, manifest string, files map[string]string) []byte {
	t.Helper()

	meta, err := json.Marshal(tarball.Metadata{Name: name, Version: version})
	require.NoError(t, err)

	var tarBuf bytes.Buffer
	gz := gzip.NewWriter(&tarBuf)
	tw := tar.NewWriter(gz)

	prefix := name + "-" + version + "/"
	write := func(path, content string) {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: prefix + path,
			Mode: 0o644,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	write("Cargo.toml", manifest)
	for path, content := range files {
		write(path, content)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	var body bytes.Buffer
	require.NoError(t, binary.Write(&body, binary.LittleEndian, uint32(len(meta))))
	body.Write(meta)
	require.NoError(t, binary.Write(&body, binary.LittleEndian, uint32(tarBuf.Len())))
	body.Write(tarBuf.Bytes())
	return body.Bytes()
}

const validManifest = `
[package]
name = "demo"
version = "1.0.0"
license = "MIT"
keywords = ["cli", "demo"]
categories = ["command-line-utilities"]

[dependencies]
serde = "1.0"
`

func TestParseValidCrate(t *testing.T) {
	req := buildRequest(t, "demo", "1.0.0", validManifest, nil)

	meta, parsed, err := tarball.Parse(bytes.NewReader(req), tarball.DefaultLimits, func(slug string) bool {
		return slug == "command-line-utilities"
	})
	require.NoError(t, err)
	require.Equal(t, "demo", meta.Name)
	require.Equal(t, "demo", parsed.Manifest.Package.Name)
	require.Equal(t, "MIT", parsed.Manifest.Package.License)
	require.Empty(t, parsed.Warnings)
}

func TestParseDropsUnknownCategoryWithWarning(t *testing.T) {
	req := buildRequest(t, "demo", "1.0.0", validManifest, nil)

	_, parsed, err := tarball.Parse(bytes.NewReader(req), tarball.DefaultLimits, func(slug string) bool {
		return false
	})
	require.NoError(t, err)
	require.Empty(t, parsed.Manifest.Package.Categories)
	require.Len(t, parsed.Warnings, 1)
}

func TestParseRejectsMissingLicense(t *testing.T) {
	manifest := `
[package]
name = "demo"
version = "1.0.0"
`
	req := buildRequest(t, "demo", "1.0.0", manifest, nil)
	_, _, err := tarball.Parse(bytes.NewReader(req), tarball.DefaultLimits, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "license")
}

func TestParseRejectsNameVersionMismatch(t *testing.T) {
	manifest := `
[package]
name = "other"
version = "1.0.0"
license = "MIT"
`
	req := buildRequest(t, "demo", "1.0.0", manifest, nil)
	_, _, err := tarball.Parse(bytes.NewReader(req), tarball.DefaultLimits, nil)
	require.Error(t, err)
}

func TestParseRejectsTooManyKeywords(t *testing.T) {
	manifest := `
[package]
name = "demo"
version = "1.0.0"
license = "MIT"
keywords = ["a", "b", "c", "d", "e", "f"]
`
	req := buildRequest(t, "demo", "1.0.0", manifest, nil)
	_, _, err := tarball.Parse(bytes.NewReader(req), tarball.DefaultLimits, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "keywords")
}

func TestParseRejectsBadPathPrefix(t *testing.T) {
	req := buildRequest(t, "demo", "1.0.0", validManifest, map[string]string{})

	// Corrupt: rebuild with a file outside the prefix by constructing manually.
	meta, err := json.Marshal(tarball.Metadata{Name: "demo", Version: "1.0.0"})
	require.NoError(t, err)

	var tarBuf bytes.Buffer
	gz := gzip.NewWriter(&tarBuf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../escape/Cargo.toml", Mode: 0o644, Size: int64(len(validManifest))}))
	_, err = tw.Write([]byte(validManifest))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	var body bytes.Buffer
	require.NoError(t, binary.Write(&body, binary.LittleEndian, uint32(len(meta))))
	body.Write(meta)
	require.NoError(t, binary.Write(&body, binary.LittleEndian, uint32(tarBuf.Len())))
	body.Write(tarBuf.Bytes())

	_, _, err = tarball.Parse(bytes.NewReader(body.Bytes()), tarball.DefaultLimits, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "path")
	_ = req
}
