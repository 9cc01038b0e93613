package jobs

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Size:     int64(len(body)),
			Mode:     0o644,
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestExtractReadmeFindsDeclaredFile(t *testing.T) {
	data := buildTarball(t, map[string]string{
		"demo-1.0.0/Cargo.toml": "[package]\nname=\"demo\"",
		"demo-1.0.0/README.md":  "# Demo\n\nHello.",
	})
	body, err := extractReadme(bytes.NewReader(data), "demo", "1.0.0")
	require.NoError(t, err)
	require.Equal(t, "# Demo\n\nHello.", string(body))
}

func TestExtractReadmeMissingReturnsNil(t *testing.T) {
	data := buildTarball(t, map[string]string{
		"demo-1.0.0/Cargo.toml": "[package]\nname=\"demo\"",
	})
	body, err := extractReadme(bytes.NewReader(data), "demo", "1.0.0")
	require.NoError(t, err)
	require.Nil(t, body)
}

func TestMarshalFeedProducesValidRSS(t *testing.T) {
	body, err := marshalFeed(rssChannel{
		Title: "crates.io: new crates",
		Link:  "https://crates.example/",
		Items: []rssItem{{Title: "demo v1.0.0", Link: "https://crates.example/crates/demo", GUID: "https://crates.example/crates/demo"}},
	})
	require.NoError(t, err)
	s := string(body)
	require.True(t, strings.HasPrefix(s, `<?xml`))
	require.Contains(t, s, "<rss version=\"2.0\">")
	require.Contains(t, s, "demo v1.0.0")
}
