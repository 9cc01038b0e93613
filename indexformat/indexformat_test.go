package indexformat_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/cratesregistry/indexformat"
)

func TestRenderOrdersAscendingSemver(t *testing.T) {
	versions := []indexformat.Version{
		{Num: "1.2.0", Checksum: "c2"},
		{Num: "1.0.0", Checksum: "c0"},
		{Num: "1.10.0", Checksum: "c10"},
	}
	out, err := indexformat.Render("demo", versions)
	require.NoError(t, err)

	lines := strings.Split(string(out), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], `"vers":"1.0.0"`)
	require.Contains(t, lines[1], `"vers":"1.2.0"`)
	require.Contains(t, lines[2], `"vers":"1.10.0"`)
}

func TestRenderSplitsV2Features(t *testing.T) {
	versions := []indexformat.Version{
		{
			Num:      "1.0.0",
			Checksum: "abc",
			Features: map[string][]string{
				"default": {"foo"},
				"fancy":   {"dep:serde", "foo?/bar"},
			},
		},
	}
	out, err := indexformat.Render("demo", versions)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))

	require.Equal(t, float64(2), decoded["v"])
	features, ok := decoded["features"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, features, "default")
	require.NotContains(t, features, "fancy")

	features2, ok := decoded["features2"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, features2, "fancy")
}

func TestRenderOmitsEmptyOptionalFields(t *testing.T) {
	versions := []indexformat.Version{
		{Num: "1.0.0", Checksum: "abc"},
	}
	out, err := indexformat.Render("demo", versions)
	require.NoError(t, err)

	raw := string(out)
	require.NotContains(t, raw, "yanked")
	require.NotContains(t, raw, "links")
	require.NotContains(t, raw, "rust_version")
	require.NotContains(t, raw, `"v"`)
}

func TestSortDepsCanonicalOrder(t *testing.T) {
	versions := []indexformat.Version{
		{
			Num:      "1.0.0",
			Checksum: "abc",
			Deps: []indexformat.Dependency{
				{Name: "zed", Kind: "normal", Req: "^1"},
				{Name: "abc", Kind: "dev", Req: "^1"},
				{Name: "abc", Kind: "normal", Req: "^1"},
			},
		},
	}
	out, err := indexformat.Render("demo", versions)
	require.NoError(t, err)

	var decoded struct {
		Deps []struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
		} `json:"deps"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Equal(t, "abc", decoded.Deps[0].Name)
	require.Equal(t, "normal", decoded.Deps[0].Kind)
	require.Equal(t, "abc", decoded.Deps[1].Name)
	require.Equal(t, "dev", decoded.Deps[1].Kind)
	require.Equal(t, "zed", decoded.Deps[2].Name)
}

func TestReleaseTracksGroupsByMajorOrZeroMinor(t *testing.T) {
	versions := []indexformat.Version{
		{Num: "2.1.0"},
		{Num: "2.0.0"},
		{Num: "1.5.0"},
		{Num: "0.3.2"},
		{Num: "0.3.0"},
		{Num: "0.2.0"},
		{Num: "1.0.0-alpha"},
	}
	tracks, err := indexformat.ReleaseTracks(versions)
	require.NoError(t, err)

	got := map[string]string{}
	for _, tr := range tracks {
		got[tr.Track] = tr.Highest
	}
	require.Equal(t, "2.1.0", got["2"])
	require.Equal(t, "1.5.0", got["1"])
	require.Equal(t, "0.3.2", got["0.3"])
	require.Equal(t, "0.2.0", got["0.2"])
	require.NotContains(t, got, "1.0.0-alpha")
}

func TestReleaseTracksExcludesYanked(t *testing.T) {
	versions := []indexformat.Version{
		{Num: "1.1.0", Yanked: true},
		{Num: "1.0.0"},
	}
	tracks, err := indexformat.ReleaseTracks(versions)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	require.Equal(t, "1.0.0", tracks[0].Highest)
}
