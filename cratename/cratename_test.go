package cratename_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/cratesregistry/cratename"
)

func TestEqual(t *testing.T) {
	require.True(t, cratename.Equal("Foo-Bar", "foo_bar"))
	require.True(t, cratename.Equal("serde_json", "serde-json"))
	require.False(t, cratename.Equal("foo", "bar"))
}

func TestIndexPath(t *testing.T) {
	cases := []struct{ name, want string }{
		{"a", "1/a"},
		{"ab", "2/ab"},
		{"abc", "3/a/abc"},
		{"Abc", "3/a/Abc"},
		{"serde", "se/rd/serde"},
		{"tokio", "to/ki/tokio"},
		{"a-b", "3/a/a-b"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, cratename.IndexPath(c.name), c.name)
	}
}
