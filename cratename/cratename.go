// Package cratename centralises crate-name identity rules so that
// case-insensitivity and the `-`/`_` equivalence are never reimplemented
// at a call site or delegated to database collation.
package cratename

import "strings"

// Normalize returns the canonical comparison key for a crate name: lower
// case, with every underscore folded to a hyphen. Two names normalize to
// the same key if and only if they are the same crate identity.
func Normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}

// Equal reports whether a and b refer to the same crate identity.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// IndexPath returns the canonical sharded index path for a crate name, as
// served by both the git index and the sparse HTTP index.
//
//	1 char   -> "1/<name>"
//	2 chars  -> "2/<name>"
//	3 chars  -> "3/<name[0]>/<name>"
//	4+ chars -> "<name[0:2]>/<name[2:4]>/<name>"
//
// The case of name is preserved in the returned path; only the directory
// split points are computed from the lower-cased key.
func IndexPath(name string) string {
	key := Normalize(name)
	switch len(key) {
	case 0:
		return name
	case 1:
		return "1/" + name
	case 2:
		return "2/" + name
	case 3:
		return "3/" + key[:1] + "/" + name
	default:
		return key[:2] + "/" + key[2:4] + "/" + name
	}
}
