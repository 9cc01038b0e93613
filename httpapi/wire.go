package httpapi

import (
	"encoding/json"

	"storj.io/cratesregistry/database"
)

// Wire response shapes for the JSON API. These are deliberately separate
// from the database row types: the HTTP surface's field names and
// nullability are an external contract, the row types are not.

type crateWire struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Documentation string `json:"documentation,omitempty"`
	Homepage      string `json:"homepage,omitempty"`
	Repository    string `json:"repository,omitempty"`
	TrustpubOnly  bool   `json:"trustpub_only"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func newCrateWire(c *database.Crate) crateWire {
	return crateWire{
		Name:          c.Name,
		Description:   c.Description.String,
		Documentation: c.Documentation.String,
		Homepage:      c.Homepage.String,
		Repository:    c.Repository.String,
		TrustpubOnly:  c.TrustpubOnly,
		CreatedAt:     c.CreatedAt.Format(rfc3339),
		UpdatedAt:     c.UpdatedAt.Format(rfc3339),
	}
}

type versionWire struct {
	Num         string          `json:"num"`
	DownloadURL string          `json:"dl_path"`
	Checksum    string          `json:"checksum"`
	Yanked      bool            `json:"yanked"`
	YankMessage string          `json:"yank_message,omitempty"`
	License     string          `json:"license,omitempty"`
	Links       string          `json:"links,omitempty"`
	RustVersion string          `json:"rust_version,omitempty"`
	Features    json.RawMessage `json:"features,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

func newVersionWire(crateName string, v *database.Version) versionWire {
	return versionWire{
		Num:         v.Num,
		DownloadURL: "/api/v1/crates/" + crateName + "/" + v.Num + "/download",
		Checksum:    v.Checksum,
		Yanked:      v.Yanked,
		YankMessage: v.YankMessage.String,
		License:     v.License.String,
		Links:       v.Links.String,
		RustVersion: v.RustVersion.String,
		Features:    json.RawMessage(v.Features),
		CreatedAt:   v.CreatedAt.Format(rfc3339),
	}
}

type dependencyWire struct {
	CrateName       string   `json:"crate_name"`
	Req             string   `json:"req"`
	Optional        bool     `json:"optional"`
	DefaultFeatures bool     `json:"default_features"`
	Features        []string `json:"features"`
	Target          string   `json:"target,omitempty"`
	Kind            string   `json:"kind"`
}

func newDependencyWire(d database.Dependency) dependencyWire {
	name := d.CrateName
	if d.ExplicitName.Valid {
		name = d.ExplicitName.String
	}
	return dependencyWire{
		CrateName:       name,
		Req:             d.Req,
		Optional:        d.Optional,
		DefaultFeatures: d.DefaultFeatures,
		Features:        d.Features,
		Target:          d.Target.String,
		Kind:            dependencyKindName(d.Kind),
	}
}

func dependencyKindName(k database.DependencyKind) string {
	switch k {
	case database.DependencyKindBuild:
		return "build"
	case database.DependencyKindDev:
		return "dev"
	default:
		return "normal"
	}
}

type ownerWire struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Kind  string `json:"kind"`
}

type tokenWire struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	CrateScopes    []string `json:"crate_scopes,omitempty"`
	EndpointScopes []string `json:"endpoint_scopes,omitempty"`
	CreatedAt      string   `json:"created_at"`
	LastUsedAt     string   `json:"last_used_at,omitempty"`
	ExpiresAt      string   `json:"expires_at,omitempty"`
}

func newTokenWire(t database.ApiToken) tokenWire {
	tw := tokenWire{
		ID:             t.ID,
		Name:           t.Name,
		CrateScopes:    t.CrateScopes,
		EndpointScopes: t.EndpointScopes,
		CreatedAt:      t.CreatedAt.Format(rfc3339),
	}
	if t.LastUsedAt.Valid {
		tw.LastUsedAt = t.LastUsedAt.Time.Format(rfc3339)
	}
	if t.ExpiresAt.Valid {
		tw.ExpiresAt = t.ExpiresAt.Time.Format(rfc3339)
	}
	return tw
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"
