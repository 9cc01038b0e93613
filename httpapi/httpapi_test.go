package httpapi

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/cratesregistry/auth"
	"storj.io/cratesregistry/database"
)

func TestOwnerResultMessage(t *testing.T) {
	require.Equal(t, "no change", ownerResultMessage(false, false))
	require.Equal(t, "owner invitation sent", ownerResultMessage(true, false))
	require.Equal(t, "team owner added", ownerResultMessage(false, true))
	require.Equal(t, "owner invitation sent, team owner added", ownerResultMessage(true, true))
}

func TestDependencyKindName(t *testing.T) {
	require.Equal(t, "normal", dependencyKindName(database.DependencyKindNormal))
	require.Equal(t, "build", dependencyKindName(database.DependencyKindBuild))
	require.Equal(t, "dev", dependencyKindName(database.DependencyKindDev))
}

func TestNewDependencyWirePrefersExplicitName(t *testing.T) {
	d := database.Dependency{
		CrateName:    "real-crate",
		ExplicitName: sql.NullString{String: "aliased", Valid: true},
		Req:          "^1.0",
	}
	w := newDependencyWire(d)
	require.Equal(t, "aliased", w.CrateName)
	require.Equal(t, "^1.0", w.Req)

	d2 := database.Dependency{CrateName: "plain-crate", Req: "^2.0"}
	w2 := newDependencyWire(d2)
	require.Equal(t, "plain-crate", w2.CrateName)
}

func TestNewCrateWireOmitsEmptyFields(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := &database.Crate{Name: "demo", CreatedAt: now, UpdatedAt: now}
	w := newCrateWire(c)
	require.Equal(t, "demo", w.Name)
	require.Empty(t, w.Description)
	require.Equal(t, now.Format(rfc3339), w.CreatedAt)
}

func TestNewTokenWireOmitsUnsetTimestamps(t *testing.T) {
	tok := database.ApiToken{ID: 1, Name: "ci", CreatedAt: time.Now()}
	w := newTokenWire(tok)
	require.Empty(t, w.LastUsedAt)
	require.Empty(t, w.ExpiresAt)

	tok.LastUsedAt = sql.NullTime{Time: time.Now(), Valid: true}
	w = newTokenWire(tok)
	require.NotEmpty(t, w.LastUsedAt)
}

func TestGenerateApiTokenShape(t *testing.T) {
	tok, err := generateApiToken()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(tok, apiTokenPrefix))
	require.Greater(t, len(tok), len(apiTokenPrefix))
}

func TestAuthorizeCrateOwnerTrustedPublisher(t *testing.T) {
	s := &Server{}
	id := auth.Identity{
		Kind:                     auth.KindTrustedPublisher,
		TrustedPublisherCrateIDs: map[int64]bool{7: true},
	}
	ok, err := s.authorizeCrateOwner(context.Background(), nil, 7, id)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.authorizeCrateOwner(context.Background(), nil, 8, id)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAuthorizeCrateOwnerAnonymous(t *testing.T) {
	s := &Server{}
	ok, err := s.authorizeCrateOwner(context.Background(), nil, 1, auth.Identity{Kind: auth.KindAnonymous})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRequireCrateOwner(t *testing.T) {
	require.NoError(t, requireCrateOwner(true))
	require.Error(t, requireCrateOwner(false))
}
