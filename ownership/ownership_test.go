package ownership_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/cratesregistry/ownership"
)

type fakeTeamChecker struct {
	exists  bool
	member  bool
	existsErr error
	memberErr error
}

func (f *fakeTeamChecker) TeamExists(ctx context.Context, org, team string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeTeamChecker) IsMember(ctx context.Context, org, team, user string) (bool, error) {
	return f.member, f.memberErr
}

func TestSetYankedRejectsMessageWithoutYank(t *testing.T) {
	e := &ownership.Engine{Teams: &fakeTeamChecker{}}
	err := e.SetYanked(context.Background(), nil, 1, 1, 1, false, sql.NullString{String: "nope", Valid: true})
	require.Error(t, err)
	require.Contains(t, err.Error(), "yank_message")
}
