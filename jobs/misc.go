package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/cratesregistry/database"
)

// Error is this package's class-tagged error, consistent with the rest of
// the registry's zeebo/errs usage.
var Error = errs.Class("jobs")

// cratePayload mirrors package publish's private job payload shape; see the
// comment on versionPayload in readme.go for why each job-handler consumer
// keeps its own copy instead of importing package publish.
type cratePayload struct {
	CrateID int64  `json:"crate_id"`
	Name    string `json:"name"`
}

// DefaultVersionUpdater recomputes a crate's materialised "default version"
// -- the highest non-yanked, non-prerelease release, or the highest
// non-yanked release if every version is a prerelease, with a tie between
// versions of equal semver precedence going to the most recently created --
// after any publish or yank changes which version that is.
type DefaultVersionUpdater struct {
	DB  *sql.DB
	Log *zap.Logger
}

// UpdateDefaultVersion handles the update_default_version job.
func (u *DefaultVersionUpdater) UpdateDefaultVersion(ctx context.Context, data []byte) error {
	var p cratePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Error.Wrap(fmt.Errorf("decode update_default_version payload: %w", err))
	}

	versions, err := database.ListVersions(ctx, u.DB, p.CrateID)
	if err != nil {
		return Error.Wrap(fmt.Errorf("list versions for %s: %w", p.Name, err))
	}

	var best *database.Version
	var bestSemver *semver.Version
	var bestPrereleaseOnly *database.Version
	var bestPrereleaseSemver *semver.Version

	for _, v := range versions {
		if v.Yanked {
			continue
		}
		sv, err := semver.NewVersion(v.Num)
		if err != nil {
			u.Log.Warn("skipping unparseable version in default-version computation",
				zap.String("crate", p.Name), zap.String("num", v.Num), zap.Error(err))
			continue
		}
		if sv.Prerelease() != "" {
			if bestPrereleaseSemver == nil || sv.GreaterThan(bestPrereleaseSemver) ||
				(sv.Equal(bestPrereleaseSemver) && v.CreatedAt.After(bestPrereleaseOnly.CreatedAt)) {
				bestPrereleaseSemver, bestPrereleaseOnly = sv, v
			}
			continue
		}
		if bestSemver == nil || sv.GreaterThan(bestSemver) ||
			(sv.Equal(bestSemver) && v.CreatedAt.After(best.CreatedAt)) {
			bestSemver, best = sv, v
		}
	}
	if best == nil {
		best = bestPrereleaseOnly
	}
	if best == nil {
		u.Log.Info("no eligible version for default-version computation", zap.String("crate", p.Name))
		return nil
	}

	if err := database.SetDefaultVersion(ctx, u.DB, p.CrateID, best.ID); err != nil {
		return Error.Wrap(fmt.Errorf("set default version for %s: %w", p.Name, err))
	}
	u.Log.Info("updated default version", zap.String("crate", p.Name), zap.String("num", best.Num))
	return nil
}

// Mailer is the narrow slice of email.Notifier the publish notification
// handler needs, following this codebase's consistent narrow-interface-on-
// consumer-side pattern.
type Mailer interface {
	SendPublishNotification(ctx context.Context, toEmail, crateName, versionNum string) error
}

// PublishNotifier sends the post-publish email to every owner who has
// publish notifications enabled and a verified email address.
type PublishNotifier struct {
	DB     *sql.DB
	Mailer Mailer
	Log    *zap.Logger
}

// SendPublishNotification handles the send_publish_notification job.
func (n *PublishNotifier) SendPublishNotification(ctx context.Context, data []byte) error {
	var p versionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Error.Wrap(fmt.Errorf("decode send_publish_notification payload: %w", err))
	}

	owners, err := database.ListActiveOwners(ctx, n.DB, p.CrateID)
	if err != nil {
		return Error.Wrap(fmt.Errorf("list owners of %s: %w", p.Name, err))
	}

	for _, o := range owners {
		if o.OwnerKind != database.OwnerKindUser {
			continue
		}
		user, err := database.FindUserByID(ctx, n.DB, o.OwnerID)
		if err == database.ErrNotFound {
			continue
		}
		if err != nil {
			return Error.Wrap(fmt.Errorf("load owner %d of %s: %w", o.OwnerID, p.Name, err))
		}
		if !user.PublishNotifications || !user.EmailVerified || !user.Email.Valid {
			continue
		}
		if err := n.Mailer.SendPublishNotification(ctx, user.Email.String, p.Name, p.Num); err != nil {
			n.Log.Warn("failed to send publish notification",
				zap.String("crate", p.Name), zap.String("to", user.Email.String), zap.Error(err))
		}
	}
	return nil
}
