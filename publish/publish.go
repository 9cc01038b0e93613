// Package publish implements the publish coordinator (C7), the single
// hardest flow in the system: authenticate, parse, rate-limit, one
// database transaction covering crate upsert/ownership/version
// insert/job enqueue, commit, then a post-commit object-store upload and
// an async notification email. The sequence and its edge cases are
// unchanged from SPEC_FULL.md §4.7; this package is the thing that wires
// packages tarball, database, ratelimit, jobqueue, and objectstore
// together into that sequence, the way the teacher's satellite
// components wire narrow packages into one orchestrating service.
package publish

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/cratesregistry/apierr"
	"storj.io/cratesregistry/database"
	"storj.io/cratesregistry/jobqueue"
	"storj.io/cratesregistry/objectstore"
	"storj.io/cratesregistry/ratelimit"
	"storj.io/cratesregistry/tarball"
)

// Error is this package's class-tagged error, consistent with the rest of
// the job/index/ownership stack's zeebo/errs usage. apierr-typed returns
// (BadRequest, Forbidden, etc.) are untouched -- those are the HTTP-facing
// Kind taxonomy, a separate concern from this internal error chain.
var Error = errs.Class("publish")

// Identity is the authenticated caller, produced by package auth. Exactly
// one of UserID or TrustedPublisherCrateIDs is meaningful: a trusted
// publisher token carries the set of crate ids it is permitted to publish
// to and bypasses ownership checks for those ids, per SPEC_FULL.md §4.7
// step 1.
type Identity struct {
	UserID                   int64
	APITokenID               sql.NullInt64
	AllowLowerVersions       bool
	TrustedPublisherCrateIDs map[int64]bool
}

func (id Identity) permittedByTrustedPublisher(crateID int64) bool {
	return id.TrustedPublisherCrateIDs != nil && id.TrustedPublisherCrateIDs[crateID]
}

// Job definitions for every job the publish transaction enqueues. Index-sync
// jobs run at priority 100, update_default_version at 50, and the rest at
// the default 0. All but send_publish_notification are deduplicated, since
// at-least-once re-delivery must be a no-op when the same crate/version
// already triggered an identical pending job.
var (
	renderAndUploadReadmeJob = jobqueue.Definition{Name: "render_and_upload_readme", Queue: "default", Deduplicated: true}
	syncToGitIndexJob        = jobqueue.Definition{Name: "sync_to_git_index", Priority: 100, Queue: "repository", Deduplicated: true}
	syncToSparseIndexJob     = jobqueue.Definition{Name: "sync_to_sparse_index", Priority: 100, Queue: "default", Deduplicated: true}
	updateDefaultVersionJob  = jobqueue.Definition{Name: "update_default_version", Priority: 50, Queue: "default", Deduplicated: true}
	syncCratesFeedJob        = jobqueue.Definition{Name: "rss_sync_crates_feed", Queue: "default", Deduplicated: true}
	syncUpdatesFeedJob       = jobqueue.Definition{Name: "rss_sync_updates_feed", Queue: "default", Deduplicated: true}
	checkTyposquatJob        = jobqueue.Definition{Name: "check_typosquat", Queue: "default", Deduplicated: true}
	generateOgImageJob       = jobqueue.Definition{Name: "generate_og_image", Queue: "default", Deduplicated: true}
	analyzeCrateFileJob      = jobqueue.Definition{Name: "analyze_crate_file", Queue: "default", Deduplicated: true}
	sendOwnerNotificationJob = jobqueue.Definition{Name: "send_publish_notification", Queue: "default", Deduplicated: false}
)

type cratePayload struct {
	CrateID int64  `json:"crate_id"`
	Name    string `json:"name"`
}

type versionPayload struct {
	VersionID int64  `json:"version_id"`
	CrateID   int64  `json:"crate_id"`
	Name      string `json:"name"`
	Num       string `json:"num"`
}

// Coordinator bundles every collaborator the publish flow needs.
type Coordinator struct {
	DB      *sql.DB
	Store   objectstore.Store
	Limiter *ratelimit.Limiter
	Log     *zap.Logger

	Limits        tarball.Limits
	KnownCategory func(slug string) bool
	ReservedNames map[string]bool
}

// Result is the created crate/version pair returned to the HTTP layer.
type Result struct {
	Crate    *database.Crate
	Version  *database.Version
	Warnings []string
}

// Publish runs the full sequence in SPEC_FULL.md §4.7 against body (the
// framed metadata+tarball request), authenticated as id.
func (c *Coordinator) Publish(ctx context.Context, id Identity, body []byte) (*Result, error) {
	meta, parsed, err := tarball.Parse(bytes.NewReader(body), c.Limits, c.KnownCategory)
	if err != nil {
		return nil, err
	}

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("begin publish transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	crate, isNew, err := c.findOrInsertCrate(ctx, tx, meta.Name, id.UserID)
	if err != nil {
		return nil, err
	}

	action := ratelimit.ActionPublishUpdate
	if isNew {
		action = ratelimit.ActionPublishNew
	}
	if err := c.Limiter.CheckAndDecrement(ctx, id.UserID, action); err != nil {
		return nil, err
	}

	if isNew {
		if c.ReservedNames[crate.NormalizedName] {
			return nil, apierr.BadRequest(fmt.Sprintf("the name %q is reserved", meta.Name))
		}
	} else {
		if crate.TrustpubOnly && !id.permittedByTrustedPublisher(crate.ID) {
			return nil, apierr.Forbidden("this crate only accepts publishes from a trusted publisher")
		}
		if !id.permittedByTrustedPublisher(crate.ID) {
			isOwner, err := database.IsActiveOwner(ctx, tx, crate.ID, id.UserID, database.OwnerKindUser)
			if err != nil {
				return nil, err
			}
			if !isOwner {
				return nil, apierr.Forbidden("you are not an owner of this crate")
			}
		}
	}

	if err := c.checkVersionIsNewest(ctx, tx, crate.ID, meta.Version, id.AllowLowerVersions); err != nil {
		return nil, err
	}

	checksum := sha256.Sum256(parsed.Tarball)
	featuresJSON, err := json.Marshal(parsed.Manifest.Features)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("marshal features: %w", err))
	}

	var license, links, rustVersion sql.NullString
	if parsed.Manifest.Package.License != "" {
		license = sql.NullString{String: parsed.Manifest.Package.License, Valid: true}
	}
	if parsed.Manifest.Package.Links != "" {
		links = sql.NullString{String: parsed.Manifest.Package.Links, Valid: true}
	}
	if parsed.Manifest.Package.RustVersion != "" {
		rustVersion = sql.NullString{String: parsed.Manifest.Package.RustVersion, Valid: true}
	}

	version, err := database.InsertVersion(ctx, tx, database.NewVersion{
		CrateID:     crate.ID,
		Num:         meta.Version,
		Size:        int64(len(parsed.Tarball)),
		Checksum:    hex.EncodeToString(checksum[:]),
		Features:    featuresJSON,
		License:     license,
		Links:       links,
		RustVersion: rustVersion,
		PublishedBy: sql.NullInt64{Int64: id.UserID, Valid: true},
	})
	if err != nil {
		return nil, err
	}

	for _, entry := range tarball.Dependencies(&parsed.Manifest) {
		var target sql.NullString
		if entry.Spec.Target != "" {
			target = sql.NullString{String: entry.Spec.Target, Valid: true}
		}
		// crate_name always names the real depended-upon crate (so
		// reverse-dependency lookups join on it directly); explicit_name
		// records the Cargo.toml dependency key only when it differs from
		// the real crate name (the `package = "..."` rename form).
		realName := entry.Name
		var explicitName sql.NullString
		if entry.Spec.Package != "" {
			realName = entry.Spec.Package
			explicitName = sql.NullString{String: entry.Name, Valid: true}
		}
		if _, err := database.InsertDependency(ctx, tx, database.Dependency{
			VersionID:       version.ID,
			CrateName:       realName,
			Req:             entry.Spec.Req,
			Kind:            dependencyKind(entry.Kind),
			Optional:        entry.Spec.Optional,
			DefaultFeatures: entry.Spec.DefaultFeatures,
			Features:        entry.Spec.Features,
			Target:          target,
			ExplicitName:    explicitName,
		}); err != nil {
			return nil, err
		}
	}

	if err := database.InsertVersionOwnerAction(ctx, tx, version.ID, id.UserID, id.APITokenID, database.ActionPublish); err != nil {
		return nil, err
	}

	for _, kw := range parsed.Manifest.Package.Keywords {
		krow, err := database.FindOrCreateKeyword(ctx, tx, kw)
		if err != nil {
			return nil, err
		}
		if err := database.LinkVersionKeyword(ctx, tx, version.ID, krow.ID); err != nil {
			return nil, err
		}
	}
	for _, slug := range parsed.Manifest.Package.Categories {
		crow, err := database.FindCategoryBySlug(ctx, tx, slug)
		if err != nil {
			continue // already filtered by tarball.Parse; defensive only
		}
		if err := database.LinkCrateCategory(ctx, tx, crate.ID, crow.ID); err != nil {
			return nil, err
		}
	}

	hasReadme := parsed.Manifest.Package.Readme != ""
	if err := database.UpdateCrateMetadata(ctx, tx, crate.ID,
		nullStr(parsed.Manifest.Package.Description),
		nullStr(parsed.Manifest.Package.Documentation),
		nullStr(parsed.Manifest.Package.Homepage),
		nullStr(parsed.Manifest.Package.Repository),
		hasReadme); err != nil {
		return nil, err
	}

	if err := c.enqueuePublishJobs(ctx, tx, crate, version, isNew); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, Error.Wrap(fmt.Errorf("commit publish transaction: %w", err))
	}

	if err := c.Store.Put(ctx, objectstore.CratePath(crate.Name, version.Num), bytes.NewReader(parsed.Tarball), int64(len(parsed.Tarball))); err != nil {
		// The transaction already committed: per SPEC_FULL.md §4.7 step 5,
		// this is not rolled back. Operators recover via re-upload.
		c.Log.Error("post-commit tarball upload failed", zap.String("crate", crate.Name), zap.String("version", version.Num), zap.Error(err))
	}

	return &Result{Crate: crate, Version: version, Warnings: parsed.Warnings}, nil
}

func (c *Coordinator) findOrInsertCrate(ctx context.Context, tx *sql.Tx, name string, userID int64) (*database.Crate, bool, error) {
	crate, err := database.FindCrateByName(ctx, tx, name)
	if err == nil {
		return crate, false, nil
	}
	if err != database.ErrNotFound {
		return nil, false, err
	}
	crate, err = database.InsertCrate(ctx, tx, name)
	if err != nil {
		return nil, false, err
	}
	if err := database.UpsertCrateOwner(ctx, tx, crate.ID, userID, database.OwnerKindUser); err != nil {
		return nil, false, err
	}
	return crate, true, nil
}

func (c *Coordinator) checkVersionIsNewest(ctx context.Context, tx *sql.Tx, crateID int64, num string, allowLower bool) error {
	if _, err := database.FindVersion(ctx, tx, crateID, num); err == nil {
		return apierr.BadRequest(fmt.Sprintf("version %s already exists", num))
	} else if err != database.ErrNotFound {
		return err
	}
	if allowLower {
		return nil
	}

	highest, err := database.HighestNonYanked(ctx, tx, crateID)
	if err != nil {
		return err
	}
	if highest == nil {
		return nil
	}
	v, err := semver.NewVersion(num)
	if err != nil {
		return apierr.BadRequest("invalid semver version")
	}
	if !v.GreaterThan(highest) {
		return apierr.BadRequest(fmt.Sprintf("version %s is not greater than the latest published version %s", num, highest.String()))
	}
	return nil
}

func dependencyKind(k tarball.DepKind) database.DependencyKind {
	switch k {
	case tarball.DepKindBuild:
		return database.DependencyKindBuild
	case tarball.DepKindDev:
		return database.DependencyKindDev
	default:
		return database.DependencyKindNormal
	}
}

func (c *Coordinator) enqueuePublishJobs(ctx context.Context, tx *sql.Tx, crate *database.Crate, version *database.Version, isNew bool) error {
	vp := versionPayload{VersionID: version.ID, CrateID: crate.ID, Name: crate.Name, Num: version.Num}
	cp := cratePayload{CrateID: crate.ID, Name: crate.Name}

	if _, _, err := jobqueue.Enqueue(ctx, tx, renderAndUploadReadmeJob, vp); err != nil {
		return err
	}
	if _, _, err := jobqueue.Enqueue(ctx, tx, syncToGitIndexJob, cp); err != nil {
		return err
	}
	if _, _, err := jobqueue.Enqueue(ctx, tx, syncToSparseIndexJob, cp); err != nil {
		return err
	}
	if _, _, err := jobqueue.Enqueue(ctx, tx, updateDefaultVersionJob, cp); err != nil {
		return err
	}
	if isNew {
		if _, _, err := jobqueue.Enqueue(ctx, tx, syncCratesFeedJob, cp); err != nil {
			return err
		}
	}
	if _, _, err := jobqueue.Enqueue(ctx, tx, syncUpdatesFeedJob, cp); err != nil {
		return err
	}
	if _, _, err := jobqueue.Enqueue(ctx, tx, checkTyposquatJob, cp); err != nil {
		return err
	}
	if _, _, err := jobqueue.Enqueue(ctx, tx, generateOgImageJob, cp); err != nil {
		return err
	}
	if _, _, err := jobqueue.Enqueue(ctx, tx, analyzeCrateFileJob, vp); err != nil {
		return err
	}
	if _, _, err := jobqueue.Enqueue(ctx, tx, sendOwnerNotificationJob, vp); err != nil {
		return err
	}
	return nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
