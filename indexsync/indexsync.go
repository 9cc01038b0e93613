// Package indexsync implements the index synchroniser (C8): the two job
// handlers that reconcile the git-backed index (package indexrepo) and the
// sparse HTTP index (package objectstore) with the database's current view
// of a crate, plus an admin-only bulk variant that batches many crates into
// a single git commit.
//
// Both per-crate handlers are grounded on
// original_source/src/worker/jobs/index/sync.rs and load the crate's current
// index content from the database. The git handler compares it with the
// file in the working copy and commits one of create/update/delete/no-op;
// the sparse handler always uploads the content (or deletes the entry)
// without comparing, then invalidates the CDN path. Running either
// handler twice, or out of order, converges to the same state because each
// invocation re-reads the database from scratch.
package indexsync

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/cratesregistry/cratename"
	"storj.io/cratesregistry/database"
	"storj.io/cratesregistry/indexformat"
	"storj.io/cratesregistry/indexrepo"
	"storj.io/cratesregistry/jobqueue"
	"storj.io/cratesregistry/objectstore"
)

// Error is this package's class-tagged error, consistent with package
// jobqueue's and package indexrepo's Error.
var Error = errs.Class("indexsync")

// Job definitions, canonical: package ownership and package publish each
// keep their own copies instead of importing this package, and must stay
// in lock-step with these.
var (
	SyncToGitIndexJob    = jobqueue.Definition{Name: "sync_to_git_index", Priority: 100, Queue: "repository", Deduplicated: true}
	SyncToSparseIndexJob = jobqueue.Definition{Name: "sync_to_sparse_index", Priority: 100, Queue: "default", Deduplicated: true}
)

// CDN invalidates paths on a content delivery network fronting the sparse
// index; nil in any deployment without a CDN. This repository contains no
// implementation of it, and cmd/registryd leaves it nil.
type CDN interface {
	Invalidate(ctx context.Context, path string) error
}

// Handlers bundles the collaborators both job handlers need.
type Handlers struct {
	DB    *sql.DB
	Repo  *indexrepo.Keeper
	Store objectstore.Store
	CDN   CDN
	Log   *zap.Logger
}

type cratePayload struct {
	CrateID int64  `json:"crate_id"`
	Name    string `json:"name"`
}

// loadIndexContent re-derives the current index body for name from the
// database: nil with no error means the crate either doesn't exist or has
// no versions left, which the caller renders as "delete the index entry".
func loadIndexContent(ctx context.Context, q database.Querier, name string, log *zap.Logger) ([]byte, error) {
	crate, err := database.FindCrateByName(ctx, q, name)
	if err == database.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("find crate: %w", err))
	}

	dbVersions, err := database.ListVersions(ctx, q, crate.ID)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("list versions: %w", err))
	}
	if len(dbVersions) == 0 {
		// This can happen after version deletion leaves a crate with no
		// versions at all; the index entry must be removed and an operator
		// notified to clean up the orphaned crate row.
		msg := fmt.Sprintf("crate %q has no versions left", name)
		log.Warn(msg)
		sentry.CaptureMessage(msg)
		return nil, nil
	}

	versions := make([]indexformat.Version, 0, len(dbVersions))
	for _, v := range dbVersions {
		deps, err := database.ListDependencies(ctx, q, v.ID)
		if err != nil {
			return nil, Error.Wrap(fmt.Errorf("list dependencies for version %d: %w", v.ID, err))
		}

		var features map[string][]string
		if len(v.Features) > 0 {
			if err := json.Unmarshal(v.Features, &features); err != nil {
				return nil, Error.Wrap(fmt.Errorf("unmarshal features for version %d: %w", v.ID, err))
			}
		}

		ifDeps := make([]indexformat.Dependency, 0, len(deps))
		for _, d := range deps {
			depName, pkg := d.CrateName, ""
			if d.ExplicitName.Valid {
				depName, pkg = d.ExplicitName.String, d.CrateName
			}
			ifDeps = append(ifDeps, indexformat.Dependency{
				Name:            depName,
				Req:             d.Req,
				Features:        d.Features,
				Optional:        d.Optional,
				DefaultFeatures: d.DefaultFeatures,
				Target:          d.Target.String,
				Kind:            dependencyKindString(d.Kind),
				Package:         pkg,
			})
		}

		versions = append(versions, indexformat.Version{
			Num:         v.Num,
			Checksum:    v.Checksum,
			Features:    features,
			Yanked:      v.Yanked,
			Links:       v.Links.String,
			RustVersion: v.RustVersion.String,
			Deps:        ifDeps,
		})
	}

	return indexformat.Render(crate.Name, versions)
}

func dependencyKindString(k database.DependencyKind) string {
	switch k {
	case database.DependencyKindBuild:
		return "build"
	case database.DependencyKindDev:
		return "dev"
	default:
		return "normal"
	}
}

// SyncToGitIndex regenerates or removes name's entry in the git index,
// committing and pushing exactly one change if the computed content differs
// from what's currently on disk.
func (h *Handlers) SyncToGitIndex(ctx context.Context, data []byte) error {
	var p cratePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Error.Wrap(fmt.Errorf("unmarshal sync_to_git_index payload: %w", err))
	}

	h.Log.Info("syncing to git index", zap.String("crate", p.Name))
	newContent, err := loadIndexContent(ctx, h.DB, p.Name, h.Log)
	if err != nil {
		return err
	}

	g := h.Repo.Lock()
	defer g.Close()

	path := cratename.IndexPath(p.Name)
	oldContent, err := h.Repo.ReadFile(g, path)
	if err != nil {
		return Error.Wrap(fmt.Errorf("read current index file: %w", err))
	}

	switch {
	case oldContent == nil && newContent != nil:
		return h.Repo.WriteAndCommit(ctx, g, path, newContent, fmt.Sprintf("Create crate `%s`", p.Name))
	case oldContent != nil && newContent != nil && !bytes.Equal(oldContent, newContent):
		return h.Repo.WriteAndCommit(ctx, g, path, newContent, fmt.Sprintf("Update crate `%s`", p.Name))
	case oldContent != nil && newContent == nil:
		return h.Repo.WriteAndCommit(ctx, g, path, nil, fmt.Sprintf("Delete crate `%s`", p.Name))
	default:
		h.Log.Debug("skipping git index sync, already up to date", zap.String("crate", p.Name))
		return nil
	}
}

// SyncToSparseIndex regenerates or removes name's entry in the sparse HTTP
// index, then invalidates the CDN path if a CDN is configured.
func (h *Handlers) SyncToSparseIndex(ctx context.Context, data []byte) error {
	var p cratePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Error.Wrap(fmt.Errorf("unmarshal sync_to_sparse_index payload: %w", err))
	}

	h.Log.Info("syncing to sparse index", zap.String("crate", p.Name))
	content, err := loadIndexContent(ctx, h.DB, p.Name, h.Log)
	if err != nil {
		return err
	}

	path := objectstore.IndexPath(cratename.IndexPath(p.Name))
	if content == nil {
		if err := h.Store.Delete(ctx, path); err != nil {
			return Error.Wrap(fmt.Errorf("delete sparse index entry: %w", err))
		}
	} else {
		if err := h.Store.Put(ctx, path, bytes.NewReader(content), int64(len(content))); err != nil {
			return Error.Wrap(fmt.Errorf("put sparse index entry: %w", err))
		}
	}

	if h.CDN != nil {
		if err := h.CDN.Invalidate(ctx, path); err != nil {
			return Error.Wrap(fmt.Errorf("invalidate cdn: %w", err))
		}
	}
	return nil
}

// BulkSyncToGitIndex batches the git-index regeneration for every name in
// names into a single commit and push, used by the admin CLI's re-sync
// operation so a full reconciliation does not produce one commit per crate.
// Crates whose computed content is unchanged are silently skipped; message
// is used verbatim as the commit message regardless of how many crates
// actually changed.
func (h *Handlers) BulkSyncToGitIndex(ctx context.Context, names []string, message string) error {
	g := h.Repo.Lock()
	defer g.Close()

	var writes []indexrepo.Write
	for _, name := range names {
		newContent, err := loadIndexContent(ctx, h.DB, name, h.Log)
		if err != nil {
			return Error.Wrap(fmt.Errorf("load index content for %q: %w", name, err))
		}
		path := cratename.IndexPath(name)
		oldContent, err := h.Repo.ReadFile(g, path)
		if err != nil {
			return Error.Wrap(fmt.Errorf("read current index file for %q: %w", name, err))
		}
		if bytes.Equal(oldContent, newContent) {
			continue
		}
		writes = append(writes, indexrepo.Write{Path: path, Content: newContent})
	}

	if len(writes) == 0 {
		h.Log.Info("bulk git index sync found nothing to change", zap.Int("candidates", len(names)))
		return nil
	}
	return h.Repo.WriteManyAndCommit(ctx, g, writes, message)
}
