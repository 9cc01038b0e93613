// Package jobs implements the remaining background job handlers (C6) that
// package publish's Publish enqueues but package indexsync does not
// implement: README rendering, the two site-wide RSS feeds, default-version
// recomputation (misc.go), and logging no-op handlers for the deferred jobs
// (deferred.go). Each handler re-derives
// everything it needs from the database and object store, so running one
// twice converges to the same state, matching the idempotent-retry
// contract package indexsync documents for the index-sync jobs.
package jobs

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"storj.io/cratesregistry/objectstore"
)

// versionPayload mirrors package publish's private job payload shape; kept
// as its own copy here for the same reason package indexsync keeps its own
// job Definitions, to avoid an import of package publish from a job
// handler package that publish's own Coordinator does not need.
type versionPayload struct {
	VersionID int64  `json:"version_id"`
	CrateID   int64  `json:"crate_id"`
	Name      string `json:"name"`
	Num       string `json:"num"`
}

// ReadmeRenderer renders a crate's README markdown and uploads the result
// next to its tarball. Markdown rendering uses goldmark, the CommonMark
// renderer the pack's xcawolfe-amzn-gastown repo already depends on for the
// same concern.
type ReadmeRenderer struct {
	Store objectstore.Store
	Log   *zap.Logger
}

// RenderAndUploadReadme handles the render_and_upload_readme job: fetch the
// crate's tarball, find a README.md, README.markdown or README file at the
// top of the crate directory, render it to HTML, and upload the result to
// objectstore.ReadmePath. The manifest's readme key is not consulted. A
// tarball with none of those files is a no-op, not an error -- publish
// enqueues this job for every new version, with or without a readme.
func (r *ReadmeRenderer) RenderAndUploadReadme(ctx context.Context, data []byte) error {
	var p versionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Error.Wrap(fmt.Errorf("decode render_and_upload_readme payload: %w", err))
	}

	rc, err := r.Store.Get(ctx, objectstore.CratePath(p.Name, p.Num))
	if err != nil {
		return Error.Wrap(fmt.Errorf("fetch tarball for %s-%s: %w", p.Name, p.Num, err))
	}
	defer rc.Close()

	readmeMarkdown, err := extractReadme(rc, p.Name, p.Num)
	if err != nil {
		return err
	}
	if readmeMarkdown == nil {
		r.Log.Info("no readme file found in tarball", zap.String("crate", p.Name), zap.String("version", p.Num))
		return nil
	}

	var html bytes.Buffer
	if err := goldmark.Convert(readmeMarkdown, &html); err != nil {
		return Error.Wrap(fmt.Errorf("render readme markdown: %w", err))
	}

	if err := r.Store.Put(ctx, objectstore.ReadmePath(p.Name, p.Num), &html, int64(html.Len())); err != nil {
		return Error.Wrap(fmt.Errorf("upload rendered readme: %w", err))
	}
	r.Log.Info("uploaded rendered readme", zap.String("crate", p.Name), zap.String("version", p.Num))
	return nil
}

// extractReadme un-gzips and untars r and returns the first regular file
// directly inside the crate's "<name>-<version>/" directory named README.md,
// README.markdown or README. It returns nil, nil when no such file is
// present.
func extractReadme(r io.Reader, name, version string) ([]byte, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("open tarball gzip stream: %w", err))
	}
	defer gz.Close()

	prefix := name + "-" + version + "/"
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, Error.Wrap(fmt.Errorf("read tarball entry: %w", err))
		}
		rel, ok := cutPrefix(hdr.Name, prefix)
		if !ok || hdr.Typeflag != tar.TypeReg {
			continue
		}
		if !isReadmeName(rel) {
			continue
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			return nil, Error.Wrap(fmt.Errorf("read readme entry %s: %w", hdr.Name, err))
		}
		return body, nil
	}
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}

func isReadmeName(rel string) bool {
	switch rel {
	case "README.md", "README.markdown", "README":
		return true
	default:
		return false
	}
}
