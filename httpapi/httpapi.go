// Package httpapi wires every collaborator package into the HTTP surface
// named in spec.md §6: gorilla/mux routes the request, this package
// authenticates it (package auth), authorizes it against crate ownership
// (package ownership), and delegates the two hard flows -- publish and
// yank -- to packages publish and ownership respectively. Every other
// route is a comparatively thin read against package database.
//
// Router composition (mux.Router plus a gorilla/handlers logging
// middleware wrapping the whole mux) mirrors the teacher's
// private/server / pkg/server layered listener-then-handler style, the
// closest precedent in the pack for "one process, one composed request
// pipeline, narrow collaborators underneath."
package httpapi

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"storj.io/cratesregistry/auth"
	"storj.io/cratesregistry/jobqueue"
	"storj.io/cratesregistry/objectstore"
	"storj.io/cratesregistry/ownership"
	"storj.io/cratesregistry/publish"
)

// DocsRebuildRelay forwards a rebuild_docs request to the external docs
// builder; implementations live outside this module (spec.md §1 lists the
// docs-rebuild relay itself as an external collaborator). A nil relay makes
// the route a no-op that still records the request via the job queue.
type DocsRebuildRelay interface {
	Trigger(crateName, version string) error
}

// Server bundles every collaborator the HTTP surface needs and builds the
// composed mux.Router.
type Server struct {
	DB            *sql.DB
	Store         objectstore.Store
	Auth          *auth.Authenticator
	Sessions      *auth.SessionCodec
	Publish       *publish.Coordinator
	Ownership     *ownership.Engine
	DocsRelay     DocsRebuildRelay
	OIDCVerifier  *auth.OIDCVerifier // nil disables the trusted-publishing token exchange route
	Log           *zap.Logger
	AllowedOrigin string // the registry's own public host, for auth.VerifyOrigin
}

// NewRouter builds the composed handler: access logging wraps CORS wraps
// the route table.
func (s *Server) NewRouter() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/v1/crates/{name}", s.handleShowCrate).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/crates/{name}", s.handleUpdateCrate).Methods(http.MethodPatch)
	r.HandleFunc("/api/v1/crates/{name}/owners", s.handleListOwners).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/crates/{name}/owners", s.handleAddOwner).Methods(http.MethodPut)
	r.HandleFunc("/api/v1/crates/{name}/owners", s.handleRemoveOwner).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/crates/{name}/reverse_dependencies", s.handleReverseDependencies).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/crates/{name}/follow", s.handleFollowStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/crates/{name}/follow", s.handleFollow).Methods(http.MethodPut)
	r.HandleFunc("/api/v1/crates/{name}/follow", s.handleUnfollow).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/crates/{name}/{version}", s.handleVersionDetail).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/crates/{name}/{version}", s.handleYank).Methods(http.MethodPatch)
	r.HandleFunc("/api/v1/crates/{name}/{version}/download", s.handleDownload).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/crates/{name}/{version}/rebuild_docs", s.handleRebuildDocs).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/crates/new", s.handlePublish).Methods(http.MethodPut)

	r.HandleFunc("/api/v1/summary", s.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/categories", s.handleCategories).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/keywords", s.handleKeywords).Methods(http.MethodGet)

	r.HandleFunc("/api/v1/me/tokens", s.handleListTokens).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/me/tokens", s.handleCreateToken).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/me/tokens/{id}", s.handleDeleteToken).Methods(http.MethodDelete)

	r.HandleFunc("/api/v1/trusted_publishing/tokens", s.handleTrustedPublishingExchange).Methods(http.MethodPost)

	var h http.Handler = r
	h = handlers.CORS(
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)(h)
	h = handlers.CombinedLoggingHandler(zapWriter{s.Log}, h)
	return h
}

// zapWriter adapts *zap.Logger to io.Writer so gorilla/handlers' Apache
// combined log format lands in the same structured logger as everything
// else, rather than opening a second, unstructured log stream.
type zapWriter struct {
	log *zap.Logger
}

func (w zapWriter) Write(p []byte) (int, error) {
	w.log.Info("access", zap.ByteString("line", p))
	return len(p), nil
}

var rebuildDocsJob = jobqueue.Definition{Name: "rebuild_docs", Queue: "default", Deduplicated: true}
