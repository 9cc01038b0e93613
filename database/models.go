package database

import (
	"context"
	"database/sql"
	"time"
)

// Querier is satisfied by *sql.DB, *sql.Tx, and *sql.Conn, so repository
// functions can run either inside an explicit transaction (the publish
// coordinator threads one through every step) or directly against the pool
// (simple reads).
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OwnerKind distinguishes a user owner from a team owner on a CrateOwner row.
type OwnerKind int16

const (
	OwnerKindUser OwnerKind = iota
	OwnerKindTeam
)

// DependencyKind is the normal/build/dev classification of a Dependency row.
type DependencyKind int16

const (
	DependencyKindNormal DependencyKind = iota
	DependencyKindBuild
	DependencyKindDev
)

// ActionKind is the kind of a VersionOwnerAction audit row.
type ActionKind int16

const (
	ActionPublish ActionKind = iota
	ActionYank
	ActionUnyank
)

// Crate is the persisted row for a unique, case-insensitive crate name.
type Crate struct {
	ID             int64
	Name           string
	NormalizedName string
	Description    sql.NullString
	Documentation  sql.NullString
	Homepage       sql.NullString
	Repository     sql.NullString
	Readme         bool
	MaxUploadSize  sql.NullInt32
	MaxUnpackSize  sql.NullInt64
	TrustpubOnly   bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Version is a specific semver release of a Crate.
type Version struct {
	ID            int64
	CrateID       int64
	Num           string
	NumMajor      int64
	NumMinor      int64
	NumPatch      int64
	NumPrerelease string
	Size          int64
	Checksum      string
	Features      []byte // raw jsonb
	Features2     []byte // raw jsonb, nullable
	License       sql.NullString
	Links         sql.NullString
	RustVersion   sql.NullString
	Yanked        bool
	YankMessage   sql.NullString
	PublishedBy   sql.NullInt64
	Linecounts    []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Dependency is one dependency row belonging to a Version.
type Dependency struct {
	ID              int64
	VersionID       int64
	CrateName       string
	Req             string
	Kind            DependencyKind
	Optional        bool
	DefaultFeatures bool
	Features        []string
	Target          sql.NullString
	ExplicitName    sql.NullString
}

// User is a registered registry user, identified by a GitHub login.
type User struct {
	ID                   int64
	GHLogin              string
	GHID                 int64
	Email                sql.NullString
	EmailVerified        bool
	PublishNotifications bool
	CreatedAt            time.Time
}

// Team is an external group identity, e.g. "github:rust-lang:core".
type Team struct {
	ID        int64
	Login     string
	GithubID  int64
	OrgID     int64
	Name      sql.NullString
	Avatar    sql.NullString
}

// CrateOwner is a weak-referenced (user or team) owner of a Crate.
type CrateOwner struct {
	CrateID             int64
	OwnerID             int64
	OwnerKind           OwnerKind
	EmailNotifications  bool
	Deleted             bool
	CreatedAt           time.Time
}

// CrateOwnerInvitation is a pending invitation for a user to become an owner.
type CrateOwnerInvitation struct {
	InvitedUserID   int64
	CrateID         int64
	InvitedByUserID int64
	Token           string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// ApiToken is a long-lived bearer credential for a User.
type ApiToken struct {
	ID             int64
	UserID         int64
	Name           string
	HashedToken    string
	CrateScopes    []string
	EndpointScopes []string
	CreatedAt      time.Time
	LastUsedAt     sql.NullTime
	ExpiresAt      sql.NullTime
	Revoked        bool
}

// VersionOwnerAction is one append-only audit row for a Version.
type VersionOwnerAction struct {
	ID         int64
	VersionID  int64
	UserID     int64
	APITokenID sql.NullInt64
	Action     ActionKind
	CreatedAt  time.Time
}

// BackgroundJob is one row of the durable job queue (see package jobqueue).
type BackgroundJob struct {
	ID        int64
	JobType   string
	Data      []byte
	Priority  int16
	Queue     string
	Retries   int
	LastRetry sql.NullTime
	CreatedAt time.Time
}
