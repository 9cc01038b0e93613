package database

// Schema is the full Migration describing every table in §3 of
// SPEC_FULL.md. It is applied once at service startup (see
// cmd/registryd/serve.go) and by the test harness (see testctx).
var Schema = Migration{
	Table: "schema_migrations",
	Steps: []Step{
		{
			Version:     1,
			Description: "crates, versions, dependencies",
			Action: SQL(
				`CREATE TABLE crates (
					id                 bigserial PRIMARY KEY,
					name               text NOT NULL,
					normalized_name    text NOT NULL UNIQUE,
					description        text,
					documentation      text,
					homepage           text,
					repository         text,
					readme             boolean NOT NULL DEFAULT false,
					max_upload_size    integer,
					max_unpack_size    bigint,
					trustpub_only      boolean NOT NULL DEFAULT false,
					created_at         timestamptz NOT NULL DEFAULT now(),
					updated_at         timestamptz NOT NULL DEFAULT now()
				)`,
				`CREATE UNIQUE INDEX crates_name_idx ON crates (name)`,
				`CREATE TABLE versions (
					id               bigserial PRIMARY KEY,
					crate_id         bigint NOT NULL REFERENCES crates(id),
					num              text NOT NULL,
					num_major        bigint NOT NULL,
					num_minor        bigint NOT NULL,
					num_patch        bigint NOT NULL,
					num_prerelease   text NOT NULL DEFAULT '',
					size             bigint NOT NULL,
					checksum         text NOT NULL,
					features         jsonb NOT NULL DEFAULT '{}',
					features2        jsonb,
					license          text,
					links            text,
					rust_version     text,
					yanked           boolean NOT NULL DEFAULT false,
					yank_message     text,
					published_by     bigint,
					linecounts       jsonb,
					created_at       timestamptz NOT NULL DEFAULT now(),
					updated_at       timestamptz NOT NULL DEFAULT now(),
					UNIQUE (crate_id, num)
				)`,
				`CREATE TABLE dependencies (
					id               bigserial PRIMARY KEY,
					version_id       bigint NOT NULL REFERENCES versions(id),
					crate_name       text NOT NULL,
					req              text NOT NULL,
					kind             smallint NOT NULL,
					optional         boolean NOT NULL DEFAULT false,
					default_features boolean NOT NULL DEFAULT true,
					features         text[] NOT NULL DEFAULT '{}',
					target           text,
					explicit_name    text
				)`,
				`CREATE INDEX dependencies_version_id_idx ON dependencies (version_id)`,
				`CREATE TABLE version_downloads (
					version_id bigint NOT NULL REFERENCES versions(id),
					date       date NOT NULL,
					downloads  bigint NOT NULL DEFAULT 0,
					PRIMARY KEY (version_id, date)
				)`,
				`CREATE TABLE default_versions (
					crate_id   bigint PRIMARY KEY REFERENCES crates(id),
					version_id bigint NOT NULL REFERENCES versions(id)
				)`,
			),
		},
		{
			Version:     2,
			Description: "ownership: users, teams, crate_owners, invitations, tokens",
			Action: SQL(
				`CREATE TABLE users (
					id               bigserial PRIMARY KEY,
					gh_login         text NOT NULL UNIQUE,
					gh_id            bigint NOT NULL UNIQUE,
					email            text,
					email_verified   boolean NOT NULL DEFAULT false,
					publish_notifications boolean NOT NULL DEFAULT true,
					created_at       timestamptz NOT NULL DEFAULT now()
				)`,
				`CREATE TABLE teams (
					id         bigserial PRIMARY KEY,
					login      text NOT NULL UNIQUE,
					github_id  bigint NOT NULL,
					org_id     bigint NOT NULL,
					name       text,
					avatar     text
				)`,
				`CREATE TABLE crate_owners (
					crate_id             bigint NOT NULL REFERENCES crates(id),
					owner_id             bigint NOT NULL,
					owner_kind           smallint NOT NULL,
					email_notifications  boolean NOT NULL DEFAULT true,
					deleted              boolean NOT NULL DEFAULT false,
					created_at           timestamptz NOT NULL DEFAULT now(),
					PRIMARY KEY (crate_id, owner_id, owner_kind)
				)`,
				`CREATE TABLE crate_owner_invitations (
					invited_user_id    bigint NOT NULL,
					crate_id           bigint NOT NULL REFERENCES crates(id),
					invited_by_user_id bigint NOT NULL,
					token              text NOT NULL UNIQUE,
					created_at         timestamptz NOT NULL DEFAULT now(),
					expires_at         timestamptz NOT NULL,
					PRIMARY KEY (invited_user_id, crate_id)
				)`,
				`CREATE TABLE api_tokens (
					id              bigserial PRIMARY KEY,
					user_id         bigint NOT NULL REFERENCES users(id),
					name            text NOT NULL,
					hashed_token    text NOT NULL UNIQUE,
					crate_scopes    text[],
					endpoint_scopes text[],
					created_at      timestamptz NOT NULL DEFAULT now(),
					last_used_at    timestamptz,
					expires_at      timestamptz,
					revoked         boolean NOT NULL DEFAULT false
				)`,
				`CREATE TABLE version_owner_actions (
					id            bigserial PRIMARY KEY,
					version_id    bigint NOT NULL REFERENCES versions(id),
					user_id       bigint NOT NULL,
					api_token_id  bigint,
					action        smallint NOT NULL,
					created_at    timestamptz NOT NULL DEFAULT now()
				)`,
			),
		},
		{
			Version:     3,
			Description: "keywords and categories catalogue",
			Action: SQL(
				`CREATE TABLE keywords (
					id   bigserial PRIMARY KEY,
					slug text NOT NULL UNIQUE
				)`,
				`CREATE TABLE version_keywords (
					version_id bigint NOT NULL REFERENCES versions(id),
					keyword_id bigint NOT NULL REFERENCES keywords(id),
					PRIMARY KEY (version_id, keyword_id)
				)`,
				`CREATE TABLE categories (
					id          bigserial PRIMARY KEY,
					slug        text NOT NULL UNIQUE,
					category    text NOT NULL,
					description text
				)`,
				`CREATE TABLE crate_categories (
					crate_id    bigint NOT NULL REFERENCES crates(id),
					category_id bigint NOT NULL REFERENCES categories(id),
					PRIMARY KEY (crate_id, category_id)
				)`,
			),
		},
		{
			Version:     4,
			Description: "background job queue",
			Action: SQL(
				`CREATE TABLE background_jobs (
					id         bigserial PRIMARY KEY,
					job_type   text NOT NULL,
					data       jsonb NOT NULL,
					priority   smallint NOT NULL DEFAULT 0,
					queue      text NOT NULL DEFAULT 'default',
					retries    integer NOT NULL DEFAULT 0,
					last_retry timestamptz,
					created_at timestamptz NOT NULL DEFAULT now()
				)`,
				`CREATE INDEX background_jobs_lease_idx ON background_jobs (priority DESC, id ASC)`,
			),
		},
		{
			Version:     5,
			Description: "publish rate limit buckets",
			Action: SQL(
				`CREATE TABLE publish_limit_buckets (
					user_id    bigint NOT NULL,
					action     smallint NOT NULL,
					tokens     double precision NOT NULL,
					last_refill timestamptz NOT NULL DEFAULT now(),
					PRIMARY KEY (user_id, action)
				)`,
				`CREATE TABLE publish_limit_overrides (
					user_id    bigint PRIMARY KEY,
					burst      integer NOT NULL,
					expires_at timestamptz
				)`,
			),
		},
		{
			Version:     6,
			Description: "trusted publishing: GitHub OIDC configs and minted access tokens",
			Action: SQL(
				`CREATE TABLE trustpub_github_configs (
					id                bigserial PRIMARY KEY,
					crate_id          bigint NOT NULL REFERENCES crates(id),
					repository_owner  text NOT NULL,
					repository_name   text NOT NULL,
					workflow_filename text NOT NULL,
					environment       text,
					created_at        timestamptz NOT NULL DEFAULT now()
				)`,
				`CREATE INDEX trustpub_github_configs_crate_id_idx ON trustpub_github_configs (crate_id)`,
				`CREATE TABLE trustpub_tokens (
					id           bigserial PRIMARY KEY,
					hashed_token text NOT NULL UNIQUE,
					crate_ids    bigint[] NOT NULL,
					expires_at   timestamptz NOT NULL
				)`,
			),
		},
	},
}
