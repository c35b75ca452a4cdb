package migrate

import "fmt"

// All returns the migration chain for a schema, ascending by version.
// Every statement is its own element; nothing concatenates statements
// implicitly.
func All(schema string) []Migration {
	s := schema
	return []Migration{
		{
			Version:  1,
			Previous: 0,
			Install: []string{
				fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s),
				fmt.Sprintf(`CREATE TYPE %s.job_state AS ENUM ('created', 'retry', 'active', 'completed', 'cancelled', 'failed')`, s),
				fmt.Sprintf(`CREATE TABLE %s.version (
					version int PRIMARY KEY,
					maintained_on timestamptz
				)`, s),
				fmt.Sprintf(`CREATE TABLE %s.queue (
					name text PRIMARY KEY,
					policy text NOT NULL DEFAULT 'standard',
					retry_limit int,
					retry_delay int,
					retry_backoff boolean,
					expire_seconds int,
					retention_minutes int,
					dead_letter text REFERENCES %s.queue (name),
					partition_name text NOT NULL,
					created_on timestamptz NOT NULL DEFAULT now(),
					updated_on timestamptz NOT NULL DEFAULT now()
				)`, s, s),
				fmt.Sprintf(`CREATE TABLE %s.job (
					id uuid NOT NULL DEFAULT gen_random_uuid(),
					name text NOT NULL,
					priority int NOT NULL DEFAULT 0,
					data jsonb,
					state %s.job_state NOT NULL DEFAULT 'created',
					retry_limit int NOT NULL DEFAULT 2,
					retry_count int NOT NULL DEFAULT 0,
					retry_delay int NOT NULL DEFAULT 0,
					retry_backoff boolean NOT NULL DEFAULT false,
					start_after timestamptz NOT NULL DEFAULT now(),
					started_on timestamptz,
					singleton_key text,
					singleton_on timestamptz,
					expire_in interval NOT NULL DEFAULT interval '15 minutes',
					created_on timestamptz NOT NULL DEFAULT now(),
					completed_on timestamptz,
					keep_until timestamptz NOT NULL DEFAULT now() + interval '14 days',
					output jsonb,
					dead_letter text,
					policy text,
					PRIMARY KEY (name, id)
				) PARTITION BY LIST (name)`, s, s),
				fmt.Sprintf(`CREATE TABLE %s.archive (
					LIKE %s.job INCLUDING DEFAULTS
				)`, s, s),
				fmt.Sprintf(`ALTER TABLE %s.archive ADD COLUMN archived_on timestamptz NOT NULL DEFAULT now()`, s),
				fmt.Sprintf(`ALTER TABLE %s.archive ADD PRIMARY KEY (name, id)`, s),
				fmt.Sprintf(`CREATE INDEX archive_archived_on_idx ON %s.archive (archived_on)`, s),
				fmt.Sprintf(`CREATE TABLE %s.subscription (
					event text NOT NULL,
					name text NOT NULL REFERENCES %s.queue (name) ON DELETE CASCADE,
					PRIMARY KEY (event, name)
				)`, s, s),
			},
			Uninstall: []string{
				fmt.Sprintf(`DROP TABLE %s.subscription`, s),
				fmt.Sprintf(`DROP TABLE %s.archive`, s),
				fmt.Sprintf(`DROP TABLE %s.job`, s),
				fmt.Sprintf(`DROP TABLE %s.queue`, s),
				fmt.Sprintf(`DROP TABLE %s.version`, s),
				fmt.Sprintf(`DROP TYPE %s.job_state`, s),
			},
		},
		{
			Version:  2,
			Previous: 1,
			Install: []string{
				fmt.Sprintf(`ALTER TABLE %s.version ADD COLUMN monitored_on timestamptz`, s),
			},
			Uninstall: []string{
				fmt.Sprintf(`ALTER TABLE %s.version DROP COLUMN monitored_on`, s),
			},
		},
		{
			Version:  3,
			Previous: 2,
			Install: []string{
				fmt.Sprintf(`ALTER TABLE %s.subscription ADD COLUMN created_on timestamptz NOT NULL DEFAULT now()`, s),
				fmt.Sprintf(`ALTER TABLE %s.subscription ADD COLUMN updated_on timestamptz NOT NULL DEFAULT now()`, s),
			},
			Uninstall: []string{
				fmt.Sprintf(`ALTER TABLE %s.subscription DROP COLUMN updated_on`, s),
				fmt.Sprintf(`ALTER TABLE %s.subscription DROP COLUMN created_on`, s),
			},
		},
	}
}
