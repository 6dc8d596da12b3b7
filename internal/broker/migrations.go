/*******************************************************************************
*
* Copyright 2018-2020 SAP SE
*
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You should have received a copy of the License along with this
* program. If not, you may obtain a copy of the License at
*
*     http://www.apache.org/licenses/LICENSE-2.0
*
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
*
*******************************************************************************/

package broker

import "github.com/sapcc/go-bits/sqlext"

// sqlMigrations mirrors the named-migration-map idiom keppel's InitDB uses
// with easypg, but simplified for this package's needs: unlike keppel's
// single shared Postgres catalog (migrated in place across the lifetime of
// the service), a container DB file is created exactly once by Initialize()
// and never needs forward migration after that, so there is only ever one
// migration to apply. The map shape is kept anyway since it is the idiom the
// rest of this codebase uses for schema definitions, and because a second
// migration becomes trivial to add here if this database's schema ever
// needs to evolve in place.
var sqlMigrations = map[string]string{
	"001_initial.up.sql": `
		CREATE TABLE container_info (
			account          TEXT    NOT NULL,
			container        TEXT    NOT NULL,
			created_at       TEXT    NOT NULL,
			put_timestamp    TEXT    NOT NULL DEFAULT '0',
			delete_timestamp TEXT    NOT NULL DEFAULT '0',
			object_count     INTEGER NOT NULL DEFAULT 0,
			bytes_used       INTEGER NOT NULL DEFAULT 0,
			hash             TEXT    NOT NULL
		);

		CREATE TABLE object (
			name         TEXT    NOT NULL PRIMARY KEY,
			created_at   TEXT    NOT NULL,
			size          INTEGER NOT NULL DEFAULT 0,
			content_type TEXT    NOT NULL DEFAULT '',
			etag         TEXT    NOT NULL DEFAULT '',
			deleted      INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX ix_object_name_deleted ON object (name, deleted);
	`,
}

// migrationStatements returns every migration in sqlMigrations, in the fixed
// order listed below and whitespace-normalized, for Initialize to execute
// against a freshly created database file. Since container DBs are
// single-writer and created exactly once, the full set is always applied
// (there is no tracking table for "already applied" migrations -- there is
// never a pre-existing schema to reconcile against).
func migrationStatements() []string {
	statements := make([]string, 0, len(sqlMigrations))
	for _, name := range []string{"001_initial.up.sql"} {
		statements = append(statements, sqlext.SimplifyWhitespace(sqlMigrations[name]))
	}
	return statements
}
