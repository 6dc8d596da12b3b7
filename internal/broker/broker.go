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

// Package broker implements the per-container database: a single SQLite
// file holding one container's metadata row and its object listing. It
// plays the role that keppel's DB type plays for keppel's shared Postgres
// catalog, but each Broker instance owns exactly one small file instead of
// the whole service's state, and is the sole writer for that file.
package broker

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/dlmiddlecote/sqlstats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	gorp "gopkg.in/gorp.v2"
	_ "modernc.org/sqlite" //database/sql driver, registered as "sqlite"
)

// Info is the container record described in the data model: the aggregate
// counters and timestamps that HEAD/GET responses and the account updater
// both read.
type Info struct {
	Account         string
	Container       string
	Hash            string
	CreatedAt       string
	PutTimestamp    string
	DeleteTimestamp string
	ObjectCount     int64
	BytesUsed       int64
}

// ObjectRow is a single row from the object table, as surfaced to the
// listing engine.
type ObjectRow struct {
	Name        string
	CreatedAt   string
	Size        int64
	ContentType string
	ETag        string
	Deleted     bool
}

// containerInfoRow is the gorp-mapped shape of the container_info table.
type containerInfoRow struct {
	Account         string `db:"account"`
	Container       string `db:"container"`
	CreatedAt       string `db:"created_at"`
	PutTimestamp    string `db:"put_timestamp"`
	DeleteTimestamp string `db:"delete_timestamp"`
	ObjectCount     int64  `db:"object_count"`
	BytesUsed       int64  `db:"bytes_used"`
	Hash            string `db:"hash"`
}

// objectRow is the gorp-mapped shape of the object table.
type objectRow struct {
	Name        string `db:"name"`
	CreatedAt   string `db:"created_at"`
	Size        int64  `db:"size"`
	ContentType string `db:"content_type"`
	ETag        string `db:"etag"`
	Deleted     int    `db:"deleted"`
}

// Broker is a handle to a single container's database file. Every operation
// takes the Broker's own mutex, so concurrent requests against the same
// container are serialized here; callers obtain one through the Cache (see
// cache.go), which hands out the same *Broker for repeated requests against
// the same path.
type Broker struct {
	Path      string
	Account   string
	Container string
	Hash      string

	mu        sync.Mutex
	db        *gorp.DbMap
	collector prometheus.Collector

	//fs is the afero.Fs used for every filesystem operation around the DB
	//file itself (existence checks, directory creation, the atomic
	//create-then-rename of a fresh file) -- the same abstraction keppel's
	//filesystem storage driver uses for blob/manifest I/O, applied here instead to the container DB's own file lifecycle. The
	//SQLite driver still opens b.Path directly (it has no concept of afero),
	//so fs must be backed by the real OS filesystem in production; tests
	//that only exercise Exists()/Initialize()'s pre-flight checks may swap
	//in an afero.NewMemMapFs() to avoid touching disk.
	fs afero.Fs
}

// statsCollector returns the Prometheus collector registered for this
// broker's connection pool, if connect() has run. Cache.onEvict uses this to
// unregister the collector before closing the connection, avoiding a
// "duplicate metrics collector registration" panic if a later Broker for
// the same path gets a fresh collector with colliding labels.
func (b *Broker) statsCollector() (prometheus.Collector, bool) {
	return b.collector, b.collector != nil
}

// New creates a handle for the given path, backed by the real OS
// filesystem. This performs no I/O and does not create the file, mirroring
// open(path, account, container) in the broker contract.
func New(path, account, container, hash string) *Broker {
	return NewWithFs(path, account, container, hash, afero.NewOsFs())
}

// NewWithFs is New with an explicit afero.Fs, letting tests that only
// exercise the pre-flight existence/creation checks run against an
// afero.NewMemMapFs() instead of real disk.
func NewWithFs(path, account, container, hash string, fs afero.Fs) *Broker {
	return &Broker{Path: path, Account: account, Container: container, Hash: hash, fs: fs}
}

// Exists reports whether the database file is present on disk.
func (b *Broker) Exists() (bool, error) {
	return afero.Exists(b.fs, b.Path)
}

// connect opens the underlying SQLite file if it is not already open. It
// does not create the file: sql.Open is lazy, but any subsequent query
// against a nonexistent file returns an error from the driver, which is
// exactly the semantics wanted for all operations except Initialize.
func (b *Broker) connect() error {
	if b.db != nil {
		return nil
	}
	sqlDB, err := sql.Open("sqlite", b.Path)
	if err != nil {
		return fmt.Errorf("cannot open %s: %w", b.Path, err)
	}
	sqlDB.SetMaxOpenConns(1) //SQLite + single-writer model: one connection per file is enough and avoids SQLITE_BUSY
	b.db = &gorp.DbMap{Db: sqlDB, Dialect: gorp.SqliteDialect{}}
	b.db.AddTableWithName(containerInfoRow{}, "container_info")
	b.db.AddTableWithName(objectRow{}, "object")

	collector := sqlstats.NewStatsCollector(b.Hash, sqlDB)
	if err := prometheus.Register(collector); err != nil {
		//a collector for this hash is already registered (e.g. a stale entry
		//from a prior Cache eviction race); proceed without metrics rather
		//than failing the whole connection
		collector = nil
	}
	b.collector = collector

	return nil
}

// Close releases the underlying database connection, if any.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Db.Close()
	b.db = nil
	return err
}

// Initialize creates the DB file atomically at created_at = put_timestamp =
// ts, delete_timestamp = 0. Fails if the file already exists.
func (b *Broker) Initialize(ts string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if exists, err := b.Exists(); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("container database already exists at %s", b.Path)
	}

	if err := b.fs.MkdirAll(filepath.Dir(b.Path), 0750); err != nil {
		return fmt.Errorf("cannot create directory for %s: %w", b.Path, err)
	}

	//create the file via a temporary name, then rename into place, the same
	//atomic write-then-rename pattern keppel's filesystem storage driver uses
	//for blobs and manifests
	tmpPath := b.Path + ".tmp"
	f, err := b.fs.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", tmpPath, err)
	}
	f.Close()

	if err := b.fs.Rename(tmpPath, b.Path); err != nil {
		return fmt.Errorf("cannot rename %s to %s: %w", tmpPath, b.Path, err)
	}

	if err := b.connect(); err != nil {
		return err
	}
	for _, stmt := range migrationStatements() {
		if _, err := b.db.Exec(stmt); err != nil {
			return fmt.Errorf("cannot apply schema to %s: %w", b.Path, err)
		}
	}

	return b.db.Insert(&containerInfoRow{
		Account:         b.Account,
		Container:       b.Container,
		CreatedAt:       ts,
		PutTimestamp:    ts,
		DeleteTimestamp: "0",
		Hash:            b.Hash,
	})
}

func (b *Broker) infoRow() (*containerInfoRow, error) {
	if err := b.connect(); err != nil {
		return nil, err
	}
	var row containerInfoRow
	err := b.db.SelectOne(&row, "SELECT * FROM container_info LIMIT 1")
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetInfo returns the container record.
func (b *Broker) GetInfo() (Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	row, err := b.infoRow()
	if err != nil {
		return Info{}, err
	}
	return Info{
		Account:         row.Account,
		Container:       row.Container,
		Hash:            row.Hash,
		CreatedAt:       row.CreatedAt,
		PutTimestamp:    row.PutTimestamp,
		DeleteTimestamp: row.DeleteTimestamp,
		ObjectCount:     row.ObjectCount,
		BytesUsed:       row.BytesUsed,
	}, nil
}

// UpdatePutTimestamp sets put_timestamp = max(current, ts).
func (b *Broker) UpdatePutTimestamp(ts string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	row, err := b.infoRow()
	if err != nil {
		return err
	}
	if !isNewer(ts, row.PutTimestamp) {
		return nil
	}
	_, err = b.db.Exec("UPDATE container_info SET put_timestamp = ?", ts)
	return err
}

// DeleteDB sets delete_timestamp = ts.
func (b *Broker) DeleteDB(ts string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.infoRow(); err != nil {
		return err
	}
	_, err := b.db.Exec("UPDATE container_info SET delete_timestamp = ?", ts)
	return err
}

// Empty reports whether there are no live (non-tombstone) rows.
func (b *Broker) Empty() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emptyLocked()
}

func (b *Broker) emptyLocked() (bool, error) {
	if err := b.connect(); err != nil {
		return false, err
	}
	count, err := b.db.SelectInt("SELECT COUNT(*) FROM object WHERE deleted = 0")
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// IsDeleted reports whether delete_timestamp > put_timestamp AND the
// container holds no live rows.
func (b *Broker) IsDeleted() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isDeletedLocked()
}

func (b *Broker) isDeletedLocked() (bool, error) {
	row, err := b.infoRow()
	if err != nil {
		return false, err
	}
	if !isNewer(row.DeleteTimestamp, row.PutTimestamp) {
		return false, nil
	}
	return b.emptyLocked()
}

// PutObject upserts an object row by name using the timestamp-ordering rule:
// the new row replaces the old one only if its created_at is strictly
// greater, or equal with the new row being a tombstone and the old one not
// (tombstones win ties). Object_count/bytes_used are adjusted to reflect
// only live rows.
func (b *Broker) PutObject(name, ts string, size int64, contentType, etag string) error {
	return b.upsertObject(objectRow{
		Name:        name,
		CreatedAt:   ts,
		Size:        size,
		ContentType: contentType,
		ETag:        etag,
		Deleted:     0,
	})
}

// DeleteObject upserts a tombstone row (name, ts, 0, "", "", deleted=1)
// under the same ordering rule as PutObject.
func (b *Broker) DeleteObject(name, ts string) error {
	return b.upsertObject(objectRow{
		Name:      name,
		CreatedAt: ts,
		Deleted:   1,
	})
}

func (b *Broker) upsertObject(newRow objectRow) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.connect(); err != nil {
		return err
	}

	var existing objectRow
	err := b.db.SelectOne(&existing, "SELECT * FROM object WHERE name = ?", newRow.Name)
	hasExisting := true
	if err == sql.ErrNoRows {
		hasExisting = false
	} else if err != nil {
		return err
	}

	if hasExisting && !shouldReplace(newRow.CreatedAt, newRow.Deleted == 1, existing.CreatedAt, existing.Deleted == 1) {
		return nil //no-op: existing row wins
	}

	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }() //no-op once committed

	if hasExisting {
		if existing.Deleted == 0 {
			if _, err := tx.Exec("UPDATE container_info SET object_count = object_count - 1, bytes_used = bytes_used - ?", existing.Size); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(
			"UPDATE object SET created_at = ?, size = ?, content_type = ?, etag = ?, deleted = ? WHERE name = ?",
			newRow.CreatedAt, newRow.Size, newRow.ContentType, newRow.ETag, newRow.Deleted, newRow.Name,
		); err != nil {
			return err
		}
	} else {
		if err := tx.Insert(&newRow); err != nil {
			return err
		}
	}

	if newRow.Deleted == 0 {
		if _, err := tx.Exec("UPDATE container_info SET object_count = object_count + 1, bytes_used = bytes_used + ?", newRow.Size); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ObjectsAfter returns up to batchSize live (non-tombstone) rows in ascending
// name order, restricted to names strictly greater than marker and starting
// with prefix. It is the forward-scan primitive the listing engine's
// iterator calls repeatedly in small batches, so that a full container
// listing never materializes the whole key set in memory at once.
func (b *Broker) ObjectsAfter(marker, prefix string, batchSize int) ([]ObjectRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.connect(); err != nil {
		return nil, err
	}

	var rows []objectRow
	query := "SELECT * FROM object WHERE name > ? AND deleted = 0"
	args := []interface{}{marker}
	if prefix != "" {
		query += " AND name >= ? AND name < ?"
		args = append(args, prefix, prefixUpperBound(prefix))
	}
	query += " ORDER BY name ASC LIMIT ?"
	args = append(args, batchSize)

	_, err := b.db.Select(&rows, query, args...)
	if err != nil {
		return nil, err
	}

	result := make([]ObjectRow, len(rows))
	for i, r := range rows {
		result[i] = ObjectRow{
			Name:        r.Name,
			CreatedAt:   r.CreatedAt,
			Size:        r.Size,
			ContentType: r.ContentType,
			ETag:        r.ETag,
			Deleted:     r.Deleted != 0,
		}
	}
	return result, nil
}

// prefixUpperBound returns the lexicographically smallest string that is
// greater than every string starting with prefix, used to turn a
// "name LIKE prefix%"-style query into a sargable range scan.
func prefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return string(b[:i+1])
		}
	}
	return prefix + "\xff"
}

// shouldReplace implements the invariant from the data model: the row kept
// is the one with the greatest created_at; ties are broken in favor of the
// tombstone.
func shouldReplace(newTS string, newDeleted bool, oldTS string, oldDeleted bool) bool {
	n, nerr := parseTimestamp(newTS)
	o, oerr := parseTimestamp(oldTS)
	if nerr != nil || oerr != nil {
		return newTS > oldTS //fall back to lexicographic comparison, which holds for well-formed fixed-precision decimals
	}
	switch {
	case n > o:
		return true
	case n < o:
		return false
	default:
		return newDeleted && !oldDeleted
	}
}

// isNewer reports whether ts is strictly greater than current.
func isNewer(ts, current string) bool {
	n, nerr := parseTimestamp(ts)
	c, cerr := parseTimestamp(current)
	if nerr != nil || cerr != nil {
		return ts > current
	}
	return n > c
}

func parseTimestamp(ts string) (float64, error) {
	return strconv.ParseFloat(ts, 64)
}
