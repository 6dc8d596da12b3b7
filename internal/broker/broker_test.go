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

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	return New(path, "acct", "cont", HashContainer("acct", "cont"))
}

// HashContainer is reimplemented here instead of imported from
// internal/containerserver to avoid an import cycle; broker tests only need
// some stable-looking hash string, not the real sharding function.
func HashContainer(account, container string) string {
	return "deadbeefdeadbeefdeadbeefdeadbeef"
}

func TestInitializeCreatesContainer(t *testing.T) {
	b := newTestBroker(t)

	if err := b.Initialize("100.0"); err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}

	info, err := b.GetInfo()
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if info.PutTimestamp != "100.0" {
		t.Fatalf("expected put_timestamp 100.0, got %q", info.PutTimestamp)
	}
	if info.CreatedAt != "100.0" {
		t.Fatalf("expected created_at 100.0, got %q", info.CreatedAt)
	}
}

func TestInitializeFailsIfAlreadyExists(t *testing.T) {
	b := newTestBroker(t)
	if err := b.Initialize("100.0"); err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if err := b.Initialize("200.0"); err == nil {
		t.Fatalf("expected an error on double initialize")
	}
}

func TestPutObjectThenListed(t *testing.T) {
	b := newTestBroker(t)
	mustInit(t, b, "100.0")

	if err := b.PutObject("obj", "101.0", 5, "text/plain", "abc"); err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}

	info, err := b.GetInfo()
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if info.ObjectCount != 1 || info.BytesUsed != 5 {
		t.Fatalf("expected count=1 bytes=5, got count=%d bytes=%d", info.ObjectCount, info.BytesUsed)
	}

	rows, err := b.ObjectsAfter("", "", 10)
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if len(rows) != 1 || rows[0].Name != "obj" || rows[0].ETag != "abc" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestPutObjectOlderTimestampIsNoOp(t *testing.T) {
	b := newTestBroker(t)
	mustInit(t, b, "100.0")

	if err := b.PutObject("obj", "200.0", 10, "text/plain", "v1"); err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if err := b.PutObject("obj", "150.0", 99, "text/plain", "v2"); err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}

	info, err := b.GetInfo()
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if info.BytesUsed != 10 {
		t.Fatalf("expected the newer write to stick (bytes=10), got bytes=%d", info.BytesUsed)
	}

	rows, err := b.ObjectsAfter("", "", 10)
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if len(rows) != 1 || rows[0].ETag != "v1" {
		t.Fatalf("expected the v1 write to survive, got %+v", rows)
	}
}

func TestDeleteThenOlderPutIsSuppressed(t *testing.T) {
	b := newTestBroker(t)
	mustInit(t, b, "100.0")

	if err := b.DeleteObject("obj", "300.0"); err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if err := b.PutObject("obj", "250.0", 5, "text/plain", "abc"); err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}

	empty, err := b.Empty()
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if !empty {
		t.Fatalf("expected the container to still be empty (tombstone wins)")
	}

	info, err := b.GetInfo()
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if info.ObjectCount != 0 {
		t.Fatalf("expected object_count=0, got %d", info.ObjectCount)
	}
}

func TestContainerDeleteIsDeletedOnlyWhenEmpty(t *testing.T) {
	b := newTestBroker(t)
	mustInit(t, b, "100.0")

	if err := b.PutObject("obj", "101.0", 5, "text/plain", "abc"); err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if err := b.DeleteDB("200.0"); err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}

	deleted, err := b.IsDeleted()
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if deleted {
		t.Fatalf("expected not-deleted while a live object remains")
	}

	if err := b.DeleteObject("obj", "201.0"); err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	deleted, err = b.IsDeleted()
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if !deleted {
		t.Fatalf("expected deleted once the container is both tombstoned and empty")
	}
}

func TestUpdatePutTimestampOnlyMovesForward(t *testing.T) {
	b := newTestBroker(t)
	mustInit(t, b, "100.0")

	if err := b.UpdatePutTimestamp("50.0"); err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	info, err := b.GetInfo()
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if info.PutTimestamp != "100.0" {
		t.Fatalf("expected put_timestamp to stay at 100.0, got %q", info.PutTimestamp)
	}

	if err := b.UpdatePutTimestamp("150.0"); err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	info, err = b.GetInfo()
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if info.PutTimestamp != "150.0" {
		t.Fatalf("expected put_timestamp to advance to 150.0, got %q", info.PutTimestamp)
	}
}

func TestExistsUsesInjectedFs(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := NewWithFs("/srv/node/sda/containers/0/eef/deadbeef/deadbeef.db", "acct", "cont", "deadbeef", fs)

	exists, err := b.Exists()
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if exists {
		t.Fatalf("expected no file to exist yet")
	}

	if err := afero.WriteFile(fs, b.Path, []byte{}, 0640); err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	exists, err = b.Exists()
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if !exists {
		t.Fatalf("expected Exists to observe the file written through the same afero.Fs")
	}
}

func mustInit(t *testing.T, b *Broker, ts string) {
	t.Helper()
	if err := b.Initialize(ts); err != nil {
		t.Fatalf("unexpected error initializing: %s", err.Error())
	}
}
