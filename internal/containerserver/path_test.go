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

package containerserver

import (
	"net/http"
	"testing"
)

func TestResolvePathContainer(t *testing.T) {
	p, err := ResolvePath("/sda/0/acct/cont")
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if p.Drive != "sda" || p.Partition != "0" || p.Account != "acct" || p.Container != "cont" {
		t.Fatalf("unexpected path: %+v", p)
	}
	if p.HasObject() {
		t.Fatalf("expected no object segment")
	}
}

func TestResolvePathObjectWithSlashes(t *testing.T) {
	p, err := ResolvePath("/sda/0/acct/cont/a/b/c")
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if p.Object != "a/b/c" {
		t.Fatalf("expected object 'a/b/c', got %q", p.Object)
	}
}

func TestResolvePathRejectsTooFewSegments(t *testing.T) {
	_, err := ResolvePath("/sda/0/acct")
	if err == nil {
		t.Fatalf("expected an error")
	}
	if err.Status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", err.Status)
	}
}

func TestResolvePathRejectsEmptyRequiredSegment(t *testing.T) {
	_, err := ResolvePath("/sda/0//cont")
	if err == nil {
		t.Fatalf("expected an error")
	}
	if err.Status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", err.Status)
	}
}

func TestResolvePathRejectsEmptyTrailingObject(t *testing.T) {
	_, err := ResolvePath("/sda/0/acct/cont/")
	if err == nil {
		t.Fatalf("expected an error")
	}
	if err.Status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", err.Status)
	}
}

func TestResolveReplicationPath(t *testing.T) {
	p, err := ResolveReplicationPath("/sda/0/deadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
	if p.Drive != "sda" || p.Partition != "0" || p.Hash != "deadbeef" {
		t.Fatalf("unexpected path: %+v", p)
	}
}

func TestResolveReplicationPathRejectsWrongSegmentCount(t *testing.T) {
	_, err := ResolveReplicationPath("/sda/0/deadbeef/extra")
	if err == nil {
		t.Fatalf("expected an error")
	}
	if err.Status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", err.Status)
	}
}

func TestHashContainerIsDeterministic(t *testing.T) {
	h1 := HashContainer("acct", "cont")
	h2 := HashContainer("acct", "cont")
	if h1 != h2 {
		t.Fatalf("expected stable hash, got %q and %q", h1, h2)
	}
	if len(h1) != 32 {
		t.Fatalf("expected a 32-char hex hash, got %q", h1)
	}
	if HashContainer("acct", "other") == h1 {
		t.Fatalf("expected different containers to hash differently")
	}
}

func TestDBPathUsesHashSuffix(t *testing.T) {
	path := DBPath("/srv/node", "sda", "0", "acct", "cont")
	hash := HashContainer("acct", "cont")
	suffix := hash[len(hash)-3:]
	expected := "/srv/node/sda/containers/0/" + suffix + "/" + hash + "/" + hash + ".db"
	if path != expected {
		t.Fatalf("expected %q, got %q", expected, path)
	}
}
