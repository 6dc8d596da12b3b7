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

package listing

import (
	"encoding/json"
	"encoding/xml"
	"strings"
	"testing"
)

func TestNegotiateFormatQueryWins(t *testing.T) {
	if NegotiateFormat("json", "text/plain") != JSONFormat {
		t.Fatalf("expected the format query parameter to win over Accept")
	}
}

func TestNegotiateFormatAcceptFallback(t *testing.T) {
	if NegotiateFormat("", "application/json, text/plain") != JSONFormat {
		t.Fatalf("expected the first matching Accept entry to be used")
	}
}

func TestNegotiateFormatDefaultsToPlain(t *testing.T) {
	if NegotiateFormat("", "") != PlainFormat {
		t.Fatalf("expected plain as the default")
	}
}

func TestEncodePlain(t *testing.T) {
	rows := []Row{{Name: "a"}, {Name: "a/b/", IsSubdir: true}}
	got := string(Encode(PlainFormat, "cont", rows))
	if got != "a\na/b/\n" {
		t.Fatalf("unexpected plain output: %q", got)
	}
}

func TestEncodeJSONRoundTrip(t *testing.T) {
	rows := []Row{
		{Name: "obj", ETag: "abc", Size: 5, ContentType: "text/plain", LastModified: "2020-01-01T00:00:00.000000"},
		{Name: "a/", IsSubdir: true},
	}
	payload := Encode(JSONFormat, "cont", rows)

	var decoded []map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("could not parse JSON output: %s", err.Error())
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(decoded))
	}
	if decoded[0]["name"] != "obj" || decoded[0]["hash"] != "abc" || decoded[0]["bytes"].(float64) != 5 {
		t.Fatalf("unexpected object entry: %+v", decoded[0])
	}
	if decoded[1]["subdir"] != "a/" {
		t.Fatalf("unexpected subdir entry: %+v", decoded[1])
	}
}

func TestEncodeXMLRoundTrip(t *testing.T) {
	rows := []Row{
		{Name: "obj", ETag: "abc", Size: 5, ContentType: "text/plain", LastModified: "2020-01-01T00:00:00.000000"},
		{Name: "a/", IsSubdir: true},
	}
	payload := Encode(XMLFormat, "cont", rows)
	if !strings.HasPrefix(string(payload), `<?xml version="1.0" encoding="UTF-8"?>`) {
		t.Fatalf("expected an XML prologue, got %q", payload)
	}

	var parsed struct {
		XMLName xml.Name `xml:"container"`
		Name    string   `xml:"name,attr"`
		Objects []struct {
			Name string `xml:"name"`
			Hash string `xml:"hash"`
			Size int64  `xml:"bytes"`
		} `xml:"object"`
		Subdirs []struct {
			Name string `xml:"name,attr"`
		} `xml:"subdir"`
	}
	if err := xml.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("could not parse XML output: %s", err.Error())
	}
	if parsed.Name != "cont" {
		t.Fatalf("expected container name 'cont', got %q", parsed.Name)
	}
	if len(parsed.Objects) != 1 || parsed.Objects[0].Name != "obj" || parsed.Objects[0].Hash != "abc" {
		t.Fatalf("unexpected objects: %+v", parsed.Objects)
	}
	if len(parsed.Subdirs) != 1 || parsed.Subdirs[0].Name != "a/" {
		t.Fatalf("unexpected subdirs: %+v", parsed.Subdirs)
	}
}

func TestXMLEscaping(t *testing.T) {
	rows := []Row{{Name: "<tag>&\"'", ContentType: "text/plain"}}
	payload := string(Encode(XMLFormat, "cont", rows))
	if strings.Contains(payload, "<tag>") {
		t.Fatalf("expected the object name to be escaped, got %q", payload)
	}
}
