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
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
)

// Format identifies one of the three supported listing serializations.
type Format string

const (
	//PlainFormat is one name per line, the default when no format is negotiated.
	PlainFormat Format = "plain"
	//JSONFormat emits a JSON array of listing entries.
	JSONFormat Format = "json"
	//XMLFormat emits an XML <container> document.
	XMLFormat Format = "xml"
)

// NegotiateFormat resolves the listing format from the `format` query
// parameter (which always wins) or, failing that, the first of
// text/plain, application/json, application/xml that appears in the Accept
// header, stripping the "application/" prefix. Falls back to PlainFormat.
func NegotiateFormat(formatParam, acceptHeader string) Format {
	switch strings.ToLower(formatParam) {
	case "json":
		return JSONFormat
	case "xml":
		return XMLFormat
	case "plain", "text":
		return PlainFormat
	}

	for _, candidate := range strings.Split(acceptHeader, ",") {
		mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(candidate, ";", 2)[0]))
		switch mediaType {
		case "text/plain":
			return PlainFormat
		case "application/json":
			return JSONFormat
		case "application/xml", "text/xml":
			return XMLFormat
		}
	}

	return PlainFormat
}

// ContentType returns the MIME type to send for a given Format.
func (f Format) ContentType() string {
	switch f {
	case JSONFormat:
		return "application/json; charset=utf-8"
	case XMLFormat:
		return "application/xml; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Encode serializes rows according to format. This is deliberately
// polymorphism-over-format rather than one function with a switch inside a
// loop: each encoder owns its own framing (array brackets, XML prologue and
// closing tag, or nothing at all for plain text), which keeps the
// leading/trailing boilerplate out of the shared iteration logic in List.
func Encode(format Format, containerName string, rows []Row) []byte {
	switch format {
	case JSONFormat:
		return encodeJSON(rows)
	case XMLFormat:
		return encodeXML(containerName, rows)
	default:
		return encodePlain(rows)
	}
}

func encodePlain(rows []Row) []byte {
	var buf bytes.Buffer
	for _, r := range rows {
		buf.WriteString(r.Name)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

type jsonObjectEntry struct {
	Name         string `json:"name"`
	Hash         string `json:"hash"`
	Bytes        int64  `json:"bytes"`
	ContentType  string `json:"content_type"`
	LastModified string `json:"last_modified"`
}

type jsonSubdirEntry struct {
	Subdir string `json:"subdir"`
}

func encodeJSON(rows []Row) []byte {
	entries := make([]interface{}, len(rows))
	for i, r := range rows {
		if r.IsSubdir {
			entries[i] = jsonSubdirEntry{Subdir: r.Name}
		} else {
			entries[i] = jsonObjectEntry{
				Name:         r.Name,
				Hash:         r.ETag,
				Bytes:        r.Size,
				ContentType:  r.ContentType,
				LastModified: r.LastModified,
			}
		}
	}
	//errors here are unreachable: every field above is a string, int64, or
	//bool, none of which json.Marshal can fail on
	payload, _ := json.Marshal(entries)
	return payload
}

func encodeXML(containerName string, rows []Row) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&buf, `<container name="%s">`, xmlEscape(containerName))
	for _, r := range rows {
		if r.IsSubdir {
			fmt.Fprintf(&buf, `<subdir name="%s"/>`, xmlEscape(r.Name))
			continue
		}
		buf.WriteString("<object>")
		fmt.Fprintf(&buf, "<name>%s</name>", xmlEscape(r.Name))
		fmt.Fprintf(&buf, "<hash>%s</hash>", xmlEscape(r.ETag))
		fmt.Fprintf(&buf, "<bytes>%d</bytes>", r.Size)
		fmt.Fprintf(&buf, "<content_type>%s</content_type>", xmlEscape(r.ContentType))
		fmt.Fprintf(&buf, "<last_modified>%s</last_modified>", xmlEscape(r.LastModified))
		buf.WriteString("</object>")
	}
	buf.WriteString("</container>")
	return buf.Bytes()
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
