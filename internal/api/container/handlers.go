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

package containerv1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/sapcc/go-bits/respondwith"

	"github.com/sapcc/container-service/internal/broker"
	"github.com/sapcc/container-service/internal/containerserver"
	"github.com/sapcc/container-service/internal/listing"
)

func (a *API) handlePut(w http.ResponseWriter, r *http.Request) {
	path, ok := a.resolveAndMount(w, r)
	if !ok {
		return
	}
	ts, ok := requireTimestamp(w, r)
	if !ok {
		return
	}
	b := a.brokerFor(path)

	if path.HasObject() {
		a.putObject(w, r, b, path, ts)
		return
	}
	a.putContainer(w, r, b, path, ts)
}

func (a *API) putObject(w http.ResponseWriter, r *http.Request, b *broker.Broker, path containerserver.RequestPath, ts string) {
	exists, err := b.Exists()
	if respondwith.ErrorText(w, err) {
		return
	}
	if !exists {
		writeError(w, containerserver.ErrNotFound)
		return
	}

	size, convErr := strconv.ParseInt(r.Header.Get("X-Size"), 10, 64)
	if r.Header.Get("X-Size") != "" && convErr != nil {
		writeError(w, containerserver.ErrBadRequest.With("Invalid X-Size"))
		return
	}

	err = b.PutObject(path.Object, ts, size, r.Header.Get("X-Content-Type"), r.Header.Get("X-ETag"))
	if respondwith.ErrorText(w, err) {
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (a *API) putContainer(w http.ResponseWriter, r *http.Request, b *broker.Broker, path containerserver.RequestPath, ts string) {
	exists, err := b.Exists()
	if respondwith.ErrorText(w, err) {
		return
	}

	var created bool
	if !exists {
		if err := b.Initialize(ts); err != nil {
			respondwith.ErrorText(w, err)
			return
		}
		created = true
	} else {
		wasDeleted, err := b.IsDeleted()
		if respondwith.ErrorText(w, err) {
			return
		}
		created = wasDeleted
		if err := b.UpdatePutTimestamp(ts); err != nil {
			respondwith.ErrorText(w, err)
			return
		}
		stillDeleted, err := b.IsDeleted()
		if respondwith.ErrorText(w, err) {
			return
		}
		if stillDeleted {
			writeError(w, containerserver.ErrConflict)
			return
		}
	}

	if rerr := a.fireAccountUpdate(r, b, path); rerr != nil {
		writeError(w, rerr)
		return
	}

	if created {
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusAccepted)
	}
}

func (a *API) fireAccountUpdate(r *http.Request, b *broker.Broker, path containerserver.RequestPath) *containerserver.APIError {
	req := accountUpdateRequestFrom(r, path)
	if req.Skip() {
		return nil
	}
	info, err := b.GetInfo()
	if err != nil {
		return containerserver.ErrBadRequest.With(err.Error())
	}
	return a.updater.Update(r.Context(), req, infoToUpdaterInfo(info))
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	path, ok := a.resolveAndMount(w, r)
	if !ok {
		return
	}
	ts, ok := requireTimestamp(w, r)
	if !ok {
		return
	}
	b := a.brokerFor(path)

	exists, err := b.Exists()
	if respondwith.ErrorText(w, err) {
		return
	}
	if !exists {
		writeError(w, containerserver.ErrNotFound)
		return
	}

	if path.HasObject() {
		if err := b.DeleteObject(path.Object, ts); err != nil {
			respondwith.ErrorText(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a.deleteContainer(w, r, b, path, ts)
}

func (a *API) deleteContainer(w http.ResponseWriter, r *http.Request, b *broker.Broker, path containerserver.RequestPath, ts string) {
	empty, err := b.Empty()
	if respondwith.ErrorText(w, err) {
		return
	}
	if !empty {
		writeError(w, containerserver.ErrConflict)
		return
	}

	infoBefore, err := b.GetInfo()
	if respondwith.ErrorText(w, err) {
		return
	}
	wasDeleted, err := b.IsDeleted()
	if respondwith.ErrorText(w, err) {
		return
	}
	existed := infoBefore.PutTimestamp != "0" && !wasDeleted

	if err := b.DeleteDB(ts); err != nil {
		respondwith.ErrorText(w, err)
		return
	}
	isDeletedAfter, err := b.IsDeleted()
	if respondwith.ErrorText(w, err) {
		return
	}
	if !isDeletedAfter {
		writeError(w, containerserver.ErrConflict)
		return
	}

	if rerr := a.fireAccountUpdate(r, b, path); rerr != nil {
		writeError(w, rerr)
		return
	}

	//drop this container's handle from the cache now that it is logically
	//deleted, so a later PUT on the same path reopens the file from scratch
	//rather than serving a cached pre-deletion snapshot
	a.cache.Evict(b.Path)

	if existed {
		w.WriteHeader(http.StatusNoContent)
	} else {
		w.WriteHeader(http.StatusAccepted)
	}
}

func (a *API) handleHead(w http.ResponseWriter, r *http.Request) {
	path, ok := a.resolveAndMount(w, r)
	if !ok {
		return
	}
	b := a.brokerFor(path)

	exists, err := b.Exists()
	if respondwith.ErrorText(w, err) {
		return
	}
	if !exists {
		writeError(w, containerserver.ErrNotFound)
		return
	}
	deleted, err := b.IsDeleted()
	if respondwith.ErrorText(w, err) {
		return
	}
	if deleted {
		writeError(w, containerserver.ErrNotFound)
		return
	}

	info, err := b.GetInfo()
	if respondwith.ErrorText(w, err) {
		return
	}
	writeContainerHeaders(w, info)
	w.WriteHeader(http.StatusNoContent)
}

// brokerListingSource adapts *broker.Broker to the listing.Source interface
// expected by the listing engine, translating broker.ObjectRow into
// listing.SourceRow. The two packages intentionally don't import each
// other's row types directly (see internal/listing/listing.go).
type brokerListingSource struct {
	b *broker.Broker
}

func (s brokerListingSource) ObjectsAfter(marker, prefix string, batchSize int) ([]listing.SourceRow, error) {
	rows, err := s.b.ObjectsAfter(marker, prefix, batchSize)
	if err != nil {
		return nil, err
	}
	result := make([]listing.SourceRow, len(rows))
	for i, r := range rows {
		result[i] = listing.SourceRow{
			Name:        r.Name,
			CreatedAt:   r.CreatedAt,
			Size:        r.Size,
			ContentType: r.ContentType,
			ETag:        r.ETag,
		}
	}
	return result, nil
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	path, ok := a.resolveAndMount(w, r)
	if !ok {
		return
	}
	if !queryIsUTF8(r) {
		writeError(w, containerserver.ErrBadRequest.With("parameters not utf8"))
		return
	}
	b := a.brokerFor(path)

	exists, err := b.Exists()
	if respondwith.ErrorText(w, err) {
		return
	}
	if !exists {
		writeError(w, containerserver.ErrNotFound)
		return
	}
	deleted, err := b.IsDeleted()
	if respondwith.ErrorText(w, err) {
		return
	}
	if deleted {
		writeError(w, containerserver.ErrNotFound)
		return
	}

	q := r.URL.Query()
	limit := defaultListingLimit
	if limitStr := q.Get("limit"); limitStr != "" && isASCIIDigits(limitStr) {
		parsed, err := strconv.Atoi(limitStr)
		if err == nil {
			if parsed > defaultListingLimit {
				writeError(w, containerserver.ErrPreconditionFailed.With(fmt.Sprintf("Maximum limit is %d", defaultListingLimit)))
				return
			}
			limit = parsed
		}
	}
	//a non-digit (or negative) limit is silently ignored and the default is kept

	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	if pseudoDir := q.Get("path"); pseudoDir != "" {
		prefix = pseudoDir + "/"
		delimiter = "/"
	}
	if delimiter != "" {
		if len(delimiter) != 1 || delimiter[0] > 0xFE {
			writeError(w, containerserver.ErrPreconditionFailed.With("Bad delimiter"))
			return
		}
	}

	listQuery := listing.Query{
		Limit:     limit,
		Marker:    q.Get("marker"),
		Prefix:    prefix,
		Delimiter: delimiter,
	}
	rows, err := listing.List(brokerListingSource{b}, listQuery)
	if respondwith.ErrorText(w, err) {
		return
	}

	format := listing.NegotiateFormat(q.Get("format"), r.Header.Get("Accept"))

	if len(rows) == 0 && format == listing.PlainFormat {
		info, err := b.GetInfo()
		if respondwith.ErrorText(w, err) {
			return
		}
		writeContainerHeaders(w, info)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	body := listing.Encode(format, path.Container, rows)
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (a *API) handlePost(w http.ResponseWriter, r *http.Request) {
	replPath, err := containerserver.ResolveReplicationPath(r.URL.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	if aerr := a.mountGuard.Check(replPath.Drive); aerr != nil {
		writeError(w, aerr)
		return
	}

	body, readErr := readBody(r)
	if readErr != nil {
		writeError(w, containerserver.ErrBadRequest.With("Invalid body: "+readErr.Error()))
		return
	}

	result, rerr := containerserver.DispatchReplication(replPath.Drive, replPath.Partition, replPath.Hash, body)
	if rerr != nil {
		writeError(w, rerr)
		return
	}

	payload, err2 := json.Marshal(result)
	if err2 != nil {
		respondwith.ErrorText(w, err2)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// isASCIIDigits mirrors Python's str.isdigit() for the purposes of the
// "limit" query parameter: non-empty and composed only of '0'-'9', so a
// leading '-' (or anything else non-numeric) is rejected rather than parsed.
func isASCIIDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
