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

// Package containerv1 implements the HTTP request controller (C4): it
// dispatches GET/HEAD/PUT/DELETE/POST against container and object paths,
// validates inputs, and orchestrates the broker, the account updater, and
// the listing engine. Its shape (an API struct with an AddTo(*mux.Router)
// method) follows keppel's registry API.
package containerv1

import (
	"io"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/sapcc/container-service/internal/broker"
	"github.com/sapcc/container-service/internal/containerserver"
	"github.com/sapcc/container-service/internal/listing"
)

const defaultListingLimit = 10000

// API contains the state shared by every request: where container DBs live
// on disk, the cache of open broker handles, and the best-effort account
// updater. Its shape mirrors keppel's keppelv1.API.
type API struct {
	cfg        containerserver.Configuration
	cache      *broker.Cache
	mountGuard containerserver.MountGuard
	updater    containerserver.AccountUpdater
}

// NewAPI constructs a new API instance.
func NewAPI(cfg containerserver.Configuration, cache *broker.Cache, redisClient *redis.Client) *API {
	return &API{
		cfg:   cfg,
		cache: cache,
		mountGuard: containerserver.MountGuard{
			DevicesRoot: cfg.Devices,
			MountCheck:  cfg.MountCheck,
		},
		updater: containerserver.AccountUpdater{
			ConnTimeout:  cfg.ConnTimeout,
			NodeTimeout:  cfg.NodeTimeout,
			PendingQueue: redisClient,
		},
	}
}

// AddTo registers this API's routes on the given router.
func (a *API) AddTo(r *mux.Router) {
	r.Methods("GET").Path("/healthcheck").HandlerFunc(containerserver.HealthCheckHandler)
	//every other path shape is resolved by our own parser (C1), not by
	//gorilla/mux route variables, since the object segment may itself
	//contain slashes
	r.PathPrefix("/").HandlerFunc(a.handle)
}

func (a *API) handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		a.handlePut(w, r)
	case http.MethodDelete:
		a.handleDelete(w, r)
	case http.MethodHead:
		a.handleHead(w, r)
	case http.MethodGet:
		a.handleGet(w, r)
	case http.MethodPost:
		a.handlePost(w, r)
	default:
		writeError(w, containerserver.ErrMethodNotAllowed)
	}
}

func writeError(w http.ResponseWriter, err *containerserver.APIError) {
	http.Error(w, err.Error(), err.Status)
}

// resolveAndMount runs the common prelude shared by every method handler
// except POST: resolve the path, then verify the drive is mounted.
func (a *API) resolveAndMount(w http.ResponseWriter, r *http.Request) (containerserver.RequestPath, bool) {
	path, err := containerserver.ResolvePath(r.URL.Path)
	if err != nil {
		writeError(w, err)
		return path, false
	}
	if err := a.mountGuard.Check(path.Drive); err != nil {
		writeError(w, err)
		return path, false
	}
	return path, true
}

// requireTimestamp validates the X-Timestamp header required by every
// mutating method.
func requireTimestamp(w http.ResponseWriter, r *http.Request) (string, bool) {
	ts := r.Header.Get("X-Timestamp")
	if ts == "" {
		writeError(w, containerserver.ErrBadRequest.With("Missing timestamp"))
		return "", false
	}
	if _, err := strconv.ParseFloat(ts, 64); err != nil {
		writeError(w, containerserver.ErrBadRequest.With("Missing timestamp"))
		return "", false
	}
	return ts, true
}

func (a *API) brokerFor(path containerserver.RequestPath) *broker.Broker {
	hash := containerserver.HashContainer(path.Account, path.Container)
	dbPath := containerserver.DBPath(a.cfg.Devices, path.Drive, path.Partition, path.Account, path.Container)
	return a.cache.Get(dbPath, path.Account, path.Container, hash)
}

func accountUpdateRequestFrom(r *http.Request, path containerserver.RequestPath) containerserver.AccountUpdateRequest {
	return containerserver.AccountUpdateRequest{
		AccountHost:      r.Header.Get("X-Account-Host"),
		AccountPartition: r.Header.Get("X-Account-Partition"),
		AccountDevice:    r.Header.Get("X-Account-Device"),
		Account:          path.Account,
		Container:        path.Container,
		TransID:          r.Header.Get("X-Cf-Trans-Id"),
		OverrideDeleted:  r.Header.Get("X-Account-Override-Deleted") == "yes",
	}
}

func infoToUpdaterInfo(info broker.Info) containerserver.ContainerInfo {
	return containerserver.ContainerInfo{
		PutTimestamp:    info.PutTimestamp,
		DeleteTimestamp: info.DeleteTimestamp,
		ObjectCount:     info.ObjectCount,
		BytesUsed:       info.BytesUsed,
	}
}

func writeContainerHeaders(w http.ResponseWriter, info broker.Info) {
	w.Header().Set("X-Container-Object-Count", strconv.FormatInt(info.ObjectCount, 10))
	w.Header().Set("X-Container-Bytes-Used", strconv.FormatInt(info.BytesUsed, 10))
	w.Header().Set("X-Timestamp", info.CreatedAt)
	w.Header().Set("X-Put-Timestamp", info.PutTimestamp)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, 10<<20))
}

func queryIsUTF8(r *http.Request) bool {
	return utf8.ValidString(r.URL.RawQuery)
}
