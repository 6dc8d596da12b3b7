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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sapcc/go-bits/logg"
)

// ContainerInfo is the snapshot of broker state that the account updater
// reports upstream; it mirrors the fields get_info() returns.
type ContainerInfo struct {
	PutTimestamp    string
	DeleteTimestamp string
	ObjectCount     int64
	BytesUsed       int64
}

// AccountUpdateRequest carries everything the updater needs to know about
// the inbound client request, beyond the broker snapshot itself.
type AccountUpdateRequest struct {
	AccountHost      string //"ip:port" from X-Account-Host
	AccountPartition string
	AccountDevice    string
	Account          string
	Container        string
	TransID          string //X-Cf-Trans-Id, or "-"
	OverrideDeleted  bool   //X-Account-Override-Deleted == "yes"
}

// Skip reports whether the account update should be skipped silently because
// one of the three trigger headers was absent, matching account_update's
// early-return in the original implementation.
func (r AccountUpdateRequest) Skip() bool {
	return r.AccountHost == "" || r.AccountPartition == "" || r.AccountDevice == ""
}

// AccountUpdater performs the best-effort side-channel PUT to the account
// service described in the account updater component. Unlike the teacher's
// client.RepoClient (which owns a long-lived registry connection), this is a
// one-shot bounded call built fresh per request, since conn_timeout and
// node_timeout are per-call budgets rather than connection-pool settings.
type AccountUpdater struct {
	ConnTimeout time.Duration
	NodeTimeout time.Duration

	//PendingQueue, when non-nil, receives a best-effort record of every
	//account update that did not succeed in-band, so that an out-of-scope
	//background replicator may retry it later. This has no equivalent in
	//the original implementation (which instead relies on an on-disk async
	//pending file); using Redis for this is an additive enrichment of the
	//design, not a requirement of it.
	PendingQueue *redis.Client
}

// pendingUpdate is the JSON shape pushed to PendingQueue.
type pendingUpdate struct {
	AccountHost      string `json:"account_host"`
	AccountPartition string `json:"account_partition"`
	AccountDevice    string `json:"account_device"`
	Account          string `json:"account"`
	Container        string `json:"container"`
	PutTimestamp     string `json:"put_timestamp"`
	DeleteTimestamp  string `json:"delete_timestamp"`
	ObjectCount      int64  `json:"object_count"`
	BytesUsed        int64  `json:"bytes_used"`
	TransID          string `json:"trans_id"`
	QueuedAt         string `json:"queued_at"`
}

// Update performs the account update. It returns a non-nil *APIError only
// when the account service responded 404 -- every other failure mode (wrong
// status, timeout, connection refused) is logged and swallowed, matching the
// "eventually consistent" policy of account_update in the original
// implementation.
func (u AccountUpdater) Update(ctx context.Context, req AccountUpdateRequest, info ContainerInfo) *APIError {
	if req.Skip() {
		return nil
	}

	url := fmt.Sprintf("http://%s/%s/%s/%s", req.AccountHost, req.AccountDevice, req.AccountPartition, accountContainerPath(req.Account, req.Container))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, http.NoBody)
	if err != nil {
		logg.Error("account update to %s failed to build request: %s", url, err.Error())
		return nil
	}
	httpReq.Header.Set("X-Put-Timestamp", info.PutTimestamp)
	httpReq.Header.Set("X-Delete-Timestamp", info.DeleteTimestamp)
	httpReq.Header.Set("X-Object-Count", strconv.FormatInt(info.ObjectCount, 10))
	httpReq.Header.Set("X-Bytes-Used", strconv.FormatInt(info.BytesUsed, 10))
	transID := req.TransID
	if transID == "" {
		transID = "-"
	}
	httpReq.Header.Set("X-Cf-Trans-Id", transID)
	if req.OverrideDeleted {
		httpReq.Header.Set("X-Account-Override-Deleted", "yes")
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: u.ConnTimeout}).DialContext,
		},
		Timeout: u.ConnTimeout + u.NodeTimeout,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		logg.Error("account update to %s failed: %s", url, err.Error())
		u.enqueuePending(ctx, req, info, transID)
		return nil
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound.With("Account not found")
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		logg.Error("account update to %s returned status %d", url, resp.StatusCode)
		u.enqueuePending(ctx, req, info, transID)
		return nil
	}
}

func (u AccountUpdater) enqueuePending(ctx context.Context, req AccountUpdateRequest, info ContainerInfo, transID string) {
	if u.PendingQueue == nil {
		return
	}
	payload, err := json.Marshal(pendingUpdate{
		AccountHost:      req.AccountHost,
		AccountPartition: req.AccountPartition,
		AccountDevice:    req.AccountDevice,
		Account:          req.Account,
		Container:        req.Container,
		PutTimestamp:     info.PutTimestamp,
		DeleteTimestamp:  info.DeleteTimestamp,
		ObjectCount:      info.ObjectCount,
		BytesUsed:        info.BytesUsed,
		TransID:          transID,
		QueuedAt:         fmt.Sprintf("%.5f", float64(time.Now().UnixNano())/float64(time.Second)),
	})
	if err != nil {
		logg.Error("could not serialize pending account update: %s", err.Error())
		return
	}
	err = u.PendingQueue.RPush(ctx, "container-service:pending-account-updates", payload).Err()
	if err != nil {
		logg.Error("could not enqueue pending account update: %s", err.Error())
	}
}

func accountContainerPath(account, container string) string {
	return account + "/" + container
}
