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
	"crypto/md5" //nolint:gosec // not used for security, only for deterministic sharding as in swift's hash_path
	"encoding/hex"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// RequestPath is the decoded form of a request URL path, as produced by
// ResolvePath.
type RequestPath struct {
	Drive     string
	Partition string
	Account   string
	Container string
	Object    string //empty if this request addresses the container itself
}

// HasObject reports whether this path addresses an object within the
// container, as opposed to the container itself.
func (p RequestPath) HasObject() bool {
	return p.Object != ""
}

// ResolvePath splits a raw URL path into its drive/partition/account/
// container/object components. It mirrors split_path(req.path, 4, 5, True)
// as used by ContainerController.__call__ in the original implementation:
// between 4 and 5 non-empty segments are required, and an object segment may
// itself contain further slashes (it is everything after the fourth "/").
func ResolvePath(rawPath string) (RequestPath, *APIError) {
	trimmed := strings.TrimPrefix(rawPath, "/")
	if trimmed == "" {
		return RequestPath{}, ErrBadRequest.With("Invalid path: " + rawPath)
	}

	//the object segment (if any) is allowed to contain "/", so split into at
	//most 5 parts; everything from the 5th part onward is the object name
	parts := strings.SplitN(trimmed, "/", 5)
	if len(parts) < 4 {
		return RequestPath{}, ErrBadRequest.With(fmt.Sprintf("Invalid path: %s", rawPath))
	}

	decoded := make([]string, len(parts))
	for i, part := range parts {
		d, err := url.PathUnescape(part)
		if err != nil {
			return RequestPath{}, ErrBadRequest.With("Invalid path: " + rawPath)
		}
		decoded[i] = d
	}

	for i := 0; i < 4; i++ {
		if decoded[i] == "" {
			return RequestPath{}, ErrBadRequest.With("Invalid path: " + rawPath)
		}
	}

	result := RequestPath{
		Drive:     decoded[0],
		Partition: decoded[1],
		Account:   decoded[2],
		Container: decoded[3],
	}
	if len(decoded) == 5 {
		if decoded[4] == "" {
			return RequestPath{}, ErrBadRequest.With("Invalid path: " + rawPath)
		}
		result.Object = decoded[4]
	}
	return result, nil
}

// ReplicationPath is the decoded (drive, partition, hash) addressed by a
// replication RPC POST.
type ReplicationPath struct {
	Drive     string
	Partition string
	Hash      string
}

// ResolveReplicationPath splits a POST request's URL path into exactly
// three segments, the shape the replication RPC dispatcher expects.
func ResolveReplicationPath(rawPath string) (ReplicationPath, *APIError) {
	trimmed := strings.TrimPrefix(rawPath, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 3 {
		return ReplicationPath{}, ErrBadRequest.With("Invalid path: " + rawPath)
	}

	decoded := make([]string, 3)
	for i, part := range parts {
		d, err := url.PathUnescape(part)
		if err != nil || d == "" {
			return ReplicationPath{}, ErrBadRequest.With("Invalid path: " + rawPath)
		}
		decoded[i] = d
	}

	return ReplicationPath{Drive: decoded[0], Partition: decoded[1], Hash: decoded[2]}, nil
}

// HashContainer computes the deterministic 32-hex-character hash used to
// shard a container's DB file on disk, mirroring swift.common.utils.hash_path
// applied to (account, container).
func HashContainer(account, container string) string {
	sum := md5.Sum([]byte(account + "/" + container)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// StorageDirectory returns the directory holding a container's DB file,
// rooted at devicesRoot/drive, mirroring swift.common.utils.storage_directory.
func StorageDirectory(devicesRoot, drive, partition, hash string) string {
	suffix := hash
	if len(hash) >= 3 {
		suffix = hash[len(hash)-3:]
	}
	return filepath.Join(devicesRoot, drive, "containers", partition, suffix, hash)
}

// DBPath returns the full path to a container's DB file.
func DBPath(devicesRoot, drive, partition, account, container string) string {
	hash := HashContainer(account, container)
	return filepath.Join(StorageDirectory(devicesRoot, drive, partition, hash), hash+".db")
}
