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
	"encoding/json"
	"fmt"
)

// ReplicationCall is a single decoded replication RPC invocation: the
// JSON-decoded method name plus its raw argument list, as posted to
// /<drive>/<partition>/<hash>.
type ReplicationCall struct {
	Drive     string
	Partition string
	Hash      string
	Method    string
	Args      []json.RawMessage
}

// ReplicationHandler executes one replication RPC call against the broker
// identified by (Drive, Partition, Hash) and returns the value to serialize
// back to the caller verbatim.
type ReplicationHandler func(call ReplicationCall) (interface{}, *APIError)

// replicationMethods mirrors the driver-registry idiom keppel uses for its
// auth and storage drivers: each replication RPC method (e.g.
// "merge_items", "complete_rsync", "sync") registers itself by name at
// package init time instead of being matched through a type switch.
var replicationMethods = make(map[string]ReplicationHandler)

// RegisterReplicationMethod adds a handler for the named RPC method. Panics
// if a method of that name is already registered, just like keppel's
// RegisterAuthDriver panics on a duplicate driver name.
func RegisterReplicationMethod(name string, handler ReplicationHandler) {
	if _, exists := replicationMethods[name]; exists {
		panic("a replication method with name = " + name + " is already registered")
	}
	replicationMethods[name] = handler
}

// replicationBody is the wire shape of a POST body: a JSON array whose first
// element is the method name and whose remaining elements are the method's
// positional arguments. This mirrors the RPC envelope used by Swift's
// ReplicatorRpc.dispatch, which dispatches on args[0].
type replicationBody []json.RawMessage

// DispatchReplication decodes a POST body and routes it to the registered
// replication method. A malformed body or an unrecognized method name
// surfaces as a 400, matching "a bad JSON body -> 400" in the replication
// dispatcher's error policy; an *APIError returned by the method handler
// itself is passed through unchanged, with whatever status it carries.
func DispatchReplication(drive, partition, hash string, body []byte) (interface{}, *APIError) {
	var raw replicationBody
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, ErrBadRequest.With("Invalid body: " + err.Error())
	}
	if len(raw) == 0 {
		return nil, ErrBadRequest.With("Invalid body: missing method name")
	}

	var method string
	if err := json.Unmarshal(raw[0], &method); err != nil {
		return nil, ErrBadRequest.With("Invalid body: method name must be a string")
	}

	handler, ok := replicationMethods[method]
	if !ok {
		return nil, ErrBadRequest.With(fmt.Sprintf("Invalid body: unknown method %q", method))
	}

	return handler(ReplicationCall{
		Drive:     drive,
		Partition: partition,
		Hash:      hash,
		Method:    method,
		Args:      raw[1:],
	})
}
