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

import "net/http"

// APIError is a simple HTTP-status-carrying error, used throughout the
// request handlers in internal/api/container to short-circuit a request with
// a specific status code and plaintext body. It plays the role that
// keppel.RegistryV2Error plays in the teacher, minus the docker-registry
// JSON error envelope (that envelope does not exist in this protocol).
type APIError struct {
	Status int
	Msg    string
}

// Error implements the builtin error interface.
func (e *APIError) Error() string {
	if e.Msg == "" {
		return http.StatusText(e.Status)
	}
	return e.Msg
}

// With attaches a message to a copy of this APIError.
func (e APIError) With(msg string) *APIError {
	e.Msg = msg
	return &e
}

var (
	//ErrBadRequest corresponds to HTTP status 400.
	ErrBadRequest = &APIError{Status: http.StatusBadRequest}
	//ErrNotFound corresponds to HTTP status 404.
	ErrNotFound = &APIError{Status: http.StatusNotFound}
	//ErrMethodNotAllowed corresponds to HTTP status 405.
	ErrMethodNotAllowed = &APIError{Status: http.StatusMethodNotAllowed}
	//ErrConflict corresponds to HTTP status 409, used when a container DELETE
	//targets a container that still holds live objects, or when a container
	//PUT or DELETE leaves the container's deleted state not as requested
	//because the data already on disk carries a newer timestamp.
	ErrConflict = &APIError{Status: http.StatusConflict}
	//ErrPreconditionFailed corresponds to HTTP status 412, used for
	//non-UTF8-safe paths caught before method dispatch, and for an
	//out-of-range limit or a bad delimiter on a listing GET.
	ErrPreconditionFailed = &APIError{Status: http.StatusPreconditionFailed}
	//ErrInsufficientStorage corresponds to HTTP status 507, returned by the
	//mount guard when a configured device is not actually mounted.
	ErrInsufficientStorage = &APIError{Status: http.StatusInsufficientStorage}
)
