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
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/sapcc/go-bits/logg"
)

// RecoverMiddleware is the catch-all for anything a method handler did not
// turn into an *APIError itself: it recovers the panic, logs it together
// with the request's transaction id, and responds 500 with the stack trace
// as the body, the same "any raised exception -> log with traceback, 500"
// policy __call__ applies around every method dispatch in the original
// implementation.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				stack := debug.Stack()
				transID := r.Header.Get("X-Cf-Trans-Id")
				if transID == "" {
					transID = "-"
				}
				logg.Error("PANIC during %s %s (transaction %s): %v\n%s", r.Method, r.URL.Path, transID, recovered, stack)
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = fmt.Fprintf(w, "%v\n%s", recovered, stack)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
