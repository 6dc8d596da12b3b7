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
	"strconv"
	"time"

	"github.com/gofrs/uuid"
	"github.com/sapcc/go-bits/logg"
)

// loggingResponseWriter wraps http.ResponseWriter to capture the status code
// and byte count written, the same bookkeeping keppel's logg.Middleware
// performs before handing the line to logg.Info/logg.Debug.
type loggingResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	bytesOut    int64
}

func (w *loggingResponseWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *loggingResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesOut += int64(n)
	return n, err
}

// TransactionIDMiddleware assigns every request a transaction id before it
// reaches the controller: the client-supplied X-Cf-Trans-Id if present,
// otherwise a freshly synthesized one. Rewriting the header in place means
// every downstream reader (the access log, the account updater) sees the
// same value without threading it through the request context.
func TransactionIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Cf-Trans-Id") == "" {
			id, err := uuid.NewV4()
			if err == nil {
				r.Header.Set("X-Cf-Trans-Id", "tx"+id.String())
			}
		}
		next.ServeHTTP(w, r)
	})
}

// AccessLogMiddleware emits one CLF-style line per request: remote address,
// UTC timestamp, method, path, status, content-length, transaction id,
// referer, user-agent, and elapsed seconds. POST requests (replication RPC
// traffic, which is high-volume and low-interest) log at debug; every other
// method logs at info, mirroring the log level split in __call__.
func AccessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lw, r)

		elapsed := time.Since(start).Seconds()
		bytesOut := "-"
		if lw.bytesOut > 0 {
			bytesOut = strconv.FormatInt(lw.bytesOut, 10)
		}
		transID := r.Header.Get("X-Cf-Trans-Id")
		if transID == "" {
			transID = "-"
		}
		referer := r.Referer()
		if referer == "" {
			referer = "-"
		}
		userAgent := r.UserAgent()
		if userAgent == "" {
			userAgent = "-"
		}

		line := formatAccessLine(accessLogFields{
			RemoteAddr: r.RemoteAddr,
			Timestamp:  start.UTC(),
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     lw.status,
			BytesOut:   bytesOut,
			TransID:    transID,
			Referer:    referer,
			UserAgent:  userAgent,
			Elapsed:    elapsed,
		})

		if r.Method == http.MethodPost {
			logg.Debug(line)
		} else {
			logg.Info(line)
		}
	})
}

type accessLogFields struct {
	RemoteAddr string
	Timestamp  time.Time
	Method     string
	Path       string
	Status     int
	BytesOut   string
	TransID    string
	Referer    string
	UserAgent  string
	Elapsed    float64
}

func formatAccessLine(f accessLogFields) string {
	//dd/Mon/YYYY:HH:MM:SS +0000
	ts := f.Timestamp.Format("02/Jan/2006:15:04:05 +0000")
	return f.RemoteAddr + " - - [" + ts + "] \"" + f.Method + " " + f.Path + "\" " +
		strconv.Itoa(f.Status) + " " + f.BytesOut + " " + f.TransID + " \"" + f.Referer + "\" \"" + f.UserAgent + "\" " +
		strconv.FormatFloat(f.Elapsed, 'f', 4, 64)
}
