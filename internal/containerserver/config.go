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
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sapcc/go-bits/logg"
)

// Configuration holds all the settings read from the process environment at
// startup. Unlike the teacher's keppel.Configuration, parsing these values is
// explicitly out of this spec's scope (the process entry point and config
// parser are external collaborators) -- this is the minimal ambient
// implementation needed to run the server at all.
type Configuration struct {
	Devices       string
	MountCheck    bool
	NodeTimeout   time.Duration
	ConnTimeout   time.Duration
	ListenAddress string
	RedisURL      string
}

// ParseConfiguration reads a Configuration from environment variables,
// applying the same defaults as swift/container/server.py's
// ContainerController.__init__.
func ParseConfiguration() Configuration {
	cfg := Configuration{
		Devices:       getenvOrDefault("CONTAINER_SERVER_DEVICES", "/srv/node/"),
		MountCheck:    parseBoolish(getenvOrDefault("CONTAINER_SERVER_MOUNT_CHECK", "true")),
		NodeTimeout:   parseSecondsOrDefault("CONTAINER_SERVER_NODE_TIMEOUT", 3*time.Second),
		ConnTimeout:   parseSecondsOrDefault("CONTAINER_SERVER_CONN_TIMEOUT", 500*time.Millisecond),
		ListenAddress: getenvOrDefault("CONTAINER_SERVER_LISTEN_ADDRESS", ":8080"),
		RedisURL:      os.Getenv("CONTAINER_SERVER_REDIS_URI"),
	}
	return cfg
}

func getenvOrDefault(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

// parseBoolish mirrors Swift's `conf.get('mount_check', 'true').lower() in
// ('true', 't', '1', 'on', 'yes', 'y')` string-to-bool convention.
func parseBoolish(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "t", "1", "on", "yes", "y":
		return true
	default:
		return false
	}
}

func parseSecondsOrDefault(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	seconds, err := strconv.ParseFloat(val, 64)
	if err != nil {
		logg.Fatal(fmt.Sprintf("invalid value for %s: %s", key, err.Error()))
	}
	return time.Duration(seconds * float64(time.Second))
}
