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

package apicmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sapcc/go-bits/httpee"
	"github.com/sapcc/go-bits/logg"
	"github.com/spf13/cobra"

	containerv1 "github.com/sapcc/container-service/internal/api/container"
	"github.com/sapcc/container-service/internal/broker"
	"github.com/sapcc/container-service/internal/containerserver"
)

const brokerCacheSize = 512

// AddCommandTo mounts this command into the command hierarchy.
func AddCommandTo(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Run the container-server component.",
		Long:  "Run the container-server component. Configuration is read from CONTAINER_SERVER_* environment variables.",
		Args:  cobra.NoArgs,
		Run:   run,
	}
	parent.AddCommand(cmd)
}

func run(cmd *cobra.Command, args []string) {
	logg.Info("starting container-server")

	cfg := containerserver.ParseConfiguration()

	rc, err := initRedis(cfg)
	must(err)

	cache, err := broker.NewCache(brokerCacheSize)
	must(err)

	//cancel the server's context on SIGINT, for graceful shutdown
	ctx := httpee.ContextWithSIGINT(context.Background())

	//wire up HTTP handlers
	router := mux.NewRouter()
	containerv1.NewAPI(cfg, cache, rc).AddTo(router)

	handler := containerserver.RecoverMiddleware(router)
	handler = containerserver.AccessLogMiddleware(handler)
	handler = containerserver.TransactionIDMiddleware(handler)
	handler = containerserver.PathXMLPreconditionMiddleware(handler)
	handler = cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"HEAD", "GET", "POST", "PUT", "DELETE"},
		AllowedHeaders: []string{"Content-Type", "X-Timestamp", "X-Size", "X-Content-Type", "X-ETag", "X-Cf-Trans-Id"},
	}).Handler(handler)
	http.Handle("/", handler)
	http.Handle("/metrics", promhttp.Handler())

	//start HTTP server
	logg.Info("listening on " + cfg.ListenAddress)
	err = httpee.ListenAndServeContext(ctx, cfg.ListenAddress, nil)
	if err != nil {
		logg.Fatal("error returned from httpee.ListenAndServeContext(): %s", err.Error())
	}
}

func must(err error) {
	if err != nil {
		logg.Fatal(err.Error())
	}
}

// Redis is optional: this may return (nil, nil), in which case the account
// updater's best-effort pending queue is simply disabled.
func initRedis(cfg containerserver.Configuration) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("cannot parse CONTAINER_SERVER_REDIS_URI: %s", err.Error())
	}
	return redis.NewClient(opts), nil
}
