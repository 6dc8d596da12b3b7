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

package main

import (
	"github.com/spf13/cobra"

	apicmd "github.com/sapcc/container-service/cmd/container-api"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "container-service",
		Short: "A horizontally-sharded object listing service.",
		Args:  cobra.NoArgs,
	}
	apicmd.AddCommandTo(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
