// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	nodeID     string
)

var rootCmd = &cobra.Command{
	Use:   "idconsent",
	Short: "Identity consent node: brokers consent requests between relying parties, identity providers and data services",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the node until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rc := newInstance(configFile, nodeID).run(); rc != RC_OK {
			return fmt.Errorf("node exited with rc=%d", rc)
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "idconsent.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&nodeID, "node-id", "", "node id, overriding the nodeId in the config file")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
