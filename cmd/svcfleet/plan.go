/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package main

import (
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/bwagner5/svcfleet/pkg/provision"
	"github.com/spf13/cobra"
)

var (
	cmdPlan = &cobra.Command{
		Use:   "plan",
		Short: "Print the names of every resource up would create",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return showPlan(globalOpts)
		},
	}
)

func init() {
	rootCmd.AddCommand(cmdPlan)
}

func showPlan(globalOpts GlobalOptions) error {
	cfg, err := LoadConfig(globalOpts)
	if err != nil {
		return err
	}
	// names are derived from configuration only, so no credentials are loaded
	p := provision.New(aws.Config{Region: cfg.Region}, cfg).Plan()
	return render(os.Stdout, globalOpts.Output, p.Resources(), p)
}
