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
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bwagner5/svcfleet/pkg/logging"
	"github.com/bwagner5/svcfleet/pkg/provision"
	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

type UpOptions struct {
	DryRun bool
	Yes    bool
}

var (
	upOptions = UpOptions{}
	cmdUp     = &cobra.Command{
		Use:   "up",
		Short: "Create or reuse every resource of the configured services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return up(cmd.Context(), upOptions, globalOpts)
		},
	}
)

func init() {
	rootCmd.AddCommand(cmdUp)
	cmdUp.Flags().BoolVarP(&upOptions.DryRun, "dry-run", "d", false, "Will NOT create anything, only print the plan")
	cmdUp.Flags().BoolVarP(&upOptions.Yes, "yes", "y", false, "Don't ask for confirmation")
}

func up(ctx context.Context, upOptions UpOptions, globalOpts GlobalOptions) error {
	cfg, err := LoadConfig(globalOpts)
	if err != nil {
		return err
	}
	awsCfg, err := AWSConfig(ctx, globalOpts, cfg.Region)
	if err != nil {
		return err
	}
	provisioner := provision.New(awsCfg, cfg)

	if upOptions.DryRun {
		plan := provisioner.Plan()
		return render(os.Stdout, globalOpts.Output, plan.Resources(), plan)
	}

	if !upOptions.Yes && isatty.IsTerminal(os.Stdin.Fd()) {
		proceed := false
		prompt := huh.NewConfirm().
			Title(fmt.Sprintf("Provision %s for project %s in %s?", strings.Join(cfg.ServiceNames(), ", "), cfg.Project, cfg.Region)).
			Affirmative("Yes").
			Negative("No").
			Value(&proceed)
		if err := prompt.Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return err
		}
		if !proceed {
			logging.FromContext(ctx).Info("Aborted, nothing was created")
			return nil
		}
	}

	plan, err := provisioner.Provision(ctx)
	if err != nil {
		if globalOpts.Verbose {
			_ = render(os.Stderr, globalOpts.Output, plan.Resources(), plan)
		}
		return err
	}
	if err := render(os.Stdout, globalOpts.Output, plan.Resources(), plan); err != nil {
		return err
	}
	fmt.Printf("Provisioned %d service(s) for %s, %d resource(s) created\n", len(cfg.Services), cfg.Project, len(plan.Created()))
	return nil
}
