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
	"fmt"
	"os"
	"strings"

	"github.com/bwagner5/svcfleet/pkg/providers/autoscalinggroups"
	"github.com/bwagner5/svcfleet/pkg/provision"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

type StatusUI struct {
	Name           string `table:"Name" json:"name"`
	Desired        int32  `table:"Desired" json:"desired"`
	Min            int32  `table:"Min" json:"min"`
	Max            int32  `table:"Max" json:"max"`
	Instances      int    `table:"Instances" json:"instances"`
	LaunchTemplate string `table:"Launch-Template,wide" json:"launchTemplate"`
	Subnets        string `table:"Subnets,wide" json:"subnets"`
}

var (
	cmdStatus = &cobra.Command{
		Use:   "status",
		Short: "Describe the Auto Scaling group of every configured service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return status(cmd.Context(), globalOpts)
		},
	}
)

func init() {
	rootCmd.AddCommand(cmdStatus)
}

func status(ctx context.Context, globalOpts GlobalOptions) error {
	cfg, err := LoadConfig(globalOpts)
	if err != nil {
		return err
	}
	awsCfg, err := AWSConfig(ctx, globalOpts, cfg.Region)
	if err != nil {
		return err
	}
	groups, err := provision.New(awsCfg, cfg).Status(ctx)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Printf("No Auto Scaling groups found for %s\n", cfg.Project)
		return nil
	}
	rows := lo.Map(groups, func(g autoscalinggroups.AutoScalingGroup, _ int) StatusUI {
		return groupToStatusUI(g)
	})
	return render(os.Stdout, globalOpts.Output, rows, rows)
}

func groupToStatusUI(g autoscalinggroups.AutoScalingGroup) StatusUI {
	ui := StatusUI{
		Name:      lo.FromPtr(g.AutoScalingGroupName),
		Desired:   lo.FromPtr(g.DesiredCapacity),
		Min:       lo.FromPtr(g.MinSize),
		Max:       lo.FromPtr(g.MaxSize),
		Instances: len(g.Instances),
		Subnets:   strings.ReplaceAll(lo.FromPtr(g.VPCZoneIdentifier), ",", " "),
	}
	if g.LaunchTemplate != nil {
		ui.LaunchTemplate = fmt.Sprintf("%s@%s", lo.FromPtr(g.LaunchTemplate.LaunchTemplateId), lo.FromPtr(g.LaunchTemplate.Version))
	}
	return ui
}
