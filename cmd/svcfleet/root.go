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
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/bwagner5/svcfleet/pkg/config"
	"github.com/bwagner5/svcfleet/pkg/logging"
	"github.com/bwagner5/svcfleet/pkg/pretty"
	"github.com/spf13/cobra"
)

const (
	OutputYAML       = "yaml"
	OutputJSON       = "json"
	OutputTableShort = "short"
	OutputTableWide  = "wide"
)

var (
	version = ""
)

type GlobalOptions struct {
	Verbose    bool
	Output     string
	ConfigFile string
	Region     string
	Profile    string
	LogFile    string
}

var (
	globalOpts = GlobalOptions{}
	logSink    *os.File
	rootCmd    = &cobra.Command{
		Use:           "svcfleet",
		Short:         "Provision per-service Auto Scaling groups in the default VPC",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var jsonSink io.Writer
			if globalOpts.LogFile != "" {
				f, err := os.OpenFile(globalOpts.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
				if err != nil {
					return fmt.Errorf("opening log file: %w", err)
				}
				logSink = f
				jsonSink = f
			}
			logger := logging.New(globalOpts.Verbose, os.Stderr, jsonSink)
			cmd.SetContext(logging.ToContext(cmd.Context(), logger))
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&globalOpts.Verbose, "verbose", false, "Verbose output")
	rootCmd.PersistentFlags().StringVarP(&globalOpts.Output, "output", "o", OutputTableShort,
		fmt.Sprintf("Output mode: %v", []string{OutputTableShort, OutputTableWide, OutputYAML, OutputJSON}))
	rootCmd.PersistentFlags().StringVarP(&globalOpts.ConfigFile, "file", "f", "", "YAML Config File")
	rootCmd.PersistentFlags().StringVarP(&globalOpts.Region, "region", "r", "", "AWS Region, overrides the config file")
	rootCmd.PersistentFlags().StringVarP(&globalOpts.Profile, "profile", "p", "", "AWS CLI Profile")
	rootCmd.PersistentFlags().StringVar(&globalOpts.LogFile, "log-file", "", "Also write JSON logs to this file")

	rootCmd.AddCommand(&cobra.Command{Use: "completion", Hidden: true})
	cobra.EnableCommandSorting = false
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run executes the command tree and releases the log file whether or not the command failed
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() {
		if logSink != nil {
			_ = logSink.Close()
		}
	}()
	return rootCmd.ExecuteContext(ctx)
}

// LoadConfig returns the defaults merged with the config file and the --region flag, validated
func LoadConfig(globalOpts GlobalOptions) (config.Config, error) {
	cfg, err := config.Load(globalOpts.ConfigFile)
	if err != nil {
		return cfg, err
	}
	cfg, err = config.WithOverrides(cfg, config.Config{Region: globalOpts.Region})
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func AWSConfig(ctx context.Context, globalOptions GlobalOptions, region string) (aws.Config, error) {
	var options []func(*awsconfig.LoadOptions) error
	if region != "" {
		options = append(options, awsconfig.WithRegion(region))
	}
	if globalOptions.Profile != "" {
		options = append(options, awsconfig.WithSharedConfigProfile(globalOptions.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}

// render writes rows as a table, or doc as YAML or JSON, depending on the output mode
func render[T any](w io.Writer, output string, rows []T, doc any) error {
	var out string
	var err error
	switch output {
	case OutputJSON:
		out, err = pretty.EncodeJSON(doc)
	case OutputYAML:
		out, err = pretty.EncodeYAML(doc)
	case OutputTableShort:
		out = pretty.Table(rows, false)
	case OutputTableWide:
		out = pretty.Table(rows, true)
	default:
		return fmt.Errorf("unknown output mode %q", output)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w, out)
	return err
}
