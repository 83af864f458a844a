package autoscalinggroups

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/bwagner5/svcfleet/pkg/utils/awsutils"
	"github.com/bwagner5/svcfleet/pkg/utils/tagutils"
	"github.com/samber/lo"
)

// LatestVersion pins a group to whatever the newest launch template version is
const LatestVersion = "$Latest"

// Watcher discovers and creates Auto Scaling groups
type Watcher struct {
	asgAPI SDKAutoScalingOps
}

// SDKAutoScalingOps is an interface that combines the necessary Auto Scaling SDK client interfaces
// AWS SDK for Go v2 does not provide a single interface that combines all the necessary methods
type SDKAutoScalingOps interface {
	autoscaling.DescribeAutoScalingGroupsAPIClient
	CreateAutoScalingGroup(context.Context, *autoscaling.CreateAutoScalingGroupInput, ...func(*autoscaling.Options)) (*autoscaling.CreateAutoScalingGroupOutput, error)
}

type EnsureOptions struct {
	Name             string
	LaunchTemplateID string
	SubnetIDs        []string
	MinSize          int32
	MaxSize          int32
	DesiredCapacity  int32
	// Tags are propagated to every instance the group launches
	Tags map[string]string
}

type EnsureResult struct {
	Created bool
}

// AutoScalingGroup represents an EC2 Auto Scaling group
// This is not the AWS SDK AutoScalingGroup type, but a wrapper around it so that we can add additional data
type AutoScalingGroup struct {
	asgtypes.AutoScalingGroup
}

// NewWatcher creates a new Auto Scaling group Watcher
func NewWatcher(asgAPI SDKAutoScalingOps) Watcher {
	return Watcher{
		asgAPI: asgAPI,
	}
}

// Resolve returns the groups with the given names. Names that do not exist are omitted.
func (w Watcher) Resolve(ctx context.Context, names []string) ([]AutoScalingGroup, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var groups []AutoScalingGroup
	pager := autoscaling.NewDescribeAutoScalingGroupsPaginator(w.asgAPI, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: names,
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, awsutils.Wrap("describe auto scaling groups", err)
		}
		groups = append(groups, lo.Map(page.AutoScalingGroups, func(g asgtypes.AutoScalingGroup, _ int) AutoScalingGroup {
			return AutoScalingGroup{g}
		})...)
	}
	return groups, nil
}

// Ensure creates the group. If a group with the name already exists it is left alone:
// its sizes, subnets and launch template are not reconciled.
func (w Watcher) Ensure(ctx context.Context, opts EnsureOptions) (EnsureResult, error) {
	err := w.Create(ctx, opts)
	if err == nil {
		return EnsureResult{Created: true}, nil
	}
	if awsutils.IsAlreadyExists(err) {
		return EnsureResult{}, nil
	}
	return EnsureResult{}, err
}

// Create creates the group spanning every given subnet.
// Subnets are not validated here; an empty list is passed through and rejected by the service.
func (w Watcher) Create(ctx context.Context, opts EnsureOptions) error {
	_, err := w.asgAPI.CreateAutoScalingGroup(ctx, &autoscaling.CreateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(opts.Name),
		LaunchTemplate: &asgtypes.LaunchTemplateSpecification{
			LaunchTemplateId: aws.String(opts.LaunchTemplateID),
			Version:          aws.String(LatestVersion),
		},
		MinSize:           aws.Int32(opts.MinSize),
		MaxSize:           aws.Int32(opts.MaxSize),
		DesiredCapacity:   aws.Int32(opts.DesiredCapacity),
		VPCZoneIdentifier: aws.String(strings.Join(opts.SubnetIDs, ",")),
		Tags:              tagutils.AutoScalingTags(opts.Name, opts.Tags),
	})
	return awsutils.Wrap("create auto scaling group "+opts.Name, err)
}
