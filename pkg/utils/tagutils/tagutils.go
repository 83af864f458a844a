package tagutils

import (
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/samber/lo"
)

const (
	NameTagKey      = "Name"
	ProjectTagKey   = "Project"
	ServiceTagKey   = "Service"
	CreatedByTagKey = "CreatedBy"
	SystemPrefixKey = "svcfleet"
)

// ProjectTags returns the standard tags applied to every resource of a project.
// service is optional; shared resources (security group, IAM) are tagged without it.
func ProjectTags(project string, service string) map[string]string {
	tags := map[string]string{
		ProjectTagKey:   project,
		CreatedByTagKey: SystemPrefixKey,
	}
	if service != "" {
		tags[ServiceTagKey] = service
	}
	return tags
}

func EC2Tags(tags map[string]string) []ec2types.Tag {
	return lo.Map(sortedKeys(tags), func(k string, _ int) ec2types.Tag {
		return ec2types.Tag{Key: aws.String(k), Value: aws.String(tags[k])}
	})
}

func IAMTags(tags map[string]string) []iamtypes.Tag {
	return lo.Map(sortedKeys(tags), func(k string, _ int) iamtypes.Tag {
		return iamtypes.Tag{Key: aws.String(k), Value: aws.String(tags[k])}
	})
}

// AutoScalingTags converts tags into Auto Scaling group tags that propagate to launched instances
func AutoScalingTags(groupName string, tags map[string]string) []asgtypes.Tag {
	return lo.Map(sortedKeys(tags), func(k string, _ int) asgtypes.Tag {
		return asgtypes.Tag{
			Key:               aws.String(k),
			Value:             aws.String(tags[k]),
			PropagateAtLaunch: aws.Bool(true),
			ResourceId:        aws.String(groupName),
			ResourceType:      aws.String("auto-scaling-group"),
		}
	})
}

// EC2Filters turns tag selectors into describe filters.
// An empty or "*" value matches any resource carrying the key.
func EC2Filters(tags map[string]string) []ec2types.Filter {
	return lo.Map(sortedKeys(tags), func(k string, _ int) ec2types.Filter {
		if v := tags[k]; v != "*" && v != "" {
			return ec2types.Filter{Name: aws.String(fmt.Sprintf("tag:%s", k)), Values: []string{v}}
		}
		return ec2types.Filter{Name: aws.String("tag-key"), Values: []string{k}}
	})
}

func sortedKeys(tags map[string]string) []string {
	keys := lo.Keys(tags)
	slices.Sort(keys)
	return keys
}
