package securitygroups

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/bwagner5/svcfleet/pkg/utils/awsutils"
	"github.com/bwagner5/svcfleet/pkg/utils/tagutils"
	"github.com/samber/lo"
)

// Watcher discovers and creates security groups
type Watcher struct {
	sg SDKSecurityGroupOps
}

// SDKSecurityGroupOps is an interface that combines the necessary EC2 SDK client interfaces
// AWS SDK for Go v2 does not provide a single interface that combines all the necessary methods
type SDKSecurityGroupOps interface {
	ec2.DescribeSecurityGroupsAPIClient
	CreateSecurityGroup(context.Context, *ec2.CreateSecurityGroupInput, ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngress(context.Context, *ec2.AuthorizeSecurityGroupIngressInput, ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
}

// Selector is a struct that represents a security group selector
type Selector struct {
	Tags  map[string]string
	Name  string
	ID    string
	VPCID string
}

// IngressRule allows inbound traffic for a port range from a single CIDR
type IngressRule struct {
	Protocol string
	FromPort int32
	ToPort   int32
	CIDR     string
}

type EnsureOptions struct {
	Name        string
	VPCID       string
	Description string
	Rules       []IngressRule
	Tags        map[string]string
}

type EnsureResult struct {
	ID      string
	Created bool
	// RulesAdded counts the ingress rules authorized on a reused group
	RulesAdded int
}

// SecurityGroup represent an AWS Security Group
// This is not the AWS SDK SecurityGroup type, but a wrapper around it so that we can add additional data
type SecurityGroup struct {
	ec2types.SecurityGroup
}

// NewWatcher creates a new Security Group Watcher
func NewWatcher(sg SDKSecurityGroupOps) Watcher {
	return Watcher{
		sg: sg,
	}
}

// Resolve returns a list of security groups that match the provided selectors
// Multiple calls to EC2 may be sent to resolve the selectors
func (w Watcher) Resolve(ctx context.Context, selectors []Selector) ([]SecurityGroup, error) {
	var securityGroups []SecurityGroup
	for _, filters := range filterSets(selectors) {
		pager := ec2.NewDescribeSecurityGroupsPaginator(w.sg, &ec2.DescribeSecurityGroupsInput{
			Filters: filters,
		})
		for pager.HasMorePages() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, awsutils.Wrap("describe security groups", err)
			}
			securityGroups = append(securityGroups, lo.Map(page.SecurityGroups, func(sdkSG ec2types.SecurityGroup, _ int) SecurityGroup {
				return SecurityGroup{sdkSG}
			})...)
		}
	}
	return securityGroups, nil
}

// Ensure creates the security group with its ingress rules.
// If a group with the same name already exists in the VPC, any rule it is missing is authorized on it.
// Rules on the group that are not in opts are left in place.
func (w Watcher) Ensure(ctx context.Context, opts EnsureOptions) (EnsureResult, error) {
	id, err := w.Create(ctx, opts)
	if err == nil {
		return EnsureResult{ID: id, Created: true}, nil
	}
	if !awsutils.IsAlreadyExists(err) {
		return EnsureResult{}, err
	}
	existing, err := w.Resolve(ctx, []Selector{{Name: opts.Name, VPCID: opts.VPCID}})
	if err != nil {
		return EnsureResult{}, err
	}
	if len(existing) == 0 {
		return EnsureResult{}, fmt.Errorf("security group %s was reported as a duplicate but could not be found in %s", opts.Name, opts.VPCID)
	}
	group := existing[0]
	groupID := lo.FromPtr(group.GroupId)
	missing := lo.Reject(opts.Rules, func(rule IngressRule, _ int) bool { return group.Allows(rule) })
	added, err := w.authorize(ctx, groupID, missing)
	if err != nil {
		return EnsureResult{ID: groupID}, err
	}
	return EnsureResult{ID: groupID, RulesAdded: added}, nil
}

// Allows reports whether the group already has an ingress permission matching rule exactly
func (sg SecurityGroup) Allows(rule IngressRule) bool {
	return lo.ContainsBy(sg.IpPermissions, func(perm ec2types.IpPermission) bool {
		return lo.FromPtr(perm.IpProtocol) == rule.Protocol &&
			lo.FromPtr(perm.FromPort) == rule.FromPort &&
			lo.FromPtr(perm.ToPort) == rule.ToPort &&
			lo.ContainsBy(perm.IpRanges, func(r ec2types.IpRange) bool { return lo.FromPtr(r.CidrIp) == rule.CIDR })
	})
}

// authorize adds rules to the group and returns how many were added.
// EC2 rejects the whole batch when one rule is a duplicate, so on that error the rules are retried one at a time
// and duplicates are skipped.
func (w Watcher) authorize(ctx context.Context, groupID string, rules []IngressRule) (int, error) {
	if len(rules) == 0 {
		return 0, nil
	}
	err := w.authorizeBatch(ctx, groupID, rules)
	if err == nil {
		return len(rules), nil
	}
	if !awsutils.IsAlreadyExists(err) {
		return 0, err
	}
	if len(rules) == 1 {
		return 0, nil
	}
	added := 0
	for _, rule := range rules {
		if err := w.authorizeBatch(ctx, groupID, []IngressRule{rule}); err != nil {
			if awsutils.IsAlreadyExists(err) {
				continue
			}
			return added, err
		}
		added++
	}
	return added, nil
}

func (w Watcher) authorizeBatch(ctx context.Context, groupID string, rules []IngressRule) error {
	if _, err := w.sg.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       aws.String(groupID),
		IpPermissions: IPPermissions(rules),
	}); err != nil {
		return awsutils.Wrap("authorize ingress on security group "+groupID, err)
	}
	return nil
}

// Create creates the security group and authorizes all ingress rules in a single call.
// Egress is left at the EC2 default of allow all.
func (w Watcher) Create(ctx context.Context, opts EnsureOptions) (string, error) {
	sgOut, err := w.sg.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(opts.Name),
		VpcId:       aws.String(opts.VPCID),
		Description: aws.String(lo.CoalesceOrEmpty(opts.Description, "svcfleet generated security group")),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeSecurityGroup,
			Tags:         tagutils.EC2Tags(lo.Assign(opts.Tags, map[string]string{tagutils.NameTagKey: opts.Name})),
		}},
	})
	if err != nil {
		return "", awsutils.Wrap("create security group "+opts.Name, err)
	}
	groupID := lo.FromPtr(sgOut.GroupId)
	if len(opts.Rules) == 0 {
		return groupID, nil
	}
	if err := w.authorizeBatch(ctx, groupID, opts.Rules); err != nil {
		return groupID, err
	}
	return groupID, nil
}

// IPPermissions converts rules into EC2 permissions, one permission per rule, in order
func IPPermissions(rules []IngressRule) []ec2types.IpPermission {
	return lo.Map(rules, func(rule IngressRule, _ int) ec2types.IpPermission {
		return ec2types.IpPermission{
			IpProtocol: aws.String(rule.Protocol),
			FromPort:   aws.Int32(rule.FromPort),
			ToPort:     aws.Int32(rule.ToPort),
			IpRanges:   []ec2types.IpRange{{CidrIp: aws.String(rule.CIDR)}},
		}
	})
}

// filterSets converts a slice of selectors into a slice of filters for use with the AWS SDK
// Each filter is executed as a separate list call.
// Terms within a Selector are AND'd and between Selectors are OR'd
func filterSets(selectorList []Selector) [][]ec2types.Filter {
	var filterResult [][]ec2types.Filter
	for _, term := range selectorList {
		filters := []ec2types.Filter{}
		if term.ID != "" {
			filters = append(filters, ec2types.Filter{
				Name:   aws.String("group-id"),
				Values: []string{term.ID},
			})
		}
		if term.Name != "" {
			filters = append(filters, ec2types.Filter{
				Name:   aws.String("group-name"),
				Values: []string{term.Name},
			})
		}
		if term.VPCID != "" {
			filters = append(filters, ec2types.Filter{
				Name:   aws.String("vpc-id"),
				Values: []string{term.VPCID},
			})
		}
		filters = append(filters, tagutils.EC2Filters(term.Tags)...)
		filterResult = append(filterResult, filters)
	}
	return filterResult
}
