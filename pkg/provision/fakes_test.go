package provision_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"
	"github.com/bwagner5/svcfleet/pkg/provision"
	"github.com/samber/lo"
)

// fakeCloud is an in-memory control plane that answers the calls the provisioner makes.
// Conflicts are reported with the same error codes the real services use.
type fakeCloud struct {
	mu sync.Mutex

	vpcs    []ec2types.Vpc
	subnets []ec2types.Subnet
	params  map[string]string

	securityGroups   map[string]ec2types.SecurityGroup
	launchTemplates  map[string]*ec2.CreateLaunchTemplateInput
	launchTemplateID map[string]string
	roles            map[string]*iam.CreateRoleInput
	attached         map[string][]string
	profiles         map[string][]string
	groups           map[string]*autoscaling.CreateAutoScalingGroupInput

	// attachErr, when set, is returned from every AttachRolePolicy call
	attachErr error

	ops    []string
	nextID int
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		vpcs: []ec2types.Vpc{
			{VpcId: aws.String("vpc-other"), IsDefault: aws.Bool(false)},
			{VpcId: aws.String("vpc-default"), IsDefault: aws.Bool(true)},
		},
		subnets: []ec2types.Subnet{
			{SubnetId: aws.String("subnet-a"), VpcId: aws.String("vpc-default")},
			{SubnetId: aws.String("subnet-b"), VpcId: aws.String("vpc-default")},
			{SubnetId: aws.String("subnet-x"), VpcId: aws.String("vpc-other")},
		},
		params:           map[string]string{},
		securityGroups:   map[string]ec2types.SecurityGroup{},
		launchTemplates:  map[string]*ec2.CreateLaunchTemplateInput{},
		launchTemplateID: map[string]string{},
		roles:            map[string]*iam.CreateRoleInput{},
		attached:         map[string][]string{},
		profiles:         map[string][]string{},
		groups:           map[string]*autoscaling.CreateAutoScalingGroupInput{},
	}
}

func (f *fakeCloud) apis() provision.APIs {
	return provision.APIs{EC2: f, IAM: f, AutoScaling: f, SSM: f}
}

func (f *fakeCloud) record(op string) {
	f.ops = append(f.ops, op)
}

func (f *fakeCloud) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%04d", prefix, f.nextID)
}

// Ops returns the names of every call made so far
func (f *fakeCloud) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.ops...)
}

// Mutations returns the calls that change state
func (f *fakeCloud) Mutations() []string {
	return lo.Filter(f.Ops(), func(op string, _ int) bool {
		return !lo.Contains([]string{"DescribeVpcs", "DescribeSubnets", "DescribeSecurityGroups", "DescribeLaunchTemplates",
			"DescribeAutoScalingGroups", "GetInstanceProfile", "GetParameters"}, op)
	})
}

func conflict(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: "conflict", Fault: smithy.FaultClient}
}

func filterValues(filters []ec2types.Filter, name string) ([]string, bool) {
	f, ok := lo.Find(filters, func(f ec2types.Filter) bool { return lo.FromPtr(f.Name) == name })
	return f.Values, ok
}

func (f *fakeCloud) DescribeVpcs(_ context.Context, in *ec2.DescribeVpcsInput, _ ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DescribeVpcs")
	vpcs := f.vpcs
	if values, ok := filterValues(in.Filters, "isDefault"); ok {
		vpcs = lo.Filter(vpcs, func(v ec2types.Vpc, _ int) bool {
			return lo.Contains(values, fmt.Sprint(lo.FromPtr(v.IsDefault)))
		})
	}
	return &ec2.DescribeVpcsOutput{Vpcs: vpcs}, nil
}

func (f *fakeCloud) DescribeSubnets(_ context.Context, in *ec2.DescribeSubnetsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DescribeSubnets")
	subnets := f.subnets
	if values, ok := filterValues(in.Filters, "vpc-id"); ok {
		subnets = lo.Filter(subnets, func(s ec2types.Subnet, _ int) bool { return lo.Contains(values, lo.FromPtr(s.VpcId)) })
	}
	return &ec2.DescribeSubnetsOutput{Subnets: subnets}, nil
}

func (f *fakeCloud) DescribeSecurityGroups(_ context.Context, in *ec2.DescribeSecurityGroupsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DescribeSecurityGroups")
	groups := lo.Values(f.securityGroups)
	if values, ok := filterValues(in.Filters, "group-name"); ok {
		groups = lo.Filter(groups, func(g ec2types.SecurityGroup, _ int) bool { return lo.Contains(values, lo.FromPtr(g.GroupName)) })
	}
	if values, ok := filterValues(in.Filters, "vpc-id"); ok {
		groups = lo.Filter(groups, func(g ec2types.SecurityGroup, _ int) bool { return lo.Contains(values, lo.FromPtr(g.VpcId)) })
	}
	return &ec2.DescribeSecurityGroupsOutput{SecurityGroups: groups}, nil
}

func (f *fakeCloud) CreateSecurityGroup(_ context.Context, in *ec2.CreateSecurityGroupInput, _ ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateSecurityGroup")
	key := lo.FromPtr(in.VpcId) + "/" + lo.FromPtr(in.GroupName)
	if _, ok := f.securityGroups[key]; ok {
		return nil, conflict("InvalidGroup.Duplicate")
	}
	id := f.id("sg")
	f.securityGroups[key] = ec2types.SecurityGroup{GroupId: aws.String(id), GroupName: in.GroupName, VpcId: in.VpcId}
	return &ec2.CreateSecurityGroupOutput{GroupId: aws.String(id)}, nil
}

func (f *fakeCloud) AuthorizeSecurityGroupIngress(_ context.Context, in *ec2.AuthorizeSecurityGroupIngressInput, _ ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AuthorizeSecurityGroupIngress")
	for key, sg := range f.securityGroups {
		if lo.FromPtr(sg.GroupId) == lo.FromPtr(in.GroupId) {
			// EC2 rejects the whole request if any permission is already on the group
			for _, perm := range in.IpPermissions {
				if lo.ContainsBy(sg.IpPermissions, func(have ec2types.IpPermission) bool { return samePermission(have, perm) }) {
					return nil, conflict("InvalidPermission.Duplicate")
				}
			}
			sg.IpPermissions = append(sg.IpPermissions, in.IpPermissions...)
			f.securityGroups[key] = sg
			return &ec2.AuthorizeSecurityGroupIngressOutput{}, nil
		}
	}
	return nil, conflict("InvalidGroup.NotFound")
}

func samePermission(a, b ec2types.IpPermission) bool {
	cidrs := func(p ec2types.IpPermission) []string {
		return lo.Map(p.IpRanges, func(r ec2types.IpRange, _ int) string { return lo.FromPtr(r.CidrIp) })
	}
	return lo.FromPtr(a.IpProtocol) == lo.FromPtr(b.IpProtocol) &&
		lo.FromPtr(a.FromPort) == lo.FromPtr(b.FromPort) &&
		lo.FromPtr(a.ToPort) == lo.FromPtr(b.ToPort) &&
		len(lo.Intersect(cidrs(a), cidrs(b))) > 0
}

func (f *fakeCloud) DescribeLaunchTemplates(_ context.Context, in *ec2.DescribeLaunchTemplatesInput, _ ...func(*ec2.Options)) (*ec2.DescribeLaunchTemplatesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DescribeLaunchTemplates")
	names := lo.Keys(f.launchTemplates)
	if values, ok := filterValues(in.Filters, "launch-template-name"); ok {
		names = lo.Intersect(names, values)
	}
	return &ec2.DescribeLaunchTemplatesOutput{
		LaunchTemplates: lo.Map(names, func(name string, _ int) ec2types.LaunchTemplate {
			return ec2types.LaunchTemplate{LaunchTemplateName: aws.String(name), LaunchTemplateId: aws.String(f.launchTemplateID[name])}
		}),
	}, nil
}

func (f *fakeCloud) CreateLaunchTemplate(_ context.Context, in *ec2.CreateLaunchTemplateInput, _ ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateLaunchTemplate")
	name := lo.FromPtr(in.LaunchTemplateName)
	if _, ok := f.launchTemplates[name]; ok {
		return nil, conflict("InvalidLaunchTemplateName.AlreadyExistsException")
	}
	id := f.id("lt")
	f.launchTemplates[name] = in
	f.launchTemplateID[name] = id
	return &ec2.CreateLaunchTemplateOutput{
		LaunchTemplate: &ec2types.LaunchTemplate{LaunchTemplateId: aws.String(id), LaunchTemplateName: in.LaunchTemplateName},
	}, nil
}

func (f *fakeCloud) CreateRole(_ context.Context, in *iam.CreateRoleInput, _ ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateRole")
	name := lo.FromPtr(in.RoleName)
	if _, ok := f.roles[name]; ok {
		return nil, conflict("EntityAlreadyExists")
	}
	f.roles[name] = in
	return &iam.CreateRoleOutput{Role: &iamtypes.Role{RoleName: in.RoleName, Arn: aws.String("arn:aws:iam::123456789012:role/" + name)}}, nil
}

func (f *fakeCloud) AttachRolePolicy(_ context.Context, in *iam.AttachRolePolicyInput, _ ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AttachRolePolicy")
	if f.attachErr != nil {
		return nil, f.attachErr
	}
	name := lo.FromPtr(in.RoleName)
	if _, ok := f.roles[name]; !ok {
		return nil, conflict("NoSuchEntity")
	}
	f.attached[name] = lo.Uniq(append(f.attached[name], lo.FromPtr(in.PolicyArn)))
	return &iam.AttachRolePolicyOutput{}, nil
}

func (f *fakeCloud) CreateInstanceProfile(_ context.Context, in *iam.CreateInstanceProfileInput, _ ...func(*iam.Options)) (*iam.CreateInstanceProfileOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateInstanceProfile")
	name := lo.FromPtr(in.InstanceProfileName)
	if _, ok := f.profiles[name]; ok {
		return nil, conflict("EntityAlreadyExists")
	}
	f.profiles[name] = nil
	return &iam.CreateInstanceProfileOutput{InstanceProfile: f.profile(name)}, nil
}

func (f *fakeCloud) GetInstanceProfile(_ context.Context, in *iam.GetInstanceProfileInput, _ ...func(*iam.Options)) (*iam.GetInstanceProfileOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetInstanceProfile")
	name := lo.FromPtr(in.InstanceProfileName)
	if _, ok := f.profiles[name]; !ok {
		return nil, conflict("NoSuchEntity")
	}
	return &iam.GetInstanceProfileOutput{InstanceProfile: f.profile(name)}, nil
}

func (f *fakeCloud) profile(name string) *iamtypes.InstanceProfile {
	return &iamtypes.InstanceProfile{
		InstanceProfileName: aws.String(name),
		Arn:                 aws.String("arn:aws:iam::123456789012:instance-profile/" + name),
		Roles: lo.Map(f.profiles[name], func(role string, _ int) iamtypes.Role {
			return iamtypes.Role{RoleName: aws.String(role)}
		}),
	}
}

func (f *fakeCloud) AddRoleToInstanceProfile(_ context.Context, in *iam.AddRoleToInstanceProfileInput, _ ...func(*iam.Options)) (*iam.AddRoleToInstanceProfileOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AddRoleToInstanceProfile")
	name := lo.FromPtr(in.InstanceProfileName)
	roles, ok := f.profiles[name]
	if !ok {
		return nil, conflict("NoSuchEntity")
	}
	if len(roles) > 0 {
		return nil, conflict("LimitExceeded")
	}
	f.profiles[name] = append(roles, lo.FromPtr(in.RoleName))
	return &iam.AddRoleToInstanceProfileOutput{}, nil
}

func (f *fakeCloud) DescribeAutoScalingGroups(_ context.Context, in *autoscaling.DescribeAutoScalingGroupsInput, _ ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DescribeAutoScalingGroups")
	return &autoscaling.DescribeAutoScalingGroupsOutput{
		AutoScalingGroups: lo.FilterMap(in.AutoScalingGroupNames, func(name string, _ int) (asgtypes.AutoScalingGroup, bool) {
			g, ok := f.groups[name]
			if !ok {
				return asgtypes.AutoScalingGroup{}, false
			}
			return asgtypes.AutoScalingGroup{
				AutoScalingGroupName: g.AutoScalingGroupName,
				MinSize:              g.MinSize,
				MaxSize:              g.MaxSize,
				DesiredCapacity:      g.DesiredCapacity,
				VPCZoneIdentifier:    g.VPCZoneIdentifier,
			}, true
		}),
	}, nil
}

func (f *fakeCloud) CreateAutoScalingGroup(_ context.Context, in *autoscaling.CreateAutoScalingGroupInput, _ ...func(*autoscaling.Options)) (*autoscaling.CreateAutoScalingGroupOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateAutoScalingGroup")
	name := lo.FromPtr(in.AutoScalingGroupName)
	if _, ok := f.groups[name]; ok {
		return nil, conflict("AlreadyExists")
	}
	if lo.FromPtr(in.VPCZoneIdentifier) == "" {
		return nil, conflict("ValidationError")
	}
	f.groups[name] = in
	return &autoscaling.CreateAutoScalingGroupOutput{}, nil
}

func (f *fakeCloud) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetParameters")
	out := &ssm.GetParametersOutput{}
	for _, name := range in.Names {
		if v, ok := f.params[name]; ok {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(name), Value: aws.String(v)})
		} else {
			out.InvalidParameters = append(out.InvalidParameters, name)
		}
	}
	return out, nil
}
