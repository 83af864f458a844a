package provision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/bwagner5/svcfleet/pkg/config"
	"github.com/bwagner5/svcfleet/pkg/logging"
	"github.com/bwagner5/svcfleet/pkg/plans"
	"github.com/bwagner5/svcfleet/pkg/providers/amis"
	"github.com/bwagner5/svcfleet/pkg/providers/autoscalinggroups"
	"github.com/bwagner5/svcfleet/pkg/providers/iamroles"
	"github.com/bwagner5/svcfleet/pkg/providers/launchtemplates"
	"github.com/bwagner5/svcfleet/pkg/providers/securitygroups"
	"github.com/bwagner5/svcfleet/pkg/providers/subnets"
	"github.com/bwagner5/svcfleet/pkg/providers/vpcs"
	"github.com/bwagner5/svcfleet/pkg/userdata"
	"github.com/bwagner5/svcfleet/pkg/utils/tagutils"
	"github.com/samber/lo"
)

// EC2API is the subset of the EC2 client the provisioner uses
type EC2API interface {
	vpcs.SDKVPCsOps
	subnets.SDKSubnetsOps
	securitygroups.SDKSecurityGroupOps
	launchtemplates.SDKLaunchTemplatesOps
}

// APIs holds the control plane clients. They are built once and shared by every step.
type APIs struct {
	EC2         EC2API
	IAM         iamroles.SDKIAMOps
	AutoScaling autoscalinggroups.SDKAutoScalingOps
	SSM         amis.SDKSSMOps
}

// Provisioner runs the provisioning pipeline for one configuration
type Provisioner struct {
	cfg                   config.Config
	vpcWatcher            vpcs.Watcher
	subnetWatcher         subnets.Watcher
	securityGroupWatcher  securitygroups.Watcher
	iamWatcher            iamroles.Watcher
	amiWatcher            amis.Watcher
	launchTemplateWatcher launchtemplates.Watcher
	asgWatcher            autoscalinggroups.Watcher

	// imageID caches the resolved base image for the lifetime of the Provisioner
	imageID string
}

func New(awsCfg aws.Config, cfg config.Config) *Provisioner {
	return NewFromAPIs(cfg, APIs{
		EC2:         ec2.NewFromConfig(awsCfg),
		IAM:         iam.NewFromConfig(awsCfg),
		AutoScaling: autoscaling.NewFromConfig(awsCfg),
		SSM:         ssm.NewFromConfig(awsCfg),
	})
}

func NewFromAPIs(cfg config.Config, apis APIs) *Provisioner {
	return &Provisioner{
		cfg:                   cfg,
		vpcWatcher:            vpcs.NewWatcher(apis.EC2),
		subnetWatcher:         subnets.NewWatcher(apis.EC2),
		securityGroupWatcher:  securitygroups.NewWatcher(apis.EC2),
		iamWatcher:            iamroles.NewWatcher(apis.IAM),
		amiWatcher:            amis.NewWatcher(apis.SSM),
		launchTemplateWatcher: launchtemplates.NewWatcher(apis.EC2),
		asgWatcher:            autoscalinggroups.NewWatcher(apis.AutoScaling),
	}
}

// Plan returns the resources a run would touch, named from configuration alone. No AWS calls are made.
func (p *Provisioner) Plan() plans.ProvisionPlan {
	return plans.ProvisionPlan{
		Metadata: plans.ProvisionMetadata{
			Project: p.cfg.Project,
			Region:  p.cfg.Region,
		},
		Spec: plans.ProvisionSpec{
			SecurityGroupName:   p.cfg.SecurityGroupName(),
			RoleName:            p.cfg.RoleName(),
			InstanceProfileName: p.cfg.InstanceProfileName(),
			PolicyARN:           p.cfg.RegistryPolicyARN,
			Services: lo.Map(p.cfg.Services, func(svc config.Service, _ int) plans.ServiceSpec {
				return plans.ServiceSpec{
					Name:                 svc.Name,
					Image:                svc.Image,
					LaunchTemplateName:   p.cfg.LaunchTemplateName(svc.Name),
					AutoScalingGroupName: p.cfg.AutoScalingGroupName(svc.Name),
				}
			}),
		},
	}
}

// Provision runs every step in order and stops at the first fatal error.
// The returned plan reflects everything completed so far, including on error.
func (p *Provisioner) Provision(ctx context.Context) (plans.ProvisionPlan, error) {
	log := logging.FromContext(ctx)
	plan := p.Plan()

	vpcID, err := p.FindDefaultNetwork(ctx)
	if err != nil {
		return plan, err
	}
	plan.Status.VPCID = vpcID

	subnetIDs, err := p.ListSubnets(ctx, vpcID)
	if err != nil {
		return plan, err
	}
	plan.Status.SubnetIDs = subnetIDs

	sg, err := p.EnsureFirewallPolicy(ctx, vpcID, p.cfg.SecurityGroupName(), p.cfg.IngressRules)
	if err != nil {
		return plan, err
	}
	plan.Record(plans.KindSecurityGroup, p.cfg.SecurityGroupName(), "", sg.ID, sg.Created)

	identity, err := p.EnsureIdentity(ctx)
	if err != nil {
		return plan, err
	}
	plan.Record(plans.KindIAMRole, identity.RoleName, "", "", identity.RoleCreated)
	plan.Record(plans.KindInstanceProfile, identity.InstanceProfileName, "", identity.InstanceProfileARN, identity.ProfileCreated)

	for _, svc := range p.cfg.Services {
		lt, err := p.EnsureLaunchConfig(ctx, svc.Name, sg.ID, identity.InstanceProfileName)
		if err != nil {
			return plan, err
		}
		plan.Record(plans.KindLaunchTemplate, p.cfg.LaunchTemplateName(svc.Name), svc.Name, lt.ID, lt.Created)

		asg, err := p.EnsureScalingGroup(ctx, svc.Name, lt.ID, subnetIDs)
		if err != nil {
			return plan, err
		}
		plan.Record(plans.KindAutoScalingGroup, p.cfg.AutoScalingGroupName(svc.Name), svc.Name, "", asg.Created)
	}
	plan.Status.ImageID = p.imageID

	log.Info("Infrastructure setup complete for all services in default VPC",
		"services", len(p.cfg.Services), "created", len(plan.Created()))
	return plan, nil
}

// FindDefaultNetwork returns the id of the region's default VPC
func (p *Provisioner) FindDefaultNetwork(ctx context.Context) (string, error) {
	log := logging.FromContext(ctx)
	log.Info("Fetching default VPC")
	defaultVPCs, err := p.vpcWatcher.Resolve(ctx, []vpcs.Selector{{Default: true}})
	if err != nil {
		return "", err
	}
	if len(defaultVPCs) == 0 {
		return "", &NotFoundError{Resource: fmt.Sprintf("default VPC in region %s", p.cfg.Region)}
	}
	vpcID := lo.FromPtr(defaultVPCs[0].VpcId)
	log.Info("Using default VPC", "vpc-id", vpcID)
	return vpcID, nil
}

// ListSubnets returns every subnet id in the VPC. An empty result is not an error here.
func (p *Provisioner) ListSubnets(ctx context.Context, vpcID string) ([]string, error) {
	log := logging.FromContext(ctx)
	log.Info("Fetching subnets", "vpc-id", vpcID)
	subnetList, err := p.subnetWatcher.Resolve(ctx, []subnets.Selector{{VPCID: vpcID}})
	if err != nil {
		return nil, err
	}
	subnetIDs := subnets.IDs(subnetList)
	if len(subnetIDs) == 0 {
		log.Warn("No subnets found in VPC; scaling group creation will be rejected", "vpc-id", vpcID)
	}
	log.Info("Using subnets", "subnet-ids", subnetIDs)
	return subnetIDs, nil
}

// EnsureFirewallPolicy creates the named security group with rules, or reuses the existing one
func (p *Provisioner) EnsureFirewallPolicy(ctx context.Context, vpcID, name string, rules []config.IngressRule) (securitygroups.EnsureResult, error) {
	log := logging.FromContext(ctx)
	result, err := p.securityGroupWatcher.Ensure(ctx, securitygroups.EnsureOptions{
		Name:        name,
		VPCID:       vpcID,
		Description: fmt.Sprintf("Security group for %s services", p.cfg.Project),
		Rules: lo.Map(rules, func(r config.IngressRule, _ int) securitygroups.IngressRule {
			return securitygroups.IngressRule{Protocol: r.Protocol, FromPort: r.FromPort, ToPort: r.ToPort, CIDR: r.CIDR}
		}),
		Tags: tagutils.ProjectTags(p.cfg.Project, ""),
	})
	if err != nil {
		return result, fmt.Errorf("ensuring security group %s: %w", name, err)
	}
	if result.Created {
		log.Info("Created security group", "name", name, "security-group-id", result.ID, "rules", len(rules))
	} else {
		log.Info("Security group already exists, reusing", "name", name, "security-group-id", result.ID, "rules-added", result.RulesAdded)
	}
	return result, nil
}

// EnsureIdentity creates the instance role, grants it registry read access and wraps it in an instance profile.
// A failed policy attachment is logged and ignored; every other failure aborts.
func (p *Provisioner) EnsureIdentity(ctx context.Context) (iamroles.Identity, error) {
	log := logging.FromContext(ctx)
	tags := tagutils.ProjectTags(p.cfg.Project, "")
	identity := iamroles.Identity{
		RoleName:            p.cfg.RoleName(),
		PolicyARN:           p.cfg.RegistryPolicyARN,
		InstanceProfileName: p.cfg.InstanceProfileName(),
	}

	roleCreated, err := p.iamWatcher.EnsureRole(ctx, identity.RoleName, tags)
	if err != nil {
		return identity, fmt.Errorf("ensuring IAM role: %w", err)
	}
	identity.RoleCreated = roleCreated
	if roleCreated {
		log.Info("Created IAM role", "role", identity.RoleName)
	} else {
		log.Info("IAM role already exists", "role", identity.RoleName)
	}

	// TODO: decide whether attachment failures should be fatal once it is confirmed that
	// pre-existing roles always carry the registry policy.
	if err := p.iamWatcher.AttachPolicy(ctx, identity.RoleName, identity.PolicyARN); err != nil {
		log.Warn("Could not attach registry policy to role, continuing", "role", identity.RoleName, "policy-arn", identity.PolicyARN, "error", err)
	} else {
		identity.PolicyAttached = true
		log.Info("Attached registry read-only policy to role", "role", identity.RoleName)
	}

	profile, err := p.iamWatcher.EnsureInstanceProfile(ctx, identity.InstanceProfileName, identity.RoleName, tags)
	if err != nil {
		return identity, fmt.Errorf("ensuring instance profile: %w", err)
	}
	identity.InstanceProfileARN = profile.ARN
	identity.ProfileCreated = profile.Created
	if profile.Created {
		log.Info("Created instance profile", "instance-profile", identity.InstanceProfileName)
	} else {
		log.Info("Instance profile already exists", "instance-profile", identity.InstanceProfileName, "role-added", profile.RoleAdded)
	}
	return identity, nil
}

// ResolveImage returns the AMI id to launch, resolving SSM references once per Provisioner
func (p *Provisioner) ResolveImage(ctx context.Context) (string, error) {
	if p.imageID != "" {
		return p.imageID, nil
	}
	resolved, err := p.amiWatcher.Resolve(ctx, p.cfg.ImageID)
	if err != nil {
		return "", err
	}
	if len(resolved) == 0 {
		return "", &NotFoundError{Resource: fmt.Sprintf("image %s", p.cfg.ImageID)}
	}
	if amis.IsSSMReference(p.cfg.ImageID) {
		logging.FromContext(ctx).Info("Resolved base image", "parameter", resolved[0].Parameter, "image-id", resolved[0].ID)
	}
	p.imageID = resolved[0].ID
	return p.imageID, nil
}

// EnsureLaunchConfig creates the launch template for a configured service, or returns the existing template's id.
// An unknown service fails with a ConfigError before any AWS call is made.
func (p *Provisioner) EnsureLaunchConfig(ctx context.Context, service, securityGroupID, instanceProfileName string) (launchtemplates.EnsureResult, error) {
	log := logging.FromContext(ctx)
	svc, ok := p.cfg.Service(service)
	if !ok {
		return launchtemplates.EnsureResult{}, &ConfigError{Service: service, Reason: "no image is configured for this service"}
	}
	imageID, err := p.ResolveImage(ctx)
	if err != nil {
		return launchtemplates.EnsureResult{}, err
	}
	script, err := userdata.Render(userdata.Options{
		Region:        p.cfg.Region,
		Image:         svc.Image,
		ContainerPort: p.cfg.ContainerPort,
	})
	if err != nil {
		return launchtemplates.EnsureResult{}, err
	}

	name := p.cfg.LaunchTemplateName(service)
	result, err := p.launchTemplateWatcher.Ensure(ctx, launchtemplates.CreateOptions{
		Name:                name,
		ImageID:             imageID,
		InstanceType:        p.cfg.InstanceType,
		KeyName:             p.cfg.KeyName,
		InstanceProfileName: instanceProfileName,
		SecurityGroupIDs:    []string{securityGroupID},
		UserData:            script,
		Tags:                tagutils.ProjectTags(p.cfg.Project, service),
	})
	if err != nil {
		return result, fmt.Errorf("ensuring launch template %s: %w", name, err)
	}
	if result.Created {
		log.Info("Created launch template", "name", name, "launch-template-id", result.ID)
	} else {
		log.Info("Launch template already exists, reusing", "name", name, "launch-template-id", result.ID)
	}
	return result, nil
}

// EnsureScalingGroup creates the service's Auto Scaling group. An existing group is skipped, not reconciled.
func (p *Provisioner) EnsureScalingGroup(ctx context.Context, service, launchTemplateID string, subnetIDs []string) (autoscalinggroups.EnsureResult, error) {
	log := logging.FromContext(ctx)
	name := p.cfg.AutoScalingGroupName(service)
	result, err := p.asgWatcher.Ensure(ctx, autoscalinggroups.EnsureOptions{
		Name:             name,
		LaunchTemplateID: launchTemplateID,
		SubnetIDs:        subnetIDs,
		MinSize:          p.cfg.Scaling.Min,
		MaxSize:          p.cfg.Scaling.Max,
		DesiredCapacity:  p.cfg.Scaling.Desired,
		Tags: lo.Assign(tagutils.ProjectTags(p.cfg.Project, service), map[string]string{
			tagutils.NameTagKey: p.cfg.ServiceTagName(service),
		}),
	})
	if err != nil {
		return result, fmt.Errorf("ensuring auto scaling group %s: %w", name, err)
	}
	if result.Created {
		log.Info("Created auto scaling group", "name", name)
	} else {
		log.Info("Auto scaling group already exists, skipping", "name", name)
	}
	return result, nil
}

// Status describes the Auto Scaling groups of every configured service that exists
func (p *Provisioner) Status(ctx context.Context) ([]autoscalinggroups.AutoScalingGroup, error) {
	return p.asgWatcher.Resolve(ctx, lo.Map(p.cfg.Services, func(svc config.Service, _ int) string {
		return p.cfg.AutoScalingGroupName(svc.Name)
	}))
}
