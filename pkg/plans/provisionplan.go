package plans

import (
	"github.com/samber/lo"
)

// Resource kinds reported in a ProvisionPlan
const (
	KindSecurityGroup    = "SecurityGroup"
	KindIAMRole          = "IAMRole"
	KindInstanceProfile  = "InstanceProfile"
	KindLaunchTemplate   = "LaunchTemplate"
	KindAutoScalingGroup = "AutoScalingGroup"
)

// Resource states. A resource is Planned until the pipeline touches it.
const (
	StatePlanned  = "planned"
	StateCreated  = "created"
	StateExisting = "existing"
)

// ProvisionPlan is the full description of a provisioning run.
// Spec holds the deterministic names derived from configuration and Status records what the run did.
type ProvisionPlan struct {
	Metadata ProvisionMetadata
	Spec     ProvisionSpec
	Status   ProvisionStatus
}

type ProvisionMetadata struct {
	Project string
	Region  string
}

type ProvisionSpec struct {
	SecurityGroupName   string
	RoleName            string
	InstanceProfileName string
	PolicyARN           string
	Services            []ServiceSpec
}

type ServiceSpec struct {
	Name                 string
	Image                string
	LaunchTemplateName   string
	AutoScalingGroupName string
}

type ProvisionStatus struct {
	VPCID     string
	SubnetIDs []string
	ImageID   string
	Resources []Resource
}

// Resource is one row of provisioning output
type Resource struct {
	Kind    string `table:"Kind"`
	Name    string `table:"Name"`
	Service string `table:"Service"`
	State   string `table:"State"`
	ID      string `table:"ID,wide"`
}

// Record appends a resource to the plan status
func (p *ProvisionPlan) Record(kind, name, service, id string, created bool) {
	p.Status.Resources = append(p.Status.Resources, Resource{
		Kind:    kind,
		Name:    name,
		Service: service,
		State:   lo.Ternary(created, StateCreated, StateExisting),
		ID:      id,
	})
}

// Resources returns every resource of the plan in pipeline order.
// Resources the run has not reached yet are reported as planned.
func (p ProvisionPlan) Resources() []Resource {
	planned := []Resource{
		{Kind: KindSecurityGroup, Name: p.Spec.SecurityGroupName},
		{Kind: KindIAMRole, Name: p.Spec.RoleName},
		{Kind: KindInstanceProfile, Name: p.Spec.InstanceProfileName},
	}
	for _, svc := range p.Spec.Services {
		planned = append(planned,
			Resource{Kind: KindLaunchTemplate, Name: svc.LaunchTemplateName, Service: svc.Name},
			Resource{Kind: KindAutoScalingGroup, Name: svc.AutoScalingGroupName, Service: svc.Name},
		)
	}
	return lo.Map(planned, func(r Resource, _ int) Resource {
		if done, ok := lo.Find(p.Status.Resources, func(s Resource) bool { return s.Kind == r.Kind && s.Name == r.Name }); ok {
			return done
		}
		r.State = StatePlanned
		return r
	})
}

// Created returns the resources this run created
func (p ProvisionPlan) Created() []Resource {
	return lo.Filter(p.Status.Resources, func(r Resource, _ int) bool { return r.State == StateCreated })
}
