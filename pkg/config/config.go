package config

import (
	"errors"
	"fmt"
	"os"

	"dario.cat/mergo"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const (
	// RegistryReadOnlyPolicyARN is the AWS managed policy granting pull access to ECR
	RegistryReadOnlyPolicyARN = "arn:aws:iam::aws:policy/AmazonEC2ContainerRegistryReadOnly"
	anyIPv4                   = "0.0.0.0/0"
)

// Config is the static configuration block read once at start.
// Every resource name is derived from Project and a service name.
type Config struct {
	Region            string        `yaml:"region" json:"region"`
	Project           string        `yaml:"project" json:"project"`
	ImageID           string        `yaml:"imageID" json:"imageID"`
	InstanceType      string        `yaml:"instanceType" json:"instanceType"`
	KeyName           string        `yaml:"keyName" json:"keyName"`
	ContainerPort     int32         `yaml:"containerPort" json:"containerPort"`
	RegistryPolicyARN string        `yaml:"registryPolicyARN" json:"registryPolicyARN"`
	Services          []Service     `yaml:"services" json:"services"`
	IngressRules      []IngressRule `yaml:"ingressRules" json:"ingressRules"`
	Scaling           Scaling       `yaml:"scaling" json:"scaling"`
}

// Service maps a deployable service to the container image it runs
type Service struct {
	Name  string `yaml:"name" json:"name"`
	Image string `yaml:"image" json:"image"`
}

// IngressRule is a single inbound allow rule on the shared security group
type IngressRule struct {
	Protocol string `yaml:"protocol" json:"protocol"`
	FromPort int32  `yaml:"fromPort" json:"fromPort"`
	ToPort   int32  `yaml:"toPort" json:"toPort"`
	CIDR     string `yaml:"cidr" json:"cidr"`
}

type Scaling struct {
	Min     int32 `yaml:"min" json:"min"`
	Max     int32 `yaml:"max" json:"max"`
	Desired int32 `yaml:"desired" json:"desired"`
}

// DefaultIngressRules opens SSH, HTTP, HTTPS and the two application ports to the world.
// This is an over-permissive baseline and not a security boundary; override ingressRules to tighten it.
func DefaultIngressRules() []IngressRule {
	return lo.Map([]int32{22, 80, 443, 3000, 3001}, func(port int32, _ int) IngressRule {
		return IngressRule{Protocol: "tcp", FromPort: port, ToPort: port, CIDR: anyIPv4}
	})
}

func Defaults() Config {
	return Config{
		Region:            "us-west-2",
		Project:           "mernapp-rbrk",
		ImageID:           "ami-05f991c49d264708f",
		InstanceType:      "t2.micro",
		KeyName:           "Severless_rbrk",
		ContainerPort:     3000,
		RegistryPolicyARN: RegistryReadOnlyPolicyARN,
		Services: []Service{
			{Name: "backend1", Image: "975050024946.dkr.ecr.us-west-2.amazonaws.com/myapp-backend1:latest"},
			{Name: "backend2", Image: "975050024946.dkr.ecr.us-west-2.amazonaws.com/myapp-backend2:latest"},
			{Name: "frontend", Image: "975050024946.dkr.ecr.us-west-2.amazonaws.com/myapp-frontend:latest"},
		},
		IngressRules: DefaultIngressRules(),
		Scaling:      Scaling{Min: 1, Max: 2, Desired: 1},
	}
}

// Load returns the defaults with the YAML file at path merged over them.
// An empty path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	configBytes, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return Merge(cfg, configBytes)
}

// Merge overlays the YAML document in data onto cfg.
// Only keys present in the document are replaced, so an explicit zero or empty list wins over the default.
// Lists are replaced wholesale, never appended to.
func Merge(cfg Config, data []byte) (Config, error) {
	merged := cfg
	if err := yaml.Unmarshal(data, &merged); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return merged, nil
}

// WithOverrides applies command line overrides to cfg. Zero valued fields in overrides mean "not set".
func WithOverrides(cfg Config, overrides Config) (Config, error) {
	if err := mergo.Merge(&cfg, overrides, mergo.WithOverride); err != nil {
		return cfg, fmt.Errorf("applying overrides: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem found in the configuration
func (c Config) Validate() error {
	var errs []error
	if c.Project == "" {
		errs = append(errs, errors.New("project must not be empty"))
	}
	if c.Region == "" {
		errs = append(errs, errors.New("region must not be empty"))
	}
	if c.ImageID == "" {
		errs = append(errs, errors.New("imageID must not be empty"))
	}
	if len(c.Services) == 0 {
		errs = append(errs, errors.New("at least one service must be configured"))
	}
	for _, dup := range lo.FindDuplicates(lo.Map(c.Services, func(s Service, _ int) string { return s.Name })) {
		errs = append(errs, fmt.Errorf("service %q is configured more than once", dup))
	}
	for _, svc := range c.Services {
		if svc.Name == "" {
			errs = append(errs, fmt.Errorf("service with image %q has no name", svc.Image))
			continue
		}
		if _, err := name.ParseReference(svc.Image); err != nil {
			errs = append(errs, fmt.Errorf("service %q has an invalid image reference: %w", svc.Name, err))
		}
	}
	if c.ContainerPort <= 0 || c.ContainerPort > 65535 {
		errs = append(errs, fmt.Errorf("containerPort %d is out of range", c.ContainerPort))
	}
	if c.Scaling.Min > c.Scaling.Desired || c.Scaling.Desired > c.Scaling.Max {
		errs = append(errs, fmt.Errorf("scaling sizes must satisfy min <= desired <= max, got min=%d desired=%d max=%d",
			c.Scaling.Min, c.Scaling.Desired, c.Scaling.Max))
	}
	return errors.Join(errs...)
}

// Service looks up a configured service by name
func (c Config) Service(name string) (Service, bool) {
	return lo.Find(c.Services, func(s Service) bool { return s.Name == name })
}

func (c Config) ServiceNames() []string {
	return lo.Map(c.Services, func(s Service, _ int) string { return s.Name })
}

func (c Config) SecurityGroupName() string {
	return c.Project + "-sg"
}

func (c Config) RoleName() string {
	return c.Project + "-role"
}

func (c Config) InstanceProfileName() string {
	return c.Project + "-instance-profile"
}

func (c Config) LaunchTemplateName(service string) string {
	return fmt.Sprintf("%s-%s-lt", c.Project, service)
}

func (c Config) AutoScalingGroupName(service string) string {
	return fmt.Sprintf("%s-%s-asg", c.Project, service)
}

// ServiceTagName is the Name tag propagated to every instance of a service
func (c Config) ServiceTagName(service string) string {
	return fmt.Sprintf("%s-%s", c.Project, service)
}
