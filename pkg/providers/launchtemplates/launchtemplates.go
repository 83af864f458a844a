package launchtemplates

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/bwagner5/svcfleet/pkg/utils/awsutils"
	"github.com/bwagner5/svcfleet/pkg/utils/tagutils"
	"github.com/samber/lo"
)

// Watcher discovers and creates launch templates
type Watcher struct {
	launchTemplateAPI SDKLaunchTemplatesOps
}

// SDKLaunchTemplatesOps is an interface that combines the necessary EC2 SDK client interfaces
// AWS SDK for Go v2 does not provide a single interface that combines all the necessary methods
type SDKLaunchTemplatesOps interface {
	ec2.DescribeLaunchTemplatesAPIClient
	CreateLaunchTemplate(context.Context, *ec2.CreateLaunchTemplateInput, ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateOutput, error)
}

// Selector is a struct that represents a launch template selector
type Selector struct {
	Tags map[string]string
	ID   string
	Name string
}

type CreateOptions struct {
	Name                string
	ImageID             string
	InstanceType        string
	KeyName             string
	InstanceProfileName string
	SecurityGroupIDs    []string
	// UserData is the plain text startup script; it is base64 encoded on the way out
	UserData string
	Tags     map[string]string
}

type EnsureResult struct {
	ID      string
	Created bool
}

// LaunchTemplate represents an Amazon EC2 LaunchTemplate
// This is not the AWS SDK LaunchTemplate type, but a wrapper around it so that we can add additional data
type LaunchTemplate struct {
	ec2types.LaunchTemplate
}

// NewWatcher creates a new LaunchTemplate Watcher
func NewWatcher(launchTemplateAPI SDKLaunchTemplatesOps) Watcher {
	return Watcher{
		launchTemplateAPI: launchTemplateAPI,
	}
}

// Resolve returns a list of launch templates that match the provided selectors
// Multiple calls to EC2 may be sent to resolve the selectors
func (w Watcher) Resolve(ctx context.Context, selectors []Selector) ([]LaunchTemplate, error) {
	var launchTemplates []LaunchTemplate
	for i, filters := range filterSets(selectors) {
		pager := ec2.NewDescribeLaunchTemplatesPaginator(w.launchTemplateAPI, &ec2.DescribeLaunchTemplatesInput{
			Filters:           filters,
			LaunchTemplateIds: lo.Ternary(selectors[i].ID == "", nil, []string{selectors[i].ID}),
		})
		for pager.HasMorePages() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, awsutils.Wrap("describe launch templates", err)
			}
			launchTemplates = append(launchTemplates, lo.Map(page.LaunchTemplates, func(lt ec2types.LaunchTemplate, _ int) LaunchTemplate {
				return LaunchTemplate{lt}
			})...)
		}
	}
	return launchTemplates, nil
}

// Ensure creates the launch template, or returns the id of the template that already has the name.
// An existing template is reused as is; its data is not compared with opts.
func (w Watcher) Ensure(ctx context.Context, opts CreateOptions) (EnsureResult, error) {
	id, err := w.Create(ctx, opts)
	if err == nil {
		return EnsureResult{ID: id, Created: true}, nil
	}
	if !awsutils.IsAlreadyExists(err) {
		return EnsureResult{}, err
	}
	existing, err := w.Resolve(ctx, []Selector{{Name: opts.Name}})
	if err != nil {
		return EnsureResult{}, err
	}
	if len(existing) == 0 {
		return EnsureResult{}, fmt.Errorf("launch template %s was reported as existing but could not be found", opts.Name)
	}
	return EnsureResult{ID: lo.FromPtr(existing[0].LaunchTemplateId)}, nil
}

func (w Watcher) Create(ctx context.Context, opts CreateOptions) (string, error) {
	out, err := w.launchTemplateAPI.CreateLaunchTemplate(ctx, &ec2.CreateLaunchTemplateInput{
		LaunchTemplateName: aws.String(opts.Name),
		LaunchTemplateData: &ec2types.RequestLaunchTemplateData{
			ImageId:      aws.String(opts.ImageID),
			InstanceType: ec2types.InstanceType(opts.InstanceType),
			KeyName:      lo.EmptyableToPtr(opts.KeyName),
			IamInstanceProfile: &ec2types.LaunchTemplateIamInstanceProfileSpecificationRequest{
				Name: aws.String(opts.InstanceProfileName),
			},
			SecurityGroupIds: opts.SecurityGroupIDs,
			UserData:         aws.String(base64.StdEncoding.EncodeToString([]byte(opts.UserData))),
		},
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeLaunchTemplate,
				Tags:         tagutils.EC2Tags(lo.Assign(opts.Tags, map[string]string{tagutils.NameTagKey: opts.Name})),
			},
		},
	})
	if err != nil {
		return "", awsutils.Wrap("create launch template "+opts.Name, err)
	}
	return lo.FromPtr(out.LaunchTemplate.LaunchTemplateId), nil
}

// filterSets converts a slice of selectors into a slice of filters for use with the AWS SDK
func filterSets(selectors []Selector) [][]ec2types.Filter {
	var filterResult [][]ec2types.Filter
	for _, term := range selectors {
		switch {
		case term.Name != "":
			filterResult = append(filterResult, []ec2types.Filter{
				{
					Name:   aws.String("launch-template-name"),
					Values: []string{term.Name},
				},
			})
		default:
			filterResult = append(filterResult, tagutils.EC2Filters(term.Tags))
		}
	}
	return filterResult
}
