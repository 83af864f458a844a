package subnets

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/bwagner5/svcfleet/pkg/utils/awsutils"
	"github.com/bwagner5/svcfleet/pkg/utils/tagutils"
	"github.com/samber/lo"
)

// Watcher discovers subnets based on selectors
type Watcher struct {
	subnetAPI SDKSubnetsOps
}

// SDKSubnetsOps is an interface that combines the necessary EC2 SDK client interfaces
// AWS SDK for Go v2 does not provide a single interface that combines all the necessary methods
type SDKSubnetsOps interface {
	ec2.DescribeSubnetsAPIClient
}

// Selector is a struct that represents a subnet selector
type Selector struct {
	Tags  map[string]string
	ID    string
	VPCID string
}

// Subnet represent an AWS Subnet
// This is not the AWS SDK Subnet type, but a wrapper around it so that we can add additional data
type Subnet struct {
	ec2types.Subnet
}

// NewWatcher creates a new Subnet Watcher
func NewWatcher(subnetAPI SDKSubnetsOps) Watcher {
	return Watcher{
		subnetAPI: subnetAPI,
	}
}

// Resolve returns a list of subnets that match the provided selectors
// Multiple calls to EC2 may be sent to resolve the selectors
func (w Watcher) Resolve(ctx context.Context, selectors []Selector) ([]Subnet, error) {
	var subnets []Subnet
	for _, filters := range filterSets(selectors) {
		pager := ec2.NewDescribeSubnetsPaginator(w.subnetAPI, &ec2.DescribeSubnetsInput{
			Filters: filters,
		})
		for pager.HasMorePages() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, awsutils.Wrap("describe subnets", err)
			}
			subnets = append(subnets, lo.Map(page.Subnets, func(sdkSubnet ec2types.Subnet, _ int) Subnet {
				return Subnet{sdkSubnet}
			})...)
		}
	}
	return subnets, nil
}

// IDs returns the subnet ids in the order they were resolved
func IDs(subnets []Subnet) []string {
	return lo.Map(subnets, func(s Subnet, _ int) string { return lo.FromPtr(s.SubnetId) })
}

// filterSets converts a slice of selectors into a slice of filters for use with the AWS SDK
// ID selectors are batched into a single subnet-id filter
func filterSets(selectors []Selector) [][]ec2types.Filter {
	var filterResult [][]ec2types.Filter
	idFilter := ec2types.Filter{Name: aws.String("subnet-id")}
	for _, term := range selectors {
		switch {
		case term.ID != "":
			idFilter.Values = append(idFilter.Values, term.ID)
		default:
			var filters []ec2types.Filter
			if term.VPCID != "" {
				filters = append(filters, ec2types.Filter{
					Name:   aws.String("vpc-id"),
					Values: []string{term.VPCID},
				})
			}
			filters = append(filters, tagutils.EC2Filters(term.Tags)...)
			filterResult = append(filterResult, filters)
		}
	}
	if len(idFilter.Values) > 0 {
		filterResult = append(filterResult, []ec2types.Filter{idFilter})
	}
	return filterResult
}
