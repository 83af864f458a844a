package vpcs

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/bwagner5/svcfleet/pkg/utils/awsutils"
	"github.com/bwagner5/svcfleet/pkg/utils/tagutils"
	"github.com/samber/lo"
)

// Watcher discovers vpcs based on selectors
type Watcher struct {
	vpcAPI SDKVPCsOps
}

// SDKVPCsOps is an interface that combines the necessary EC2 SDK client interfaces
// AWS SDK for Go v2 does not provide a single interface that combines all the necessary methods
type SDKVPCsOps interface {
	ec2.DescribeVpcsAPIClient
}

// Selector is a struct that represents a vpc selector
type Selector struct {
	Tags    map[string]string
	ID      string
	Default bool
}

// VPC represent an AWS VPC
// This is not the AWS SDK VPC type, but a wrapper around it so that we can add additional data
type VPC struct {
	ec2types.Vpc
}

// NewWatcher creates a new VPC Watcher
func NewWatcher(vpcAPI SDKVPCsOps) Watcher {
	return Watcher{
		vpcAPI: vpcAPI,
	}
}

// Resolve returns a list of vpcs that match the provided selectors
// Multiple calls to EC2 may be sent to resolve the selectors
func (w Watcher) Resolve(ctx context.Context, selectors []Selector) ([]VPC, error) {
	var vpcs []VPC
	for i, filters := range filterSets(selectors) {
		pager := ec2.NewDescribeVpcsPaginator(w.vpcAPI, &ec2.DescribeVpcsInput{
			Filters: filters,
			VpcIds:  lo.Ternary(selectors[i].ID == "", nil, []string{selectors[i].ID}),
		})
		for pager.HasMorePages() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, awsutils.Wrap("describe vpcs", err)
			}
			vpcs = append(vpcs, lo.Map(page.Vpcs, func(sdkVPC ec2types.Vpc, _ int) VPC {
				return VPC{sdkVPC}
			})...)
		}
	}
	return vpcs, nil
}

// filterSets converts a slice of selectors into a slice of filters for use with the AWS SDK
// Each filter set is executed as a separate list call, so the result lines up index-for-index with selectors
func filterSets(selectors []Selector) [][]ec2types.Filter {
	var filterResult [][]ec2types.Filter
	for _, term := range selectors {
		var filters []ec2types.Filter
		if term.Default {
			filters = append(filters, ec2types.Filter{
				Name:   aws.String("isDefault"),
				Values: []string{"true"},
			})
		}
		filters = append(filters, tagutils.EC2Filters(term.Tags)...)
		filterResult = append(filterResult, filters)
	}
	return filterResult
}
