package subnets

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEC2Client struct {
	pages [][]ec2types.Subnet
	calls int
}

// DescribeSubnets serves one page per call, linked with NextToken
func (m *mockEC2Client) DescribeSubnets(_ context.Context, params *ec2.DescribeSubnetsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	page := m.calls
	m.calls++
	out := &ec2.DescribeSubnetsOutput{Subnets: m.pages[page]}
	if page+1 < len(m.pages) {
		out.NextToken = aws.String("next")
	}
	return out, nil
}

func TestResolvePaginates(t *testing.T) {
	client := &mockEC2Client{pages: [][]ec2types.Subnet{
		{{SubnetId: aws.String("subnet-a")}, {SubnetId: aws.String("subnet-b")}},
		{{SubnetId: aws.String("subnet-c")}},
	}}

	subnets, err := NewWatcher(client).Resolve(context.Background(), []Selector{{VPCID: "vpc-1"}})

	require.NoError(t, err)
	assert.Equal(t, []string{"subnet-a", "subnet-b", "subnet-c"}, IDs(subnets))
	assert.Equal(t, 2, client.calls)
}

func TestResolveEmpty(t *testing.T) {
	client := &mockEC2Client{pages: [][]ec2types.Subnet{nil}}
	subnets, err := NewWatcher(client).Resolve(context.Background(), []Selector{{VPCID: "vpc-1"}})
	require.NoError(t, err)
	assert.Empty(t, IDs(subnets))
}

func TestFilterSets(t *testing.T) {
	sets := filterSets([]Selector{{ID: "subnet-1"}, {VPCID: "vpc-1"}, {ID: "subnet-2"}})
	require.Len(t, sets, 2)
	assert.Equal(t, []string{"vpc-id"}, lo.Map(sets[0], func(f ec2types.Filter, _ int) string { return *f.Name }))
	assert.Equal(t, "subnet-id", *sets[1][0].Name)
	assert.Equal(t, []string{"subnet-1", "subnet-2"}, sets[1][0].Values)
}
