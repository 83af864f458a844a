package amis

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/bwagner5/svcfleet/pkg/utils/awsutils"
	"github.com/samber/lo"
)

// SSMPrefix marks an image reference that is an SSM parameter path holding an AMI id,
// e.g. ssm:/aws/service/ami-amazon-linux-latest/al2023-ami-kernel-default-x86_64
const SSMPrefix = "ssm:"

// Watcher resolves the configured base image to an AMI id
type Watcher struct {
	ssmAPI SDKSSMOps
}

type SDKSSMOps interface {
	GetParameters(context.Context, *ssm.GetParametersInput, ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// AMI is a resolved image id and, when it came from SSM, the parameter it was read from
type AMI struct {
	ID        string
	Parameter string
}

// NewWatcher creates a new AMI Watcher
func NewWatcher(ssmAPI SDKSSMOps) Watcher {
	return Watcher{
		ssmAPI: ssmAPI,
	}
}

// IsSSMReference reports whether imageRef needs an SSM lookup
func IsSSMReference(imageRef string) bool {
	return strings.HasPrefix(imageRef, SSMPrefix)
}

// Resolve returns the AMIs imageRef refers to.
// A literal AMI id is returned as is without calling AWS.
// An SSM reference that does not exist yields an empty list.
func (w Watcher) Resolve(ctx context.Context, imageRef string) ([]AMI, error) {
	if !IsSSMReference(imageRef) {
		return []AMI{{ID: imageRef}}, nil
	}
	path := strings.TrimPrefix(imageRef, SSMPrefix)
	out, err := w.ssmAPI.GetParameters(ctx, &ssm.GetParametersInput{
		Names: []string{path},
	})
	if err != nil {
		return nil, awsutils.Wrap("get ssm parameter "+path, err)
	}
	return lo.FilterMap(out.Parameters, func(param ssmtypes.Parameter, _ int) (AMI, bool) {
		return AMI{ID: lo.FromPtr(param.Value), Parameter: lo.FromPtr(param.Name)}, lo.FromPtr(param.Value) != ""
	}), nil
}
