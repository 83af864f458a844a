package iamroles

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/bwagner5/svcfleet/pkg/utils/awsutils"
	"github.com/bwagner5/svcfleet/pkg/utils/tagutils"
	"github.com/samber/lo"
)

const (
	iamPolicyVersion    = "2012-10-17"
	iamEffectAllow      = "Allow"
	awsServiceEC2       = "ec2.amazonaws.com"
	stsActionAssumeRole = "sts:AssumeRole"
)

// Watcher creates the IAM role and instance profile that instances run as
type Watcher struct {
	iamAPI SDKIAMOps
}

// SDKIAMOps is an interface that combines the necessary IAM SDK client interfaces
// AWS SDK for Go v2 does not provide a single interface that combines all the necessary methods
type SDKIAMOps interface {
	CreateRole(context.Context, *iam.CreateRoleInput, ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	AttachRolePolicy(context.Context, *iam.AttachRolePolicyInput, ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	CreateInstanceProfile(context.Context, *iam.CreateInstanceProfileInput, ...func(*iam.Options)) (*iam.CreateInstanceProfileOutput, error)
	GetInstanceProfile(context.Context, *iam.GetInstanceProfileInput, ...func(*iam.Options)) (*iam.GetInstanceProfileOutput, error)
	AddRoleToInstanceProfile(context.Context, *iam.AddRoleToInstanceProfileInput, ...func(*iam.Options)) (*iam.AddRoleToInstanceProfileOutput, error)
}

// Identity is the execution identity attached to every instance
type Identity struct {
	RoleName            string
	PolicyARN           string
	PolicyAttached      bool
	InstanceProfileName string
	InstanceProfileARN  string
	RoleCreated         bool
	ProfileCreated      bool
}

type InstanceProfileResult struct {
	ARN     string
	Created bool
	// RoleAdded is true when this call bound the role to the profile
	RoleAdded bool
}

// NewWatcher creates a new IAM Watcher
func NewWatcher(iamAPI SDKIAMOps) Watcher {
	return Watcher{
		iamAPI: iamAPI,
	}
}

// TrustPolicy returns an assume-role policy document that only lets EC2 instances assume the role
func TrustPolicy() (string, error) {
	trustPolicy := map[string]any{
		"Version": iamPolicyVersion,
		"Statement": []map[string]any{{
			"Effect":    iamEffectAllow,
			"Principal": map[string]any{"Service": awsServiceEC2},
			"Action":    stsActionAssumeRole,
		}},
	}
	trustPolicyJSON, err := json.Marshal(trustPolicy)
	if err != nil {
		return "", fmt.Errorf("marshaling trust policy: %w", err)
	}
	return string(trustPolicyJSON), nil
}

// EnsureRole creates the role. created is false when the role already existed.
func (w Watcher) EnsureRole(ctx context.Context, roleName string, tags map[string]string) (bool, error) {
	trustPolicy, err := TrustPolicy()
	if err != nil {
		return false, err
	}
	_, err = w.iamAPI.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(roleName),
		AssumeRolePolicyDocument: aws.String(trustPolicy),
		Description:              aws.String("svcfleet instance role"),
		Tags:                     tagutils.IAMTags(tags),
	})
	if err != nil {
		if awsutils.IsAlreadyExists(err) {
			return false, nil
		}
		return false, awsutils.Wrap("create IAM role "+roleName, err)
	}
	return true, nil
}

// AttachPolicy attaches a managed policy to the role. Attaching an already attached policy succeeds.
func (w Watcher) AttachPolicy(ctx context.Context, roleName, policyARN string) error {
	_, err := w.iamAPI.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(roleName),
		PolicyArn: aws.String(policyARN),
	})
	return awsutils.Wrap(fmt.Sprintf("attach policy %s to role %s", policyARN, roleName), err)
}

// EnsureInstanceProfile creates the instance profile and binds roleName to it.
// An existing profile is inspected first so the role is only added when it is not bound yet.
func (w Watcher) EnsureInstanceProfile(ctx context.Context, profileName, roleName string, tags map[string]string) (InstanceProfileResult, error) {
	var result InstanceProfileResult
	var boundRoles []iamtypes.Role

	out, err := w.iamAPI.CreateInstanceProfile(ctx, &iam.CreateInstanceProfileInput{
		InstanceProfileName: aws.String(profileName),
		Tags:                tagutils.IAMTags(tags),
	})
	switch {
	case err == nil:
		result.Created = true
		result.ARN = lo.FromPtr(out.InstanceProfile.Arn)
	case awsutils.IsAlreadyExists(err):
		existing, err := w.iamAPI.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{
			InstanceProfileName: aws.String(profileName),
		})
		if err != nil {
			return result, awsutils.Wrap("get instance profile "+profileName, err)
		}
		result.ARN = lo.FromPtr(existing.InstanceProfile.Arn)
		boundRoles = existing.InstanceProfile.Roles
	default:
		return result, awsutils.Wrap("create instance profile "+profileName, err)
	}

	if lo.ContainsBy(boundRoles, func(r iamtypes.Role) bool { return lo.FromPtr(r.RoleName) == roleName }) {
		return result, nil
	}
	_, err = w.iamAPI.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
		InstanceProfileName: aws.String(profileName),
		RoleName:            aws.String(roleName),
	})
	if err != nil {
		if awsutils.IsAlreadyExists(err) {
			return result, nil
		}
		return result, awsutils.Wrap(fmt.Sprintf("add role %s to instance profile %s", roleName, profileName), err)
	}
	result.RoleAdded = true
	return result, nil
}
