package awsutils

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// Kind is the structured class of a control plane error.
// Callers branch on Kind instead of matching error text.
type Kind string

const (
	KindUnknown       Kind = "Unknown"
	KindAlreadyExists Kind = "AlreadyExists"
	KindNotFound      Kind = "NotFound"
	KindValidation    Kind = "Validation"
)

// errorCodeKinds maps the provider error codes this tool can receive to a Kind.
// Codes missing from the map are KindUnknown.
var errorCodeKinds = map[string]Kind{
	// EC2
	"InvalidGroup.Duplicate":                           KindAlreadyExists,
	"InvalidPermission.Duplicate":                      KindAlreadyExists,
	"InvalidLaunchTemplateName.AlreadyExistsException": KindAlreadyExists,
	"InvalidGroup.NotFound":                            KindNotFound,
	"InvalidVpcID.NotFound":                            KindNotFound,
	"InvalidLaunchTemplateName.NotFoundException":      KindNotFound,
	"InvalidLaunchTemplateId.NotFound":                 KindNotFound,
	"InvalidParameterValue":                            KindValidation,
	"InvalidParameterCombination":                      KindValidation,
	"MissingParameter":                                 KindValidation,
	"InvalidLaunchTemplateName.MalformedException":     KindValidation,
	// IAM
	"EntityAlreadyExists":     KindAlreadyExists,
	"NoSuchEntity":            KindNotFound,
	"MalformedPolicyDocument": KindValidation,
	"InvalidInput":            KindValidation,
	// Auto Scaling
	"AlreadyExists":   KindAlreadyExists,
	"ValidationError": KindValidation,
	// SSM
	"ParameterNotFound": KindNotFound,
}

// ProviderError is an SDK error annotated with the operation that produced it and its Kind.
// The raw SDK error stays reachable through Unwrap.
type ProviderError struct {
	Op   string
	Code string
	Kind Kind
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Classify returns the Kind for err based on the smithy API error code, if any.
func Classify(err error) (Kind, string) {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return KindUnknown, ""
	}
	if kind, ok := errorCodeKinds[ae.ErrorCode()]; ok {
		return kind, ae.ErrorCode()
	}
	return KindUnknown, ae.ErrorCode()
}

// Wrap annotates err with op and its classified Kind. A nil err returns nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	kind, code := Classify(err)
	return &ProviderError{Op: op, Code: code, Kind: kind, Err: err}
}

// IsKind reports whether err, or any error it wraps, is a ProviderError of the given kind.
// Unwrapped SDK errors are classified on the fly.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	k, _ := Classify(err)
	return k == kind
}

func IsAlreadyExists(err error) bool {
	return IsKind(err, KindAlreadyExists)
}
