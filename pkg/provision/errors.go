package provision

import "fmt"

// NotFoundError means a resource that must already exist is missing.
// Retrying will not help; the account or configuration has to change.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

// ConfigError means a referenced service is not part of the configuration
type ConfigError struct {
	Service string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("service %q: %s", e.Service, e.Reason)
}
