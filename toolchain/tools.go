//go:build tools

// Package toolchain pins the versions of the developer tools installed by "make tools".
package toolchain

import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "github.com/google/go-licenses"
	_ "golang.org/x/vuln/cmd/govulncheck"
)
