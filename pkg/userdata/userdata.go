package userdata

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/kballard/go-shellquote"
)

// scriptTemplate installs docker on Amazon Linux, logs in to the image's registry with the
// instance role and starts the service container detached.
const scriptTemplate = `#!/bin/bash
yum update -y
yum install -y docker
service docker start
usermod -a -G docker ec2-user
aws ecr get-login-password --region {{ quote .Region }} | docker login --username AWS --password-stdin {{ quote .RegistryHost }}
docker run -d -p {{ .ContainerPort }}:{{ .ContainerPort }} {{ quote .Image }}
`

var script = template.Must(template.New("user-data").Funcs(template.FuncMap{
	"quote": func(s string) string { return shellquote.Join(s) },
}).Parse(scriptTemplate))

// Options parameterize the startup script
type Options struct {
	Region        string
	Image         string
	ContainerPort int32
}

type scriptData struct {
	Options
	RegistryHost string
}

// RegistryHost returns the part of an image reference before the first "/".
// For ECR references this is the registry endpoint docker has to log in to.
func RegistryHost(image string) string {
	host, _, _ := strings.Cut(image, "/")
	return host
}

// Render returns the plain text startup script for a service
func Render(opts Options) (string, error) {
	if opts.Image == "" {
		return "", errors.New("rendering user data: image must not be empty")
	}
	if opts.Region == "" {
		return "", errors.New("rendering user data: region must not be empty")
	}
	var buf bytes.Buffer
	if err := script.Execute(&buf, scriptData{Options: opts, RegistryHost: RegistryHost(opts.Image)}); err != nil {
		return "", fmt.Errorf("rendering user data: %w", err)
	}
	return buf.String(), nil
}
