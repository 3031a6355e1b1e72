// Package api holds the embedded OpenAPI document served at /api/openapi.yaml.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPISpec []byte
