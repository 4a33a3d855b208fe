// Package api embeds the OpenAPI description of the HTTP gateway.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPISpec []byte
