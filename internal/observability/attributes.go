// Package observability provides metrics for the solver service.
package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrSource  = "source"
	attrSuccess = "success"
	attrCode    = "code"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality: 200-299 -> 2xx, etc.
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

// sourceAttr labels a solve by its input kind ("file" or "url").
func sourceAttr(source string) attribute.KeyValue {
	return attribute.String(attrSource, source)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// codeAttr labels a failure with its taxonomy code (auth, network, ...).
func codeAttr(code string) attribute.KeyValue {
	return attribute.String(attrCode, code)
}

// normalizePath replaces dynamic path segments with placeholders to keep
// metric cardinality bounded.
func normalizePath(path string) string {
	const prefix = "/v1/solves/"
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		return "/v1/solves/{solveId}"
	}
	return path
}
