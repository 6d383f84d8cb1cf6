// internal/executor/template.go
package executor

import (
	"regexp"
	"strings"
)

// Tokens are $name, ${name} or the $$ escape.
var templateToken = regexp.MustCompile(`\$(?:(\$)|(\w+)|\{(\w+)\})`)

// Substitute replaces $name and ${name} tokens with values from params.
// Unknown tokens are left verbatim and $$ escapes a literal dollar sign; the
// function never fails. Used identically for shell commands, HTTP URLs and
// HTTP bodies.
func Substitute(template string, params map[string]string) string {
	if template == "" || !strings.Contains(template, "$") {
		return template
	}

	return templateToken.ReplaceAllStringFunc(template, func(token string) string {
		match := templateToken.FindStringSubmatch(token)
		if match[1] == "$" {
			return "$"
		}

		name := match[2]
		if name == "" {
			name = match[3]
		}
		if value, ok := params[name]; ok {
			return value
		}
		return token
	})
}

// ServerParams merges user parameters with the server identity values that
// every template may reference.
func ServerParams(params map[string]string, address, name string) map[string]string {
	merged := make(map[string]string, len(params)+2)
	for k, v := range params {
		merged[k] = v
	}
	merged["server_ip"] = address
	merged["server_name"] = name
	return merged
}
