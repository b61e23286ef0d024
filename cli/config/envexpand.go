// Package config handles gloss.yaml loading, defaults and validation.
package config

import (
	"os"
	"regexp"
	"strings"
)

// envRef matches ${NAME} and ${NAME:-fallback}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// ExpandEnv substitutes environment references in a config document.
// ${NAME} becomes the value of NAME, or "" when unset. ${NAME:-fallback}
// uses fallback when NAME is unset or empty.
//
// An unset reference is not an error here; a missing API key surfaces
// when the model client is built.
func ExpandEnv(doc string) string {
	return expand(doc, os.Getenv)
}

func expand(doc string, getenv func(string) string) string {
	matches := envRef.FindAllStringSubmatchIndex(doc, -1)
	if len(matches) == 0 {
		return doc
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(doc[last:m[0]])
		value := getenv(doc[m[2]:m[3]])
		if value == "" && m[4] >= 0 {
			value = doc[m[4]+len(":-") : m[5]]
		}
		b.WriteString(value)
		last = m[1]
	}
	b.WriteString(doc[last:])
	return b.String()
}
