package stageflow

import (
	"fmt"
	"regexp"

	"github.com/stageflow/stageflow/store"
)

var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// InjectVariables substitutes ${dot.path} placeholders in s against the
// given sources in order; the first source that resolves a path wins.
// Unresolved placeholders are left as literal text.
func InjectVariables(s string, sources ...map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := match[2 : len(match)-1]
		for _, source := range sources {
			if source == nil {
				continue
			}
			if v, ok := store.Pick(source, path); ok {
				return fmt.Sprintf("%v", v)
			}
		}
		return match
	})
}
