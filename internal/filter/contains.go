package filter

import (
	"fmt"
	"strings"

	"github.com/bakkerme/culler/internal/core"
)

// Contains matches resources whose field holds substring. Field is "location",
// "title", "any" (either of the two) or an attribute name. Matching ignores case.
func Contains(field, substring string) (core.Predicate, error) {
	if substring == "" {
		return nil, fmt.Errorf("contains filter requires a substring")
	}
	if field == "" {
		field = "any"
	}
	needle := strings.ToLower(substring)
	name := fmt.Sprintf("%s contains %q", field, substring)
	return Func(name, func(r core.Resource) (bool, error) {
		if field == "any" {
			return strings.Contains(strings.ToLower(r.Location), needle) ||
				strings.Contains(strings.ToLower(r.Title), needle), nil
		}
		v, ok := r.Attr(field)
		if !ok {
			return false, nil
		}
		return strings.Contains(strings.ToLower(v), needle), nil
	}), nil
}
