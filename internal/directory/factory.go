package directory

import (
	"fmt"
	"strings"
)

// FromConfig builds the factory override named by kind. An empty kind means
// no override and returns nil.
func FromConfig(kind, root string) (Factory, error) {
	switch strings.ToLower(kind) {
	case "":
		return nil, nil
	case "fs":
		if root == "" {
			return nil, fmt.Errorf("directory factory 'fs' requires a root")
		}
		return FSFactory{Root: root}, nil
	case "memory":
		return NewMemoryFactory(), nil
	default:
		return nil, fmt.Errorf("unknown directory factory %q", kind)
	}
}
