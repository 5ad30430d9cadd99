// Package mount describes how the repository is split into mounted
// sub-trees. Every path belongs to exactly one mount; paths not claimed by a
// named mount belong to the default mount.
package mount

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/Aman-CERP/indexhelper/internal/errors"
)

// DefaultName is the name of the default mount.
const DefaultName = "<default>"

// Mount is one mounted sub-tree.
type Mount struct {
	Name           string
	PathsSupported []string
	ReadOnly       bool
	Default        bool
}

// Contains reports whether p lies under one of the mount's paths.
func (m Mount) Contains(p string) bool {
	if m.Default {
		return true
	}
	return m.matchLen(clean(p)) >= 0
}

// matchLen returns the length of the longest supported path containing p, or -1.
func (m Mount) matchLen(p string) int {
	best := -1
	for _, root := range m.PathsSupported {
		if isUnder(p, root) && len(root) > best {
			best = len(root)
		}
	}
	return best
}

// Provider resolves paths to mounts.
type Provider struct {
	defaultMount Mount
	mounts       []Mount
}

// NewProvider validates mounts and builds a provider. Mount names must be
// unique and no two mounts may claim overlapping paths.
func NewProvider(mounts ...Mount) (*Provider, error) {
	p := &Provider{defaultMount: Mount{Name: DefaultName, Default: true}}

	names := map[string]bool{DefaultName: true}
	var roots []struct{ root, owner string }

	for _, m := range mounts {
		if m.Name == "" {
			return nil, invalid("mount name must not be empty", "")
		}
		if names[m.Name] {
			return nil, invalid("duplicate mount name", m.Name)
		}
		names[m.Name] = true

		if len(m.PathsSupported) == 0 {
			return nil, invalid("mount must support at least one path", m.Name)
		}

		cleaned := make([]string, 0, len(m.PathsSupported))
		for _, raw := range m.PathsSupported {
			root := clean(raw)
			if root == "/" {
				return nil, invalid("mount cannot claim the repository root", m.Name)
			}
			for _, other := range roots {
				if isUnder(root, other.root) || isUnder(other.root, root) {
					return nil, invalid(fmt.Sprintf("path %s overlaps mount %q", root, other.owner), m.Name)
				}
			}
			roots = append(roots, struct{ root, owner string }{root, m.Name})
			cleaned = append(cleaned, root)
		}
		sort.Strings(cleaned)

		m.PathsSupported = cleaned
		m.Default = false
		p.mounts = append(p.mounts, m)
	}

	sort.Slice(p.mounts, func(i, j int) bool { return p.mounts[i].Name < p.mounts[j].Name })
	return p, nil
}

// Default returns a provider with only the default mount.
func Default() *Provider {
	p, _ := NewProvider()
	return p
}

// MountByPath returns the mount owning p.
func (p *Provider) MountByPath(raw string) Mount {
	target := clean(raw)
	best, bestLen := p.defaultMount, -1
	for _, m := range p.mounts {
		if n := m.matchLen(target); n > bestLen {
			best, bestLen = m, n
		}
	}
	return best
}

// MountByName looks a mount up by name.
func (p *Provider) MountByName(name string) (Mount, bool) {
	if name == DefaultName {
		return p.defaultMount, true
	}
	for _, m := range p.mounts {
		if m.Name == name {
			return m, true
		}
	}
	return Mount{}, false
}

// DefaultMount returns the default mount.
func (p *Provider) DefaultMount() Mount {
	return p.defaultMount
}

// NonDefaultMounts returns the named mounts sorted by name.
func (p *Provider) NonDefaultMounts() []Mount {
	out := make([]Mount, len(p.mounts))
	copy(out, p.mounts)
	return out
}

// Mounts returns all mounts, default first.
func (p *Provider) Mounts() []Mount {
	return append([]Mount{p.defaultMount}, p.NonDefaultMounts()...)
}

// HasNonDefaultMounts reports whether any named mount is configured.
func (p *Provider) HasNonDefaultMounts() bool {
	return len(p.mounts) > 0
}

func clean(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// isUnder reports whether p equals root or is a descendant of it.
func isUnder(p, root string) bool {
	if root == "/" {
		return true
	}
	return p == root || strings.HasPrefix(p, root+"/")
}

func invalid(msg, name string) error {
	e := errors.New(errors.ErrCodeInvalidMount, msg, nil)
	if name != "" {
		e.WithDetail("mount", name)
	}
	return e
}
