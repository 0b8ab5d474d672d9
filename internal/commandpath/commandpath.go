// Package commandpath encodes which control was pressed on which card as a
// flat, delimiter-joined identifier such as "btn-bsky-like".
//
// A Grammar is a tree of named segments built once at startup. Build turns a
// root-to-terminal path into its wire string and Parse turns a wire string,
// which may come from an untrusted platform payload, back into a Path.
package commandpath

import (
	"errors"
	"fmt"
	"strings"
)

const Delimiter = "-"

var (
	// ErrInvalidPath is returned when a segment matches no node of the grammar.
	ErrInvalidPath = errors.New("invalid command path")
	// ErrIncompletePath is returned when the input ends on a non-terminal node.
	ErrIncompletePath = errors.New("incomplete command path")
)

// Spec describes one grammar node and its children. It is the input to New.
type Spec struct {
	name     string
	children []Spec
}

func Node(name string, children ...Spec) Spec {
	return Spec{name: name, children: children}
}

type node struct {
	name     string
	parent   *node
	children []*node
}

func (n *node) terminal() bool {
	return len(n.children) == 0
}

func (n *node) child(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// Path is the ordered list of segment names from a root to a terminal node.
type Path []string

func (p Path) String() string {
	return strings.Join(p, Delimiter)
}

func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

type Grammar struct {
	roots []*node
}

// New builds a grammar from root specs. It panics when two siblings share a
// name, when a name is empty, or when a name contains the delimiter.
func New(roots ...Spec) *Grammar {
	if len(roots) == 0 {
		panic("commandpath: grammar has no roots")
	}

	g := &Grammar{}
	seen := make(map[string]struct{}, len(roots))
	for _, spec := range roots {
		if _, dup := seen[spec.name]; dup {
			panic(fmt.Sprintf("commandpath: duplicate root %q", spec.name))
		}
		seen[spec.name] = struct{}{}
		g.roots = append(g.roots, buildNode(spec, nil))
	}

	return g
}

func buildNode(spec Spec, parent *node) *node {
	if spec.name == "" {
		panic("commandpath: empty segment name")
	}
	if strings.Contains(spec.name, Delimiter) {
		panic(fmt.Sprintf("commandpath: segment %q contains delimiter %q", spec.name, Delimiter))
	}

	n := &node{name: spec.name, parent: parent}
	seen := make(map[string]struct{}, len(spec.children))
	for _, child := range spec.children {
		if _, dup := seen[child.name]; dup {
			panic(fmt.Sprintf("commandpath: duplicate child %q under %q", child.name, spec.name))
		}
		seen[child.name] = struct{}{}
		n.children = append(n.children, buildNode(child, n))
	}

	return n
}

// Build encodes a root-to-terminal path. The result always parses back to
// the same path.
func (g *Grammar) Build(segments ...string) (string, error) {
	leaf, err := g.lookup(segments)
	if err != nil {
		return "", err
	}
	if !leaf.terminal() {
		return "", fmt.Errorf("%w: %q ends on a non-terminal node", ErrIncompletePath, strings.Join(segments, Delimiter))
	}

	tokens := make([]string, 0, len(segments))
	for n := leaf; n != nil; n = n.parent {
		tokens = append(tokens, n.name)
	}
	for i, j := 0, len(tokens)-1; i < j; i, j = i+1, j-1 {
		tokens[i], tokens[j] = tokens[j], tokens[i]
	}

	return strings.Join(tokens, Delimiter), nil
}

// MustBuild is Build for paths known at compile time.
func (g *Grammar) MustBuild(path Path) string {
	id, err := g.Build(path...)
	if err != nil {
		panic(err)
	}
	return id
}

// Parse decodes a wire identifier. Roots are tried in declaration order and
// the first declared match wins at every level.
func (g *Grammar) Parse(raw string) (Path, error) {
	tokens := strings.Split(raw, Delimiter)

	for _, root := range g.roots {
		path, err := parseNode(root, tokens)
		if errors.Is(err, ErrInvalidPath) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, raw)
		}
		return path, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrInvalidPath, raw)
}

func parseNode(n *node, tokens []string) (Path, error) {
	if tokens[0] != n.name {
		return nil, ErrInvalidPath
	}

	if len(tokens) == 1 {
		if !n.terminal() {
			return nil, ErrIncompletePath
		}
		return Path{n.name}, nil
	}

	for _, child := range n.children {
		rest, err := parseNode(child, tokens[1:])
		if errors.Is(err, ErrInvalidPath) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return append(Path{n.name}, rest...), nil
	}

	return nil, ErrInvalidPath
}

// Terminals lists every root-to-terminal path in declaration order.
func (g *Grammar) Terminals() []Path {
	var out []Path
	var walk func(n *node, prefix Path)
	walk = func(n *node, prefix Path) {
		current := append(append(Path{}, prefix...), n.name)
		if n.terminal() {
			out = append(out, current)
			return
		}
		for _, c := range n.children {
			walk(c, current)
		}
	}
	for _, root := range g.roots {
		walk(root, nil)
	}
	return out
}

func (g *Grammar) lookup(segments []string) (*node, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	var current *node
	for _, root := range g.roots {
		if root.name == segments[0] {
			current = root
			break
		}
	}
	if current == nil {
		return nil, fmt.Errorf("%w: unknown root %q", ErrInvalidPath, segments[0])
	}

	for _, segment := range segments[1:] {
		next := current.child(segment)
		if next == nil {
			return nil, fmt.Errorf("%w: %q has no child %q", ErrInvalidPath, current.name, segment)
		}
		current = next
	}

	return current, nil
}
