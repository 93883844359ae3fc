package trie

import (
	"errors"
	"fmt"
	"strings"

	"github.com/appsworld/go-linkedit/pkg/leb128"
)

var (
	// ErrNotFound is returned when a key is not present in the trie
	ErrNotFound = errors.New("symbol not in trie")
	// ErrMalformed is returned when node edges violate the trie's structure
	ErrMalformed = errors.New("malformed trie")
)

// rootChildOffsetReserve is how many bytes ld reserves for each child offset of
// the root node: enough for any uint32 offset as ULEB128.
const rootChildOffsetReserve = 5

// Payload decodes the terminal payload of one node.
// The cursor is bounded to the terminal region of the node.
type Payload interface {
	Read(c *leb128.Cursor) error
}

// Child is one outgoing edge of a node
type Child struct {
	Label  string
	Offset uint64 // from the start of the trie
}

// Node is one decoded trie node
type Node[T any] struct {
	Offset       int
	TerminalSize uint64
	Content      *T // nil when TerminalSize == 0
	Children     []Child
}

// IsTerminal reports whether a symbol ends at this node
func (n Node[T]) IsTerminal() bool {
	return n.TerminalSize != 0
}

// Symbol is a terminal node together with the name spelled by the path to it
type Symbol[T any] struct {
	Name    string
	Offset  int
	Content T
}

type Option func(*options)

type options struct {
	rootPadding bool
}

// WithRootPadding enables the root node size correction for tries emitted by
// linkers that reserve a fixed 5 bytes per root child offset (dyld-1122.1 and later).
// The correction only affects sequential iteration with Nodes.
func WithRootPadding(enabled bool) Option {
	return func(o *options) {
		o.rootPadding = enabled
	}
}

// Tree is a prefix trie serialized in the dyld export trie layout.
// P is the payload decoder for terminal nodes.
type Tree[T any, P interface {
	*T
	Payload
}] struct {
	data []byte
	opts options
}

// New returns a Tree over data
func New[T any, P interface {
	*T
	Payload
}](data []byte, opts ...Option) *Tree[T, P] {
	t := &Tree[T, P]{data: data}
	for _, opt := range opts {
		opt(&t.opts)
	}
	return t
}

// Size returns the size of the serialized trie
func (t *Tree[T, P]) Size() int { return len(t.data) }

// Node decodes the node at off
func (t *Tree[T, P]) Node(off int) (*Node[T], error) {
	n, _, err := t.readNode(off)
	return n, err
}

// readNode decodes the node at off and returns the offset just past its children
func (t *Tree[T, P]) readNode(off int) (*Node[T], int, error) {
	c := leb128.NewCursor(t.data)
	if err := c.Seek(off); err != nil {
		return nil, 0, fmt.Errorf("node offset %#x: %w", off, err)
	}

	terminalSize, err := c.Uleb128()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read terminal size of node %#x: %w", off, err)
	}

	node := &Node[T]{
		Offset:       off,
		TerminalSize: terminalSize,
	}

	childrenOffset := uint64(c.Offset()) + terminalSize
	if childrenOffset > uint64(len(t.data)) {
		return nil, 0, fmt.Errorf("terminal of node %#x (size %#x) runs past end of trie: %w", off, terminalSize, leb128.ErrTruncated)
	}

	if terminalSize != 0 {
		tc := leb128.NewCursor(t.data[:childrenOffset])
		if err := tc.Seek(c.Offset()); err != nil {
			return nil, 0, err
		}
		content := new(T)
		if err := P(content).Read(tc); err != nil {
			return nil, 0, fmt.Errorf("failed to read terminal of node %#x: %w", off, err)
		}
		node.Content = content
	}

	if childrenOffset >= uint64(len(t.data)) {
		return node, len(t.data), nil
	}

	if err := c.Seek(int(childrenOffset)); err != nil {
		return nil, 0, err
	}
	childCount, err := c.Uint8()
	if err != nil {
		return nil, 0, err
	}
	for i := 0; i < int(childCount); i++ {
		label, err := c.CString()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read edge %d label of node %#x: %w", i, off, err)
		}
		childOffset, err := c.Uleb128()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read edge %d offset of node %#x: %w", i, off, err)
		}
		node.Children = append(node.Children, Child{Label: label, Offset: childOffset})
	}

	return node, c.Offset(), nil
}

// child resolves an edge of parent, enforcing forward-only offsets
func (t *Tree[T, P]) child(parent *Node[T], edge Child) (*Node[T], error) {
	if edge.Offset <= uint64(parent.Offset) || edge.Offset >= uint64(len(t.data)) {
		return nil, fmt.Errorf("edge %q of node %#x points to %#x: %w", edge.Label, parent.Offset, edge.Offset, ErrMalformed)
	}
	return t.Node(int(edge.Offset))
}

// NodeIterator walks the nodes that are laid out contiguously from offset 0.
// Some tries contain padding between nodes so this may not visit every node;
// use Entries for a complete traversal.
type NodeIterator[T any, P interface {
	*T
	Payload
}] struct {
	t    *Tree[T, P]
	next int
	cur  *Node[T]
	err  error
}

// Nodes returns a sequential iterator over the trie
func (t *Tree[T, P]) Nodes() *NodeIterator[T, P] {
	return &NodeIterator[T, P]{t: t}
}

// Next decodes the next node. It returns false at the end of the trie or on error.
func (it *NodeIterator[T, P]) Next() bool {
	if it.err != nil || it.next >= len(it.t.data) {
		return false
	}
	isRoot := it.next == 0
	node, next, err := it.t.readNode(it.next)
	if err != nil {
		it.err = err
		return false
	}
	if isRoot && it.t.opts.rootPadding {
		for _, child := range node.Children {
			next -= leb128.UlebSize(child.Offset)
		}
		next += rootChildOffsetReserve * len(node.Children)
	}
	it.cur = node
	it.next = next
	return true
}

func (it *NodeIterator[T, P]) Node() *Node[T] { return it.cur }
func (it *NodeIterator[T, P]) Err() error      { return it.err }

// Entries returns every node reachable from the root in depth first order
func (t *Tree[T, P]) Entries() ([]*Node[T], error) {
	if len(t.data) == 0 {
		return nil, nil
	}
	root, err := t.Node(0)
	if err != nil {
		return nil, err
	}

	var entries []*Node[T]
	stack := []*Node[T]{root}
	for len(stack) > 0 {
		var node *Node[T]
		node, stack = stack[len(stack)-1], stack[:len(stack)-1]
		entries = append(entries, node)
		if len(entries) > len(t.data) {
			return nil, fmt.Errorf("more nodes than bytes in trie: %w", ErrMalformed)
		}
		// push in reverse so children pop in edge order
		for i := len(node.Children) - 1; i >= 0; i-- {
			child, err := t.child(node, node.Children[i])
			if err != nil {
				return nil, err
			}
			stack = append(stack, child)
		}
	}

	return entries, nil
}

type pendingNode[T any] struct {
	node *Node[T]
	name string
}

// collect gathers every terminal below start, prefixing names with name
func (t *Tree[T, P]) collect(start *Node[T], name string) ([]Symbol[T], error) {
	var syms []Symbol[T]
	visited := 0
	stack := []pendingNode[T]{{node: start, name: name}}
	for len(stack) > 0 {
		var pn pendingNode[T]
		pn, stack = stack[len(stack)-1], stack[:len(stack)-1]
		if visited++; visited > len(t.data) {
			return nil, fmt.Errorf("more nodes than bytes in trie: %w", ErrMalformed)
		}
		if pn.node.Content != nil {
			syms = append(syms, Symbol[T]{
				Name:    pn.name,
				Offset:  pn.node.Offset,
				Content: *pn.node.Content,
			})
		}
		for i := len(pn.node.Children) - 1; i >= 0; i-- {
			edge := pn.node.Children[i]
			child, err := t.child(pn.node, edge)
			if err != nil {
				return nil, err
			}
			stack = append(stack, pendingNode[T]{node: child, name: pn.name + edge.Label})
		}
	}
	return syms, nil
}

// Symbols returns every terminal in the trie with its full name
func (t *Tree[T, P]) Symbols() ([]Symbol[T], error) {
	if len(t.data) == 0 {
		return nil, nil
	}
	root, err := t.Node(0)
	if err != nil {
		return nil, err
	}
	return t.collect(root, "")
}

// Search looks up key and returns its terminal payload
func (t *Tree[T, P]) Search(key string) (*Symbol[T], error) {
	if len(key) == 0 || len(t.data) == 0 {
		return nil, ErrNotFound
	}

	current, err := t.Node(0)
	if err != nil {
		return nil, err
	}

	var currentLabel string
	for {
		var (
			edge  Child
			found bool
		)
		for _, child := range current.Children {
			if strings.HasPrefix(key, currentLabel+child.Label) {
				edge = child
				found = true
				break
			}
		}
		if !found {
			return nil, ErrNotFound
		}

		currentLabel += edge.Label
		current, err = t.child(current, edge)
		if err != nil {
			return nil, err
		}

		if key == currentLabel {
			if current.Content == nil {
				return nil, ErrNotFound
			}
			return &Symbol[T]{
				Name:    key,
				Offset:  current.Offset,
				Content: *current.Content,
			}, nil
		}
	}
}

// PrefixSearch returns every terminal whose name starts with prefix
func (t *Tree[T, P]) PrefixSearch(prefix string) ([]Symbol[T], error) {
	if len(t.data) == 0 {
		return nil, nil
	}

	current, err := t.Node(0)
	if err != nil {
		return nil, err
	}

	var matched string
	for len(matched) < len(prefix) {
		var (
			edge  Child
			found bool
		)
		for _, child := range current.Children {
			label := matched + child.Label
			if strings.HasPrefix(prefix, label) || strings.HasPrefix(label, prefix) {
				edge = child
				found = true
				break
			}
		}
		if !found {
			return nil, nil
		}
		current, err = t.child(current, edge)
		if err != nil {
			return nil, err
		}
		matched += edge.Label
	}

	return t.collect(current, matched)
}
