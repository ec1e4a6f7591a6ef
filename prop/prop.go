// Package prop implements the reactive property tree the STPP endpoint
// exports to remote UI clients. Nodes hold either a scalar value or an
// ordered directory of children. Subscriptions observe a node and receive
// change events on a courier, so each observer sees a serialised view of
// the tree no matter which goroutine mutated it.
package prop

import (
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Tree is a rooted property graph. One tree is shared by all sessions of a
// process. A single mutex guards the whole tree; events are enqueued on the
// subscriber couriers while the lock is held so per-subscription ordering
// matches mutation order.
type Tree struct {
	mu     sync.Mutex
	root   *Prop
	logger hclog.Logger
}

// NewTree returns a tree with an empty root directory.
func NewTree(logger hclog.Logger) *Tree {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	t := &Tree{logger: logger}
	t.root = t.newProp("", nil)
	t.root.kind = kindDir
	return t
}

// Root returns the tree root. It is always a directory.
func (t *Tree) Root() *Prop {
	return t.root
}

func (t *Tree) newProp(name string, parent *Prop) *Prop {
	return &Prop{
		tree:   t,
		name:   name,
		parent: parent,
	}
}

type kind int

const (
	kindVoid kind = iota
	kindInt
	kindFloat
	kindString
	kindURI
	kindDir
)

// Prop is a single node. All fields are guarded by the owning tree's mutex.
type Prop struct {
	tree   *Tree
	name   string
	parent *Prop

	kind     kind
	ival     int
	fval     float32
	sval     string
	svHint   byte
	uriTitle string

	children    []*Prop
	selected    *Prop
	canHaveMore bool

	subs    []*Subscription
	tags    map[interface{}]interface{}
	eventFn func(interface{})
}

func (p *Prop) Name() string {
	return p.name
}

// Path returns a dotted path from the root, for logging.
func (p *Prop) Path() string {
	p.tree.mu.Lock()
	defer p.tree.mu.Unlock()
	var parts []string
	for n := p; n != nil && n.parent != nil; n = n.parent {
		parts = append([]string{n.name}, parts...)
	}
	return strings.Join(parts, ".")
}

// Descend resolves a name vector below p, creating missing nodes when
// create is set. Created intermediates become directories as children are
// attached to them. Returns nil when a segment is missing and create is
// unset.
func (p *Prop) Descend(path []string, create bool) *Prop {
	p.tree.mu.Lock()
	defer p.tree.mu.Unlock()
	return p.descendLocked(path, create)
}

func (p *Prop) descendLocked(path []string, create bool) *Prop {
	n := p
	for _, name := range path {
		if name == "" {
			continue
		}
		c := n.childByNameLocked(name)
		if c == nil {
			if !create {
				return nil
			}
			c = n.addChildLocked(name, nil, 0)
		}
		n = c
	}
	return n
}

func (p *Prop) childByNameLocked(name string) *Prop {
	for _, c := range p.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// Children returns the current child list in order.
func (p *Prop) Children() []*Prop {
	p.tree.mu.Lock()
	defer p.tree.mu.Unlock()
	out := make([]*Prop, len(p.children))
	copy(out, p.children)
	return out
}

// scalar setters

func (p *Prop) SetInt(v int) {
	p.setScalar(func(n *Prop) Event {
		n.kind, n.ival = kindInt, v
		return Event{Kind: EventSetInt, Int: v}
	})
}

// ToggleInt flips the current integer value between zero and one. A
// non-int node becomes int 1.
func (p *Prop) ToggleInt() {
	p.setScalar(func(n *Prop) Event {
		v := 1
		if n.kind == kindInt && n.ival != 0 {
			v = 0
		}
		n.kind, n.ival = kindInt, v
		return Event{Kind: EventSetInt, Int: v}
	})
}

func (p *Prop) SetFloat(v float32) {
	p.setScalar(func(n *Prop) Event {
		n.kind, n.fval = kindFloat, v
		return Event{Kind: EventSetFloat, Float: v}
	})
}

func (p *Prop) SetString(s string) {
	p.SetStringHint(s, 0)
}

// SetStringHint sets a string value with a client-visible type hint byte
// (plain, rich, …) that travels with SET_STRING notifications.
func (p *Prop) SetStringHint(s string, hint byte) {
	p.setScalar(func(n *Prop) Event {
		n.kind, n.sval, n.svHint = kindString, s, hint
		return Event{Kind: EventSetString, Str: s, StrHint: hint}
	})
}

// SetURI sets a structured uri value: a display title plus the uri itself.
func (p *Prop) SetURI(title, uri string) {
	p.setScalar(func(n *Prop) Event {
		n.kind, n.uriTitle, n.sval = kindURI, title, uri
		return Event{Kind: EventSetURI, Str: title, Aux: uri}
	})
}

func (p *Prop) SetVoid() {
	p.setScalar(func(n *Prop) Event {
		n.kind = kindVoid
		return Event{Kind: EventSetVoid}
	})
}

// setScalar applies mut under the tree lock and fans the resulting event
// out to the node's subscriptions. Replacing a directory with a scalar
// drops the children; subscribers learn this from the scalar notification
// itself, no per-child delete is sent.
func (p *Prop) setScalar(mut func(*Prop) Event) {
	t := p.tree
	t.mu.Lock()
	if p.kind == kindDir {
		for _, c := range p.children {
			c.parent = nil
		}
		p.children = nil
		p.selected = nil
	}
	ev := mut(p)
	p.notifyLocked(ev)
	t.mu.Unlock()
}

// AddChild appends a named child and returns it. A scalar node silently
// becomes a directory; its subscribers see SET_DIR before the add.
func (p *Prop) AddChild(name string) *Prop {
	t := p.tree
	t.mu.Lock()
	c := p.addChildLocked(name, nil, 0)
	t.mu.Unlock()
	return c
}

// AddChildBefore inserts a named child in front of before. A nil before
// appends.
func (p *Prop) AddChildBefore(name string, before *Prop) *Prop {
	t := p.tree
	t.mu.Lock()
	c := p.addChildLocked(name, before, 0)
	t.mu.Unlock()
	return c
}

// AddSelected marks the child as the directory selection at insert time.
const AddSelected = 1 << 0

// AddChildFlags inserts with insertion flags.
func (p *Prop) AddChildFlags(name string, before *Prop, flags int) *Prop {
	t := p.tree
	t.mu.Lock()
	c := p.addChildLocked(name, before, flags)
	t.mu.Unlock()
	return c
}

// AddChildren appends several children at once. Subscribers receive a
// single vector event naming all of them left to right.
func (p *Prop) AddChildren(names []string) []*Prop {
	t := p.tree
	t.mu.Lock()
	p.becomeDirLocked()
	out := make([]*Prop, 0, len(names))
	for _, name := range names {
		c := t.newProp(name, p)
		p.children = append(p.children, c)
		out = append(out, c)
	}
	p.notifyLocked(Event{Kind: EventAddChildVector, Props: out})
	t.mu.Unlock()
	return out
}

func (p *Prop) addChildLocked(name string, before *Prop, flags int) *Prop {
	p.becomeDirLocked()
	c := p.tree.newProp(name, p)
	if before == nil {
		p.children = append(p.children, c)
	} else {
		idx := p.indexOfLocked(before)
		if idx < 0 {
			p.children = append(p.children, c)
			before = nil
		} else {
			p.children = append(p.children[:idx],
				append([]*Prop{c}, p.children[idx:]...)...)
		}
	}
	if flags&AddSelected != 0 {
		p.selected = c
	}
	p.notifyLocked(Event{Kind: EventAddChild, Prop: c, Before: before, Flags: flags})
	return c
}

func (p *Prop) becomeDirLocked() {
	if p.kind == kindDir {
		return
	}
	p.kind = kindDir
	p.notifyLocked(Event{Kind: EventSetDir})
}

func (p *Prop) indexOfLocked(c *Prop) int {
	for i, n := range p.children {
		if n == c {
			return i
		}
	}
	return -1
}

// Destroy removes p from its parent. Subscribers of the parent receive
// DEL_CHILD.
func (p *Prop) Destroy() {
	t := p.tree
	t.mu.Lock()
	defer t.mu.Unlock()
	parent := p.parent
	if parent == nil {
		return
	}
	idx := parent.indexOfLocked(p)
	if idx < 0 {
		return
	}
	parent.children = append(parent.children[:idx], parent.children[idx+1:]...)
	if parent.selected == p {
		parent.selected = nil
	}
	p.parent = nil
	parent.notifyLocked(Event{Kind: EventDelChild, Prop: p})
}

// MoveBefore reorders p in front of before within its parent; a nil before
// moves it to the end.
func (p *Prop) MoveBefore(before *Prop) {
	t := p.tree
	t.mu.Lock()
	defer t.mu.Unlock()
	parent := p.parent
	if parent == nil || p == before {
		return
	}
	idx := parent.indexOfLocked(p)
	if idx < 0 {
		return
	}
	parent.children = append(parent.children[:idx], parent.children[idx+1:]...)
	if before == nil {
		parent.children = append(parent.children, p)
	} else {
		bidx := parent.indexOfLocked(before)
		if bidx < 0 {
			parent.children = append(parent.children, p)
			before = nil
		} else {
			parent.children = append(parent.children[:bidx],
				append([]*Prop{p}, parent.children[bidx:]...)...)
		}
	}
	parent.notifyLocked(Event{Kind: EventMoveChild, Prop: p, Before: before})
}

// ReqMove asks the owner of p's directory to move p in front of before.
// The tree is owned in-process, so the request is honored directly.
func (t *Tree) ReqMove(p, before *Prop) {
	if p == nil {
		t.logger.Warn("move request for unresolved property")
		return
	}
	p.MoveBefore(before)
}

// Select marks p as the selection of its parent directory.
func (p *Prop) Select() {
	t := p.tree
	t.mu.Lock()
	defer t.mu.Unlock()
	parent := p.parent
	if parent == nil {
		return
	}
	parent.selected = p
	parent.notifyLocked(Event{Kind: EventSelectChild, Prop: p})
}

// SetCanHaveMore records whether the directory can produce more children
// on demand; WANT_MORE_CHILDS requests are answered from it.
func (p *Prop) SetCanHaveMore(v bool) {
	p.tree.mu.Lock()
	p.canHaveMore = v
	p.tree.mu.Unlock()
}

// Tags associate per-observer opaque values with a node. A session uses
// them to recover its exported entry for a property in O(1) when the tree
// names the property in a DEL or MOVE event.

func (p *Prop) TagSet(key, val interface{}) {
	p.tree.mu.Lock()
	if p.tags == nil {
		p.tags = make(map[interface{}]interface{})
	}
	p.tags[key] = val
	p.tree.mu.Unlock()
}

func (p *Prop) TagGet(key interface{}) interface{} {
	p.tree.mu.Lock()
	defer p.tree.mu.Unlock()
	return p.tags[key]
}

// TagClear removes and returns the tag for key.
func (p *Prop) TagClear(key interface{}) interface{} {
	p.tree.mu.Lock()
	defer p.tree.mu.Unlock()
	v, ok := p.tags[key]
	if ok {
		delete(p.tags, key)
	}
	return v
}

// SetEventHandler registers the receiver for external UI events sent to p
// or any descendant without a handler of its own.
func (p *Prop) SetEventHandler(fn func(interface{})) {
	p.tree.mu.Lock()
	p.eventFn = fn
	p.tree.mu.Unlock()
}

// SendEvent delivers an external event to the nearest handler at or above
// p. Events with no handler anywhere are dropped with a debug log.
func (t *Tree) SendEvent(p *Prop, ev interface{}) {
	t.mu.Lock()
	var fn func(interface{})
	for n := p; n != nil; n = n.parent {
		if n.eventFn != nil {
			fn = n.eventFn
			break
		}
	}
	t.mu.Unlock()
	if fn == nil {
		t.logger.Debug("external event with no handler", "prop", p.name)
		return
	}
	fn(ev)
}

// Dotted-path setters, used by the JSON SET command which carries a path
// string instead of a name vector.

func (t *Tree) SetIntAt(root *Prop, path string, v int) {
	if n := t.atPath(root, path); n != nil {
		n.SetInt(v)
	}
}

func (t *Tree) SetFloatAt(root *Prop, path string, v float32) {
	if n := t.atPath(root, path); n != nil {
		n.SetFloat(v)
	}
}

func (t *Tree) SetStringAt(root *Prop, path string, s string) {
	if n := t.atPath(root, path); n != nil {
		n.SetString(s)
	}
}

func (t *Tree) atPath(root *Prop, path string) *Prop {
	if root == nil || path == "" {
		return nil
	}
	return root.Descend(strings.Split(path, "."), true)
}
