package prop

import (
	"github.com/mediatree/stpp/task"
)

// EventKind enumerates tree change events as delivered to subscriptions.
type EventKind int

const (
	EventSetInt EventKind = iota + 1
	EventSetFloat
	EventSetString
	EventSetVoid
	EventSetURI
	EventSetDir
	EventAddChild
	EventAddChildVector
	EventDelChild
	EventMoveChild
	EventSelectChild
	EventValueProp
	EventWantMoreChilds
	EventHaveMoreChildsYes
	EventHaveMoreChildsNo
)

// Event is one tree change. Which fields are set depends on Kind:
// scalars carry Int/Float/Str (+StrHint, Aux for uri), child ops carry
// Prop/Props and an optional Before, AddChild also carries insert Flags.
type Event struct {
	Kind    EventKind
	Int     int
	Float   float32
	Str     string
	Aux     string
	StrHint byte
	Prop    *Prop
	Props   []*Prop
	Before  *Prop
	Flags   int
}

// Subscription flags.
const (
	// SubSendValueProp asks for VALUE_PROP indirection events instead of
	// decoded scalar values.
	SubSendValueProp = 1 << 0
)

// SubscribeRequest names a subtree to observe. Root nil means the tree
// root; Path descends from it, creating missing nodes so a subscription
// can be installed ahead of the data it watches.
type SubscribeRequest struct {
	Root     *Prop
	Path     []string
	Flags    int
	Courier  *task.Courier
	Callback func(Event)
}

// Subscription is a live observer of one node. Release it with
// Unsubscribe; events already queued on the courier after that are
// discarded at delivery.
type Subscription struct {
	tree  *Tree
	node  *Prop
	flags int

	courier *task.Courier
	cb      func(Event)

	active bool
}

// Subscribe installs a subscription and synchronously queues the initial
// state: the current scalar value, or SET_DIR plus the existing children
// for a directory.
func (t *Tree) Subscribe(req SubscribeRequest) *Subscription {
	root := req.Root
	if root == nil {
		root = t.root
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	node := root.descendLocked(req.Path, true)
	s := &Subscription{
		tree:    t,
		node:    node,
		flags:   req.Flags,
		courier: req.Courier,
		cb:      req.Callback,
		active:  true,
	}
	node.subs = append(node.subs, s)
	s.initialSyncLocked()
	return s
}

// Node returns the observed property.
func (s *Subscription) Node() *Prop {
	return s.node
}

// Unsubscribe detaches the subscription. Idempotent.
func (s *Subscription) Unsubscribe() {
	t := s.tree
	t.mu.Lock()
	defer t.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	subs := s.node.subs
	for i, n := range subs {
		if n == s {
			s.node.subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// WantMoreChilds asks the directory owner for another page of children.
// The answer is delivered to this subscription only.
func (s *Subscription) WantMoreChilds() {
	t := s.tree
	t.mu.Lock()
	defer t.mu.Unlock()
	if !s.active {
		return
	}
	kind := EventHaveMoreChildsNo
	if s.node.canHaveMore {
		kind = EventHaveMoreChildsYes
	}
	s.postLocked(Event{Kind: kind})
}

func (s *Subscription) initialSyncLocked() {
	n := s.node
	if s.flags&SubSendValueProp != 0 && n.kind != kindDir {
		s.postLocked(Event{Kind: EventValueProp, Prop: n})
		return
	}
	switch n.kind {
	case kindInt:
		s.postLocked(Event{Kind: EventSetInt, Int: n.ival})
	case kindFloat:
		s.postLocked(Event{Kind: EventSetFloat, Float: n.fval})
	case kindString:
		s.postLocked(Event{Kind: EventSetString, Str: n.sval, StrHint: n.svHint})
	case kindURI:
		s.postLocked(Event{Kind: EventSetURI, Str: n.uriTitle, Aux: n.sval})
	case kindDir:
		s.postLocked(Event{Kind: EventSetDir})
		if len(n.children) > 0 {
			props := make([]*Prop, len(n.children))
			copy(props, n.children)
			s.postLocked(Event{Kind: EventAddChildVector, Props: props})
		}
		if n.selected != nil {
			s.postLocked(Event{Kind: EventSelectChild, Prop: n.selected})
		}
	default:
		s.postLocked(Event{Kind: EventSetVoid})
	}
}

// notifyLocked fans ev out to every subscription on p. Called with the
// tree lock held so courier queues see mutations in tree order.
func (p *Prop) notifyLocked(ev Event) {
	for _, s := range p.subs {
		s.postLocked(s.translateLocked(ev))
	}
}

// translateLocked rewrites scalar sets into VALUE_PROP indirection for
// subscriptions that asked for it.
func (s *Subscription) translateLocked(ev Event) Event {
	if s.flags&SubSendValueProp == 0 {
		return ev
	}
	switch ev.Kind {
	case EventSetInt, EventSetFloat, EventSetString, EventSetVoid, EventSetURI:
		return Event{Kind: EventValueProp, Prop: s.node}
	}
	return ev
}

func (s *Subscription) postLocked(ev Event) {
	if s.courier == nil {
		// Test convenience: deliver inline. Callbacks must not call back
		// into the tree.
		if s.active {
			s.cb(ev)
		}
		return
	}
	s.courier.Run(func() {
		if s.alive() {
			s.cb(ev)
		}
	})
}

func (s *Subscription) alive() bool {
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	return s.active
}
