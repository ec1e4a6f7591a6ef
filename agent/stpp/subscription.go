package stpp

import (
	"encoding/json"

	metrics "github.com/armon/go-metrics"

	"github.com/mediatree/stpp/agent/stpp/wire"
	"github.com/mediatree/stpp/prop"
)

// subscription tracks one client subscription: the tree handle, the chosen
// encoding, and the two lists of entries exported through it.
type subscription struct {
	id   uint32
	sess *Session
	sub  *prop.Subscription
	enc  encoder

	dirProps   entryList
	valueProps entryList
}

// Wire SUBSCRIBE flag bits forwarded into the tree subscription.
const subFlagValueProp = 0x0001

func propSubFlags(flags uint16) int {
	var f int
	if flags&subFlagValueProp != 0 {
		f |= prop.SubSendValueProp
	}
	return f
}

// cmdSubscribe installs a subscription. A colliding client id is logged
// and dropped without disturbing the existing subscription. An unresolved
// propref still subscribes; the tree handles a missing root by rooting at
// the top.
func (s *Session) cmdSubscribe(id, propref uint32, flags uint16, path []string, enc encoder) {
	if _, ok := s.subs[id]; ok {
		s.logger.Warn("subscription id already exists", "id", id)
		return
	}
	root := s.resolve(propref)

	ss := &subscription{id: id, sess: s, enc: enc}
	s.subs[id] = ss
	ss.sub = s.tree.Subscribe(prop.SubscribeRequest{
		Root:    root,
		Path:    path,
		Flags:   propSubFlags(flags),
		Courier: s.courier,
		Callback: func(ev prop.Event) {
			s.handleTreeEvent(ss, ev)
		},
	})
	metrics.IncrCounter([]string{"stpp", "subscribe"}, 1)
}

// cmdUnsubscribe releases a subscription; unknown ids are a no-op.
func (s *Session) cmdUnsubscribe(id uint32) {
	ss, ok := s.subs[id]
	if !ok {
		return
	}
	s.destroySub(ss)
}

func (s *Session) destroySub(ss *subscription) {
	ss.clearList(&ss.dirProps)
	ss.clearList(&ss.valueProps)
	ss.sub.Unsubscribe()
	delete(s.subs, ss.id)
	metrics.IncrCounter([]string{"stpp", "unsubscribe"}, 1)
}

func (ss *subscription) clearList(list *entryList) {
	for e := list.first(); e != nil; e = list.first() {
		ss.sess.registry.unexport(e, list)
	}
}

// handleTreeEvent translates one tree event into at most one outbound
// frame. Registry bookkeeping happens here, once, so the JSON and binary
// encoders only format.
func (s *Session) handleTreeEvent(ss *subscription, ev prop.Event) {
	switch ev.Kind {
	case prop.EventSetInt, prop.EventSetFloat, prop.EventSetString,
		prop.EventSetVoid, prop.EventSetURI, prop.EventSetDir:
		// The scalar replaces any directory contents; both sides forget
		// the previously exported children without per-child DELs. The
		// value list is left untouched.
		frame, ok := ss.enc.scalar(ss.id, ev)
		if !ok {
			s.logger.Warn("unsupported scalar event for encoding", "kind", ev.Kind)
			return
		}
		ss.clearList(&ss.dirProps)
		ss.enc.send(s, frame)

	case prop.EventAddChild:
		var before uint32
		if ev.Before != nil {
			be := s.registry.tag(ev.Before, ss)
			if be == nil {
				s.logger.Warn("add-before names unexported sibling", "sub", ss.id)
			} else {
				before = be.ID
			}
		}
		e := s.registry.export(ss, ev.Prop, &ss.dirProps)
		selected := ev.Flags&prop.AddSelected != 0
		ss.enc.send(s, ss.enc.addChilds(ss.id, before, []uint32{e.ID}, selected))

	case prop.EventAddChildVector:
		var before uint32
		if ev.Before != nil {
			if be := s.registry.tag(ev.Before, ss); be != nil {
				before = be.ID
			}
		}
		ids := make([]uint32, 0, len(ev.Props))
		for _, p := range ev.Props {
			ids = append(ids, s.registry.export(ss, p, &ss.dirProps).ID)
		}
		ss.enc.send(s, ss.enc.addChilds(ss.id, before, ids, false))

	case prop.EventDelChild:
		e := s.registry.tag(ev.Prop, ss)
		if e == nil {
			s.logger.Warn("delete of unexported child", "sub", ss.id)
			return
		}
		ss.enc.send(s, ss.enc.delChild(ss.id, e.ID))
		s.registry.unexport(e, &ss.dirProps)

	case prop.EventMoveChild:
		e := s.registry.tag(ev.Prop, ss)
		if e == nil {
			s.logger.Warn("move of unexported child", "sub", ss.id)
			return
		}
		var before uint32
		if ev.Before != nil {
			be := s.registry.tag(ev.Before, ss)
			if be == nil {
				s.logger.Warn("move-before names unexported sibling", "sub", ss.id)
				return
			}
			before = be.ID
		}
		ss.enc.send(s, ss.enc.moveChild(ss.id, e.ID, before))

	case prop.EventSelectChild:
		e := s.registry.tag(ev.Prop, ss)
		if e == nil {
			return
		}
		frame, ok := ss.enc.selectChild(ss.id, e.ID)
		if !ok {
			return
		}
		ss.enc.send(s, frame)

	case prop.EventValueProp:
		if cur := ss.valueProps.first(); cur != nil && cur.prop == ev.Prop {
			return
		}
		if !ss.enc.supportsValueProp() {
			s.logger.Warn("value-prop event on non-binary subscription", "sub", ss.id)
			return
		}
		ss.clearList(&ss.valueProps)
		e := s.registry.export(ss, ev.Prop, &ss.valueProps)
		ss.enc.send(s, ss.enc.valueProp(ss.id, e.ID))

	case prop.EventWantMoreChilds:
		// Never forwarded outbound.

	case prop.EventHaveMoreChildsYes, prop.EventHaveMoreChildsNo:
		frame, ok := ss.enc.haveMore(ss.id, ev.Kind == prop.EventHaveMoreChildsYes)
		if !ok {
			return
		}
		ss.enc.send(s, frame)

	default:
		s.logger.Warn("unhandled tree event", "kind", ev.Kind)
	}
}

// encoder formats translated intents for one wire profile. send routes the
// finished frame onto the right opcode channel.
type encoder interface {
	scalar(sub uint32, ev prop.Event) ([]byte, bool)
	addChilds(sub, before uint32, ids []uint32, selected bool) []byte
	delChild(sub, id uint32) []byte
	moveChild(sub, id, before uint32) []byte
	selectChild(sub, id uint32) ([]byte, bool)
	supportsValueProp() bool
	valueProp(sub, id uint32) []byte
	haveMore(sub uint32, yes bool) ([]byte, bool)
	send(s *Session, frame []byte)
}

// binaryEncoder emits NOTIFY frames: command byte, notification tag,
// subscription id LE32, payload.
type binaryEncoder struct{}

func (binaryEncoder) scalar(sub uint32, ev prop.Event) ([]byte, bool) {
	switch ev.Kind {
	case prop.EventSetInt:
		return wire.NewNotify(wire.TagSetInt, sub).U32(uint32(int32(ev.Int))).Bytes(), true
	case prop.EventSetFloat:
		return wire.NewNotify(wire.TagSetFloat, sub).F32(ev.Float).Bytes(), true
	case prop.EventSetString:
		return wire.NewNotify(wire.TagSetString, sub).U8(ev.StrHint).Raw([]byte(ev.Str)).Bytes(), true
	case prop.EventSetVoid:
		return wire.NewNotify(wire.TagSetVoid, sub).Bytes(), true
	case prop.EventSetDir:
		return wire.NewNotify(wire.TagSetDir, sub).Bytes(), true
	}
	// Structured uri values have no binary notification.
	return nil, false
}

func (binaryEncoder) addChilds(sub, before uint32, ids []uint32, selected bool) []byte {
	if before != 0 {
		w := wire.NewNotify(wire.TagAddChildsBefore, sub).U32(before)
		for _, id := range ids {
			w.U32(id)
		}
		return w.Bytes()
	}
	tag := byte(wire.TagAddChilds)
	if selected && len(ids) == 1 {
		tag = wire.TagAddChildSelected
	}
	w := wire.NewNotify(tag, sub)
	for _, id := range ids {
		w.U32(id)
	}
	return w.Bytes()
}

func (binaryEncoder) delChild(sub, id uint32) []byte {
	return wire.NewNotify(wire.TagDelChild, sub).U32(id).Bytes()
}

func (binaryEncoder) moveChild(sub, id, before uint32) []byte {
	w := wire.NewNotify(wire.TagMoveChild, sub).U32(id)
	if before != 0 {
		w.U32(before)
	}
	return w.Bytes()
}

func (binaryEncoder) selectChild(sub, id uint32) ([]byte, bool) {
	return wire.NewNotify(wire.TagSelectChild, sub).U32(id).Bytes(), true
}

func (binaryEncoder) supportsValueProp() bool { return true }

func (binaryEncoder) valueProp(sub, id uint32) []byte {
	return wire.NewNotify(wire.TagValueProp, sub).U32(id).Bytes()
}

func (binaryEncoder) haveMore(sub uint32, yes bool) ([]byte, bool) {
	tag := byte(wire.TagHaveMoreChildsNo)
	if yes {
		tag = wire.TagHaveMoreChildsYes
	}
	return wire.NewNotify(tag, sub).Bytes(), true
}

func (binaryEncoder) send(s *Session, frame []byte) {
	s.sendBinary(frame)
}

// jsonEncoder emits the JSON profile notifications. Select, value-prop and
// have-more notifications have no JSON form.
type jsonEncoder struct{}

func jsonFrame(v []interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func (jsonEncoder) scalar(sub uint32, ev prop.Event) ([]byte, bool) {
	var val interface{}
	switch ev.Kind {
	case prop.EventSetInt:
		val = ev.Int
	case prop.EventSetFloat:
		val = ev.Float
	case prop.EventSetString:
		val = ev.Str
	case prop.EventSetVoid:
		val = nil
	case prop.EventSetURI:
		val = []interface{}{"uri", ev.Str, ev.Aux}
	case prop.EventSetDir:
		val = []interface{}{"dir"}
	default:
		return nil, false
	}
	return jsonFrame([]interface{}{wire.JSONNotifySet, sub, val}), true
}

func (jsonEncoder) addChilds(sub, before uint32, ids []uint32, selected bool) []byte {
	return jsonFrame([]interface{}{wire.JSONNotifyAddChilds, sub, before, ids})
}

func (jsonEncoder) delChild(sub, id uint32) []byte {
	return jsonFrame([]interface{}{wire.JSONNotifyDelChild, sub, []uint32{id}})
}

func (jsonEncoder) moveChild(sub, id, before uint32) []byte {
	return jsonFrame([]interface{}{wire.JSONNotifyMoveChild, sub, id, before})
}

func (jsonEncoder) selectChild(sub, id uint32) ([]byte, bool) { return nil, false }

func (jsonEncoder) supportsValueProp() bool { return false }

func (jsonEncoder) valueProp(sub, id uint32) []byte { return nil }

func (jsonEncoder) haveMore(sub uint32, yes bool) ([]byte, bool) { return nil, false }

func (jsonEncoder) send(s *Session, frame []byte) {
	s.sendText(frame)
}
