package stpp

import (
	"github.com/mediatree/stpp/agent/stpp/wire"
	"github.com/mediatree/stpp/event"
)

// binaryEvent decodes an EVENT frame and submits the typed event to the
// tree. The target propref must decode; an unknown id drops the event,
// truncated propref bytes are a malformed frame. Payload decode failures
// inside the event drop it cleanly.
func (s *Session) binaryEvent(r *wire.Reader) error {
	p, err := s.decodePropref(r)
	if err != nil {
		return err
	}
	etype, err := r.U8()
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}

	ev := s.decodeEvent(etype, r)
	if ev == nil {
		return nil
	}
	s.tree.SendEvent(p, ev)
	return nil
}

func (s *Session) decodeEvent(etype byte, r *wire.Reader) interface{} {
	switch etype {
	case wire.EventActionVector:
		vec, err := r.StringVector()
		if err != nil {
			return nil
		}
		actions := make([]event.ActionCode, 0, len(vec))
		for _, name := range vec {
			actions = append(actions, event.ActionFromString(name))
		}
		return &event.ActionMulti{Actions: actions}

	case wire.EventOpenURL:
		return s.decodeOpenURL(r)

	case wire.EventPlayTrack:
		flags, err := r.U8()
		if err != nil {
			return nil
		}
		track, err := s.decodePropref(r)
		if err != nil || track == nil {
			return nil
		}
		e := &event.PlayTrack{Track: track}
		if flags&0x01 != 0 {
			model, err := s.decodePropref(r)
			if err != nil {
				return nil
			}
			e.SourceModel = model
		}
		if r.Len() > 0 {
			e.Mode, _ = r.U8()
		}
		return e

	case wire.EventDynamicAction:
		return &event.DynamicAction{Name: r.RestString()}

	case wire.EventSelectAudioTrack, wire.EventSelectSubtitleTrack:
		flags, err := r.U8()
		if err != nil {
			return nil
		}
		id, err := r.String()
		if err != nil {
			return nil
		}
		kind := event.AudioTrack
		if etype == wire.EventSelectSubtitleTrack {
			kind = event.SubtitleTrack
		}
		return &event.SelectTrack{Kind: kind, ID: id, Manual: flags&0x01 != 0}

	default:
		s.logger.Warn("can't handle event type", "type", etype)
		return nil
	}
}

// decodeOpenURL reads the flag-guarded OPENURL payload. Any conditionally
// present field that fails to decode clears the flags so the event is
// dropped cleanly with whatever partial payload was read.
func (s *Session) decodeOpenURL(r *wire.Reader) interface{} {
	flags, err := r.U8()
	if err != nil {
		return nil
	}
	e := &event.OpenURL{}

	if flags&0x01 != 0 {
		if e.URL, err = r.String(); err != nil {
			flags = 0
		}
	}
	if flags&0x02 != 0 {
		if e.View, err = r.String(); err != nil {
			flags = 0
		}
	}
	if flags&0x04 != 0 {
		if e.ItemModel, err = s.decodePropref(r); err != nil || e.ItemModel == nil {
			flags = 0
		}
	}
	if flags&0x08 != 0 {
		if e.ParentModel, err = s.decodePropref(r); err != nil || e.ParentModel == nil {
			flags = 0
		}
	}
	if flags&0x10 != 0 {
		if e.How, err = r.String(); err != nil {
			flags = 0
		}
	}
	if flags&0x20 != 0 {
		if e.ParentURL, err = r.String(); err != nil {
			flags = 0
		}
	}
	if flags == 0 {
		return nil
	}
	return e
}
