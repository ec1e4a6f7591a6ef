// Package stpp implements the server side of the Showtime Property
// Protocol: one stateful session per WebSocket connection, mirroring the
// process-wide property tree to a remote UI client over two parallel
// frame encodings.
//
// All session state is confined to the session's courier goroutine. Frame
// handlers, tree-subscription callbacks, and image-load continuations all
// run there; the only off-courier work is the image fetch itself.
package stpp

import (
	"encoding/json"
	"fmt"
	"strings"

	metrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"

	"github.com/mediatree/stpp/agent/stpp/wire"
	"github.com/mediatree/stpp/imageload"
	"github.com/mediatree/stpp/prop"
	"github.com/mediatree/stpp/task"
)

// FrameSink is the outbound half of the transport. Sends are non-blocking
// enqueues on the connection's write queue; false reports a dead
// transport, which the read loop will notice on its own.
type FrameSink interface {
	SendText(payload []byte) bool
	SendBinary(payload []byte) bool
}

// Config wires a session to its collaborators.
type Config struct {
	Logger   hclog.Logger
	Sink     FrameSink
	Tree     *prop.Tree
	Courier  *task.Courier
	Workers  *task.Pool
	Loader   imageload.Loader
	Instance [16]byte
}

// Session is the per-connection endpoint state. Created on accept,
// destroyed on close. Methods must be called on the session's courier.
type Session struct {
	logger   hclog.Logger
	sink     FrameSink
	tree     *prop.Tree
	courier  *task.Courier
	workers  *task.Pool
	loader   imageload.Loader
	instance [16]byte

	registry  *registry
	subs      map[uint32]*subscription
	imagereqs []*imageReq
	helloed   bool
	dead      bool
}

// NewSession creates a session in the FRESH state: binary frames other
// than HELLO are rejected until the handshake completes, JSON is accepted
// unconditionally.
func NewSession(cfg Config) (*Session, error) {
	reg, err := newRegistry()
	if err != nil {
		return nil, err
	}
	return &Session{
		logger:   cfg.Logger,
		sink:     cfg.Sink,
		tree:     cfg.Tree,
		courier:  cfg.Courier,
		workers:  cfg.Workers,
		loader:   cfg.Loader,
		instance: cfg.Instance,
		registry: reg,
		subs:     make(map[uint32]*subscription),
	}, nil
}

// resolve maps a wire propref id to a property. Id 0 is the tree root; an
// unknown id is a soft error, logged and treated as a missing property.
func (s *Session) resolve(id uint32) *prop.Prop {
	if id == 0 {
		return s.tree.Root()
	}
	e := s.registry.lookup(id)
	if e == nil {
		s.logger.Warn("referring unknown propref", "propref", id)
		return nil
	}
	return e.prop
}

// decodePropref reads an id plus optional name path from r and resolves
// it. A byte-level truncation is a malformed frame; an unknown id yields
// a nil property with no error.
func (s *Session) decodePropref(r *wire.Reader) (*prop.Prop, error) {
	id, path, err := r.Propref()
	if err != nil {
		return nil, err
	}
	p := s.resolve(id)
	if p == nil {
		return nil, nil
	}
	if len(path) > 0 {
		p = p.Descend(path, true)
	}
	return p, nil
}

func (s *Session) sendText(frame []byte) {
	if s.dead || frame == nil {
		return
	}
	metrics.IncrCounter([]string{"stpp", "frames", "out", "text"}, 1)
	s.sink.SendText(frame)
}

func (s *Session) sendBinary(frame []byte) {
	if s.dead || frame == nil {
		return
	}
	metrics.IncrCounter([]string{"stpp", "frames", "out", "binary"}, 1)
	s.sink.SendBinary(frame)
}

// HandleText processes one inbound text frame: a JSON array whose first
// element is the command. Only the reduced subset {SUBSCRIBE, UNSUBSCRIBE,
// SET} exists in the JSON profile; anything else, including unparsable
// JSON, is dropped.
func (s *Session) HandleText(data []byte) error {
	metrics.IncrCounter([]string{"stpp", "frames", "in", "text"}, 1)

	var msg []json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil || len(msg) == 0 {
		s.logger.Debug("unparsable json frame", "err", err)
		return nil
	}
	var cmd int
	if err := json.Unmarshal(msg[0], &cmd); err != nil {
		return nil
	}

	switch cmd {
	case wire.CmdSubscribe:
		var (
			id      uint32
			propref uint32
			path    string
		)
		jsonArg(msg, 1, &id)
		jsonArg(msg, 2, &propref)
		jsonArg(msg, 3, &path)
		s.cmdSubscribe(id, propref, 0, splitPath(path), jsonEncoder{})

	case wire.CmdUnsubscribe:
		var id uint32
		jsonArg(msg, 1, &id)
		s.cmdUnsubscribe(id)

	case wire.CmdSet:
		s.jsonSet(msg)
	}
	return nil
}

// jsonSet applies [SET, propref, path, value]. Numeric and string values
// only; null and bool are ignored, matching the long-standing behaviour
// of the protocol.
func (s *Session) jsonSet(msg []json.RawMessage) {
	var (
		propref uint32
		path    string
	)
	jsonArg(msg, 1, &propref)
	jsonArg(msg, 2, &path)
	if path == "" || len(msg) < 4 {
		return
	}
	p := s.resolve(propref)
	if p == nil {
		return
	}

	raw := strings.TrimSpace(string(msg[3]))
	if raw == "" {
		return
	}
	switch c := raw[0]; {
	case c == '"':
		var str string
		if err := json.Unmarshal(msg[3], &str); err == nil {
			s.tree.SetStringAt(p, path, str)
		}
	case c == '-' || (c >= '0' && c <= '9'):
		var num float64
		if err := json.Unmarshal(msg[3], &num); err != nil {
			return
		}
		// The token's spelling picks the type, as in the original JSON
		// parser: "5" is an int, "5.0" a float.
		if strings.ContainsAny(raw, ".eE") {
			s.tree.SetFloatAt(p, path, float32(num))
		} else {
			s.tree.SetIntAt(p, path, int(num))
		}
	}
	// null and bool values are not accepted; the SET is dropped.
}

func jsonArg(msg []json.RawMessage, idx int, out interface{}) {
	if idx < len(msg) {
		_ = json.Unmarshal(msg[idx], out)
	}
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// HandleBinary processes one inbound binary frame. A returned error is a
// malformed frame; the caller closes the connection.
func (s *Session) HandleBinary(data []byte) error {
	metrics.IncrCounter([]string{"stpp", "frames", "in", "binary"}, 1)

	if len(data) < 1 {
		return wire.ErrMalformedFrame
	}
	cmd := data[0]
	r := wire.NewReader(data[1:])

	if cmd == wire.CmdHello {
		if r.Len() < 2 {
			return wire.ErrMalformedFrame
		}
		s.sendHello()
		s.helloed = true
		return nil
	}
	if !s.helloed {
		s.logger.Warn("binary command before hello", "cmd", cmd)
		return fmt.Errorf("%w: hello required", wire.ErrMalformedFrame)
	}

	switch cmd {
	case wire.CmdSubscribe:
		if r.Len() < 10 {
			return wire.ErrMalformedFrame
		}
		id, _ := r.U32()
		propref, _ := r.U32()
		flags, _ := r.U16()
		var name []string
		if r.Len() > 0 {
			var err error
			if name, err = r.StringVector(); err != nil {
				return err
			}
		}
		s.cmdSubscribe(id, propref, flags, name, binaryEncoder{})

	case wire.CmdUnsubscribe:
		if r.Len() != 4 {
			return wire.ErrMalformedFrame
		}
		id, _ := r.U32()
		s.cmdUnsubscribe(id)

	case wire.CmdSet:
		if err := s.binarySet(r); err != nil {
			return err
		}

	case wire.CmdEvent:
		if err := s.binaryEvent(r); err != nil {
			return err
		}

	case wire.CmdReqMove:
		if r.Len() < 4 {
			return wire.ErrMalformedFrame
		}
		id, _ := r.U32()
		p := s.resolve(id)
		var before *prop.Prop
		if r.Len() == 4 {
			beforeID, _ := r.U32()
			if beforeID != 0 {
				before = s.resolve(beforeID)
			}
		}
		s.tree.ReqMove(p, before)

	case wire.CmdWantMoreChilds:
		if r.Len() != 4 {
			return wire.ErrMalformedFrame
		}
		id, _ := r.U32()
		if ss, ok := s.subs[id]; ok {
			ss.sub.WantMoreChilds()
		}

	case wire.CmdSelect:
		p, err := s.decodePropref(r)
		if err != nil {
			return err
		}
		if p != nil {
			p.Select()
		}

	case wire.CmdImageLoad:
		if err := s.cmdImageLoad(r); err != nil {
			return err
		}

	case wire.CmdImageCancel:
		if r.Len() < 4 {
			return wire.ErrMalformedFrame
		}
		id, _ := r.U32()
		s.cmdImageCancel(id)

	default:
		s.logger.Error("received bad command", "cmd", fmt.Sprintf("0x%x", cmd))
		return wire.ErrMalformedFrame
	}
	return nil
}

// binarySet applies a SET frame: propref, value tag, value. A value tag
// with the wrong length drops the SET silently.
func (s *Session) binarySet(r *wire.Reader) error {
	p, err := s.decodePropref(r)
	if err != nil {
		return err
	}
	if p == nil || r.Len() < 1 {
		return nil
	}
	tag, _ := r.U8()
	switch tag {
	case wire.TagSetString:
		if r.Len() < 1 {
			return nil
		}
		hint, _ := r.U8()
		p.SetStringHint(r.RestString(), hint)
	case wire.TagSetInt:
		if r.Len() != 4 {
			return nil
		}
		v, _ := r.U32()
		p.SetInt(int(int32(v)))
	case wire.TagToggleInt:
		p.ToggleInt()
	case wire.TagSetVoid:
		p.SetVoid()
	case wire.TagSetFloat:
		if r.Len() != 4 {
			return nil
		}
		v, _ := r.F32()
		p.SetFloat(v)
	}
	return nil
}

func (s *Session) sendHello() {
	w := wire.NewWriter()
	w.U8(wire.CmdHello)
	w.U8(wire.Version)
	w.Raw(s.instance[:])
	w.U8(0) // flags
	s.sendBinary(w.Bytes())
}

// Close tears the session down: every subscription is destroyed (which
// unexports all entries), the id index must come out empty, and in-flight
// image requests are orphaned so their continuations discard the result.
// Runs on the courier; the transport is already gone.
func (s *Session) Close() {
	for _, ss := range s.subs {
		s.destroySub(ss)
	}
	if n := s.registry.size(); n != 0 {
		panic(fmt.Sprintf("stpp: %d exported ids survived teardown", n))
	}
	for _, req := range s.imagereqs {
		req.sess = nil
	}
	s.imagereqs = nil
	s.dead = true
	metrics.IncrCounter([]string{"stpp", "sessions", "closed"}, 1)
}
