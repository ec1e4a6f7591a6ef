package agent

import (
	"net/http"
	"sync"
	"sync/atomic"

	metrics "github.com/armon/go-metrics"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/mediatree/stpp/agent/stpp"
	"github.com/mediatree/stpp/task"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The endpoint serves local UI frontends; origin policy is left to
	// whatever sits in front of the agent.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// maxFrameSize bounds a single inbound frame.
const maxFrameSize = 1 << 20

// handleSTPP upgrades the connection and runs one session until the peer
// goes away. The read loop feeds frames onto the session courier; a
// malformed frame closes the connection, which unwinds through teardown.
func (a *Agent) handleSTPP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	logger := a.logger.Named("stpp").With("peer", conn.RemoteAddr().String())
	courier := task.NewCourier(logger)
	sink := newWSSink(logger, conn)

	sess, err := stpp.NewSession(stpp.Config{
		Logger:   logger,
		Sink:     sink,
		Tree:     a.tree,
		Courier:  courier,
		Workers:  a.workers,
		Loader:   a.loader,
		Instance: a.instance,
	})
	if err != nil {
		logger.Error("session setup failed", "error", err)
		conn.Close()
		courier.Close()
		return
	}

	atomic.AddInt32(&a.sessions, 1)
	metrics.IncrCounter([]string{"stpp", "sessions", "accepted"}, 1)
	logger.Debug("session accepted")

	conn.SetReadLimit(maxFrameSize)
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		switch mt {
		case websocket.TextMessage:
			courier.Run(func() {
				if err := sess.HandleText(data); err != nil {
					logger.Warn("closing session", "error", err)
					conn.Close()
				}
			})
		case websocket.BinaryMessage:
			courier.Run(func() {
				if err := sess.HandleBinary(data); err != nil {
					logger.Warn("closing session", "error", err)
					conn.Close()
				}
			})
		}
	}

	// Teardown runs on the courier so it serialises behind any
	// still-queued frame handlers and tree callbacks.
	courier.Run(sess.Close)
	courier.Close()
	<-courier.Done()
	sink.close()
	conn.Close()
	atomic.AddInt32(&a.sessions, -1)
	logger.Debug("session closed")
}

// wsFrame is one queued outbound frame.
type wsFrame struct {
	messageType int
	data        []byte
}

// wsSink adapts a websocket connection to the session's non-blocking
// frame sink. A write pump goroutine owns the connection for writes; a
// full queue is treated as a dead client.
type wsSink struct {
	logger hclog.Logger
	conn   *websocket.Conn

	mu     sync.Mutex
	ch     chan wsFrame
	closed bool
}

const sinkQueueDepth = 256

func newWSSink(logger hclog.Logger, conn *websocket.Conn) *wsSink {
	s := &wsSink{
		logger: logger,
		conn:   conn,
		ch:     make(chan wsFrame, sinkQueueDepth),
	}
	go s.writePump()
	return s
}

func (s *wsSink) writePump() {
	for f := range s.ch {
		if err := s.conn.WriteMessage(f.messageType, f.data); err != nil {
			s.logger.Debug("write failed", "error", err)
			// Keep draining so senders never block; the read loop will
			// observe the broken connection and tear the session down.
		}
	}
}

func (s *wsSink) SendText(payload []byte) bool {
	return s.send(websocket.TextMessage, payload)
}

func (s *wsSink) SendBinary(payload []byte) bool {
	return s.send(websocket.BinaryMessage, payload)
}

func (s *wsSink) send(messageType int, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- wsFrame{messageType: messageType, data: payload}:
		return true
	default:
		s.logger.Warn("outbound queue full, dropping client")
		s.closed = true
		close(s.ch)
		s.conn.Close()
		return false
	}
}

func (s *wsSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
