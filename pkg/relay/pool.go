package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 5 * time.Second
)

type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnectionPool fans frames out to viewer connections. Each connection has
// its own bounded send queue drained by a writer goroutine; a viewer whose
// queue is full is dropped rather than slowing the others.
type ConnectionPool struct {
	mu           sync.Mutex
	conns        map[wsConn]*connWriter
	sendBuffer   int
	writeTimeout time.Duration
	onCount      func(int)
}

type connWriter struct {
	conn wsConn
	send chan []byte
}

func NewConnectionPool(onCount func(int)) *ConnectionPool {
	return &ConnectionPool{
		conns:        map[wsConn]*connWriter{},
		sendBuffer:   defaultSendBuffer,
		writeTimeout: defaultWriteTimeout,
		onCount:      onCount,
	}
}

func (cp *ConnectionPool) Add(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	if _, ok := cp.conns[conn]; ok {
		cp.mu.Unlock()
		return
	}
	w := &connWriter{conn: conn, send: make(chan []byte, cp.sendBuffer)}
	cp.conns[conn] = w
	n := len(cp.conns)
	cp.mu.Unlock()

	go cp.writeLoop(w)
	cp.reportCount(n)
}

func (cp *ConnectionPool) Remove(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	n, removed := cp.removeLocked(conn)
	cp.mu.Unlock()
	if removed {
		cp.reportCount(n)
	}
}

func (cp *ConnectionPool) Broadcast(data []byte) {
	if cp == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	dropped := false
	for conn, w := range cp.conns {
		if !cp.enqueueLocked(w, data) {
			log.Warn().Str("component", "relay").Msg("ws send queue full, dropping connection")
			cp.removeLocked(conn)
			dropped = true
		}
	}
	n := len(cp.conns)
	cp.mu.Unlock()
	if dropped {
		cp.reportCount(n)
	}
}

func (cp *ConnectionPool) SendToOne(conn wsConn, data []byte) {
	if cp == nil || conn == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	w, ok := cp.conns[conn]
	if !ok {
		cp.mu.Unlock()
		return
	}
	if cp.enqueueLocked(w, data) {
		cp.mu.Unlock()
		return
	}
	log.Warn().Str("component", "relay").Msg("ws send queue full, dropping connection")
	n, _ := cp.removeLocked(conn)
	cp.mu.Unlock()
	cp.reportCount(n)
}

func (cp *ConnectionPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.conns)
}

func (cp *ConnectionPool) CloseAll() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	for conn := range cp.conns {
		cp.removeLocked(conn)
	}
	cp.mu.Unlock()
	cp.reportCount(0)
}

func (cp *ConnectionPool) enqueueLocked(w *connWriter, data []byte) bool {
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case w.send <- buf:
		return true
	default:
		return false
	}
}

// removeLocked closes the writer queue and the conn, which also unblocks a
// writer stuck in WriteMessage.
func (cp *ConnectionPool) removeLocked(conn wsConn) (int, bool) {
	w, ok := cp.conns[conn]
	if !ok {
		return len(cp.conns), false
	}
	delete(cp.conns, conn)
	close(w.send)
	_ = conn.Close()
	return len(cp.conns), true
}

func (cp *ConnectionPool) writeLoop(w *connWriter) {
	defer func() { _ = w.conn.Close() }()
	for data := range w.send {
		if cp.writeTimeout > 0 {
			_ = w.conn.SetWriteDeadline(time.Now().Add(cp.writeTimeout))
		}
		if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			if cp.contains(w.conn) {
				log.Warn().Err(err).Str("component", "relay").Msg("ws write failed, dropping connection")
			}
			cp.Remove(w.conn)
			// discard whatever was queued before the close
			for range w.send {
			}
			return
		}
	}
}

func (cp *ConnectionPool) contains(conn wsConn) bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	_, ok := cp.conns[conn]
	return ok
}

func (cp *ConnectionPool) reportCount(n int) {
	if cp.onCount != nil {
		cp.onCount(n)
	}
}
