package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/user/blebus/logger"
)

// UnixSocketTransport exchanges Envelopes over Unix domain sockets,
// one persistent net.Conn per peer and a dedicated read goroutine per
// connection — the same length-prefixed handshake and per-connection
// read loop shape as the teacher's wire.SocketWire, generalized from
// a fixed CharacteristicMessage payload to an opaque Envelope.
type UnixSocketTransport struct {
	dir     string
	selfID  string
	handler func(Envelope)

	mu        sync.Mutex
	listener  net.Listener
	conns     map[string]net.Conn
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewUnixSocketTransport creates a transport that listens on
// {dir}/sockets/blebus-{id}.sock.
func NewUnixSocketTransport(dir string) *UnixSocketTransport {
	return &UnixSocketTransport{
		dir:      dir,
		conns:    make(map[string]net.Conn),
		stopChan: make(chan struct{}),
	}
}

func (t *UnixSocketTransport) socketPath(id string) string {
	return filepath.Join(t.dir, "sockets", fmt.Sprintf("blebus-%s.sock", id))
}

func (t *UnixSocketTransport) Start(selfID string, handler func(Envelope)) error {
	t.selfID = selfID
	t.handler = handler

	sockDir := filepath.Join(t.dir, "sockets")
	if err := os.MkdirAll(sockDir, 0755); err != nil {
		return errors.Wrap(err, "transport: creating socket directory")
	}

	path := t.socketPath(selfID)
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return errors.Wrap(err, "transport: listening on socket")
	}
	t.listener = ln

	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

func (t *UnixSocketTransport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.stopChan:
				return
			default:
				logger.Warn(t.selfID[:min(8, len(t.selfID))], "accept error: %v", err)
				return
			}
		}
		t.wg.Add(1)
		go t.handleConnection(conn)
	}
}

func (t *UnixSocketTransport) handleConnection(conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	peerID, err := readHandshake(conn)
	if err != nil {
		logger.Warn(t.selfID[:min(8, len(t.selfID))], "handshake read failed: %v", err)
		return
	}

	t.mu.Lock()
	t.conns[peerID] = conn
	t.mu.Unlock()

	t.readLoop(conn)

	t.mu.Lock()
	delete(t.conns, peerID)
	t.mu.Unlock()
}

func (t *UnixSocketTransport) readLoop(conn net.Conn) {
	for {
		var msgLen uint32
		if err := binary.Read(conn, binary.BigEndian, &msgLen); err != nil {
			return
		}
		data := make([]byte, msgLen)
		if _, err := io.ReadFull(conn, data); err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Warn(t.selfID[:min(8, len(t.selfID))], "bad envelope: %v", err)
			continue
		}
		if t.handler != nil {
			t.handler(env)
		}
	}
}

func readHandshake(conn net.Conn) (string, error) {
	var idLen uint32
	if err := binary.Read(conn, binary.BigEndian, &idLen); err != nil {
		return "", err
	}
	idBytes := make([]byte, idLen)
	if _, err := io.ReadFull(conn, idBytes); err != nil {
		return "", err
	}
	return string(idBytes), nil
}

func writeHandshake(conn net.Conn, selfID string) error {
	idBytes := []byte(selfID)
	if err := binary.Write(conn, binary.BigEndian, uint32(len(idBytes))); err != nil {
		return err
	}
	_, err := conn.Write(idBytes)
	return err
}

// Send dials (and caches) a connection to env.TargetID and writes the
// envelope as a length-prefixed JSON frame.
func (t *UnixSocketTransport) Send(env Envelope) error {
	t.mu.Lock()
	conn, ok := t.conns[env.TargetID]
	t.mu.Unlock()

	if !ok {
		var err error
		conn, err = net.Dial("unix", t.socketPath(env.TargetID))
		if err != nil {
			return errors.Wrapf(err, "transport: dialing %s", env.TargetID)
		}
		if err := writeHandshake(conn, t.selfID); err != nil {
			conn.Close()
			return errors.Wrap(err, "transport: handshake")
		}
		t.mu.Lock()
		t.conns[env.TargetID] = conn
		t.mu.Unlock()

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.readLoop(conn)
			t.mu.Lock()
			delete(t.conns, env.TargetID)
			t.mu.Unlock()
		}()
	}

	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "transport: marshaling envelope")
	}
	if err := binary.Write(conn, binary.BigEndian, uint32(len(data))); err != nil {
		return errors.Wrap(err, "transport: writing envelope length")
	}
	_, err = conn.Write(data)
	return errors.Wrap(err, "transport: writing envelope")
}

func (t *UnixSocketTransport) Stop() error {
	close(t.stopChan)
	t.mu.Lock()
	for id, conn := range t.conns {
		conn.Close()
		delete(t.conns, id)
	}
	t.mu.Unlock()
	if t.listener != nil {
		t.listener.Close()
	}
	t.wg.Wait()
	os.Remove(t.socketPath(t.selfID))
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
