// Package rcontest provides an in-process RCON server on the loopback
// interface for end-to-end tests of RCON clients.
//
// It reads requests the way the vanilla Minecraft server does: one socket
// read per packet, and the connection is dropped when that read does not hold
// exactly one whole packet. Replies are split into MaxResponseBody fragments.
package rcontest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/reedfamily/mcpanel/internal/rcon"
)

// Handler produces the reply text for a command.
type Handler func(cmd string) string

// Echo replies with the command itself.
func Echo(cmd string) string { return cmd }

// readSize is the buffer of a single request read in the vanilla server.
const readSize = 1460

// Server is a minimal RCON server speaking the Minecraft dialect.
type Server struct {
	listener net.Listener
	handler  Handler

	mu       sync.Mutex
	password string
	conns    map[net.Conn]struct{}
	closed   bool

	accepted atomic.Int64
	commands atomic.Int64
	wg       sync.WaitGroup
}

// NewServer starts a server that accepts password and answers commands with
// handler. The caller must Close it.
func NewServer(password string, handler Handler) *Server {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(fmt.Sprintf("rcontest: failed to listen on a port: %v", err))
	}
	if handler == nil {
		handler = Echo
	}

	s := &Server{
		listener: l,
		handler:  handler,
		password: password,
		conns:    make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	return s
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listening IP.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Accepted returns how many client connections have been accepted so far.
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

// Commands returns how many exec packets have been answered.
func (s *Server) Commands() int {
	return int(s.commands.Load())
}

// SetPassword changes the password required by subsequent logins.
func (s *Server) SetPassword(password string) {
	s.mu.Lock()
	s.password = password
	s.mu.Unlock()
}

// DropConnections closes every open client connection while continuing to
// accept new ones, which leaves clients holding stale sessions.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
		delete(s.conns, c)
	}
}

// Close stops the listener and all connections and waits for handlers.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	_ = s.listener.Close()
	for c := range s.conns {
		_ = c.Close()
		delete(s.conns, c)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.accepted.Add(1)
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	authed := false
	for {
		req, err := readRequest(conn)
		if err != nil {
			return
		}

		var replies []rcon.Packet
		switch {
		case req.Type == rcon.TypeAuth:
			s.mu.Lock()
			ok := req.Body == s.password
			s.mu.Unlock()
			authed = ok
			id := req.ID
			if !ok {
				id = -1
			}
			replies = append(replies, rcon.Packet{ID: id, Type: rcon.TypeAuthResponse})
		case !authed:
			replies = append(replies, rcon.Packet{ID: -1, Type: rcon.TypeAuthResponse})
		case req.Type == rcon.TypeExecCommand:
			s.commands.Add(1)
			for _, chunk := range split(s.handler(req.Body)) {
				replies = append(replies, rcon.Packet{ID: req.ID, Type: rcon.TypeResponseValue, Body: chunk})
			}
		default:
			replies = append(replies, rcon.Packet{
				ID:   req.ID,
				Type: rcon.TypeResponseValue,
				Body: fmt.Sprintf("Unknown request %x", req.Type),
			})
		}

		for _, p := range replies {
			if _, err := p.WriteTo(conn); err != nil {
				return
			}
		}
	}
}

// readRequest does a single read and accepts it only if it holds exactly one
// packet, like the vanilla server.
func readRequest(conn net.Conn) (rcon.Packet, error) {
	buf := make([]byte, readSize)
	n, err := conn.Read(buf)
	if err != nil {
		return rcon.Packet{}, err
	}
	if n < 14 {
		return rcon.Packet{}, fmt.Errorf("short read of %d bytes", n)
	}
	if size := int(int32(binary.LittleEndian.Uint32(buf[:4]))); size != n-4 {
		return rcon.Packet{}, fmt.Errorf("packet length %d does not match read of %d bytes", size, n)
	}
	return rcon.ReadPacket(bytes.NewReader(buf[:n]))
}

func split(reply string) []string {
	size := rcon.MaxResponseBody
	if len(reply) <= size {
		return []string{reply}
	}
	var chunks []string
	for len(reply) > size {
		chunks = append(chunks, reply[:size])
		reply = reply[size:]
	}
	if reply != "" {
		chunks = append(chunks, reply)
	}
	return chunks
}
