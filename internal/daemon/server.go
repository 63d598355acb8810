package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ehrlich-b/diaglog/internal/logwriter"
)

// StartTimeout bounds how long an enable request waits for the first line.
const StartTimeout = 10 * time.Second

// Controller is the part of the log writer the daemon drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	ForceFlush(ctx context.Context) error
	DeleteAllLogFiles() error
	Stats() logwriter.Stats
}

// Server is the daemon's Unix socket server.
type Server struct {
	socketPath string
	ctrl       Controller
	log        *slog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewServer creates a new daemon server.
func NewServer(socketPath string, ctrl Controller, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: socketPath,
		ctrl:       ctrl,
		log:        log,
		conns:      make(map[net.Conn]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins listening on the Unix socket.
func (s *Server) Start() error {
	// Remove existing socket file if it exists
	if _, err := os.Stat(s.socketPath); err == nil {
		if err := os.Remove(s.socketPath); err != nil {
			return fmt.Errorf("remove existing socket: %w", err)
		}
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	s.listener = listener

	// Set socket permissions (readable/writable by owner only)
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		s.log.Warn("failed to set socket permissions", "error", err)
	}

	s.log.Info("daemon listening", "socket", s.socketPath)

	go s.acceptLoop()
	return nil
}

// Stop shuts down the server and waits for in-flight requests.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	// Remove socket file
	os.Remove(s.socketPath)
}

// acceptLoop accepts new client connections.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.log.Warn("accept error", "error", err)
				continue
			}
		}

		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handleClient(conn)
	}
}

// handleClient serves requests from one connection, one at a time.
func (s *Server) handleClient(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.wg.Done()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB buffer

	for scanner.Scan() {
		if s.ctx.Err() != nil {
			return
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msgType, _, err := Decode(line)
		if err != nil {
			s.log.Warn("decode error", "error", err)
			s.sendError(conn, "malformed message")
			continue
		}

		switch msgType {
		case TypeStatusRequest:
			s.handleStatusRequest(conn)
		case TypeFlushRequest:
			s.handleFlushRequest(conn)
		case TypeDeleteRequest:
			s.handleDeleteRequest(conn)
		case TypeEnableRequest:
			s.handleEnableRequest(conn)
		case TypeDisableRequest:
			s.handleDisableRequest(conn)
		default:
			s.sendError(conn, fmt.Sprintf("unknown request %q", msgType))
		}
	}
}

func (s *Server) handleStatusRequest(conn net.Conn) {
	st := s.ctrl.Stats()
	resp := StatusResponse{
		PID:           os.Getpid(),
		Running:       st.Running,
		ActiveFile:    st.ActiveFile,
		ActiveSize:    st.ActiveSize,
		BufferedLines: st.BufferedLines,
		Archives:      st.Archives,
		DroppedLines:  st.DroppedLines,
		Rotations:     st.Rotations,
		FlushFailures: st.FlushFailures,
	}
	if !st.LastFlush.IsZero() {
		resp.LastFlush = st.LastFlush.UnixMilli()
	}
	s.sendToClient(conn, TypeStatusResponse, resp)
}

func (s *Server) handleFlushRequest(conn net.Conn) {
	if err := s.ctrl.ForceFlush(s.ctx); err != nil {
		s.sendError(conn, err.Error())
		return
	}
	s.sendToClient(conn, TypeAck, Ack{Message: "flushed"})
}

func (s *Server) handleDeleteRequest(conn net.Conn) {
	if err := s.ctrl.DeleteAllLogFiles(); err != nil {
		s.sendError(conn, err.Error())
		return
	}
	s.sendToClient(conn, TypeAck, Ack{Message: "deleted all log files"})
}

func (s *Server) handleEnableRequest(conn net.Conn) {
	ctx, cancel := context.WithTimeout(s.ctx, StartTimeout)
	defer cancel()

	err := s.ctrl.Start(ctx)
	switch {
	case err == nil:
		s.sendToClient(conn, TypeAck, Ack{Message: "logging enabled"})
	case errors.Is(err, context.DeadlineExceeded) && s.ctrl.Stats().Running:
		// Collection runs; the source just has not produced anything yet.
		s.sendToClient(conn, TypeAck, Ack{Message: "logging enabled, no lines yet"})
	default:
		s.log.Error("failed to enable logging", "error", err)
		s.sendError(conn, err.Error())
	}
}

func (s *Server) handleDisableRequest(conn net.Conn) {
	s.ctrl.Stop()
	s.sendToClient(conn, TypeAck, Ack{Message: "logging disabled"})
}

// sendToClient sends a message to a client.
func (s *Server) sendToClient(conn net.Conn, msgType string, payload any) {
	data, err := Encode(msgType, payload)
	if err != nil {
		s.log.Warn("encode error", "error", err)
		return
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		s.log.Warn("write error", "error", err)
	}
}

// sendError sends an error message to a client.
func (s *Server) sendError(conn net.Conn, message string) {
	s.sendToClient(conn, TypeError, Error{Message: message})
}
