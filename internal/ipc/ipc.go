// Package ipc is the local control socket: one JSON request and one JSON
// response per connection.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	log "log/slog"
)

const DefaultSocket = "/tmp/voxrelay.sock"

const (
	CmdPing   = "ping"
	CmdStatus = "status"
	CmdRecent = "recent"
)

type Request struct {
	Cmd   string `json:"cmd"`
	Limit int    `json:"limit,omitempty"`
}

type Response struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var ErrUnknownCommand = errors.New("unknown command")

// Handler answers one request; the result is encoded as Response.Data.
type Handler func(ctx context.Context, req Request) (any, error)

type Server struct {
	ln      net.Listener
	path    string
	handler Handler
	log     *log.Logger
	wg      sync.WaitGroup
}

// Listen replaces a stale socket at path and starts accepting.
func Listen(path string, handler Handler, logger *log.Logger) (*Server, error) {
	if path == "" {
		path = DefaultSocket
	}
	if logger == nil {
		logger = log.Default()
	}
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return &Server{ln: ln, path: path, handler: handler, log: logger.With("component", "ipc")}, nil
}

func (s *Server) Path() string { return s.path }

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.ln.Close() })
	defer stop()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.log.Warn("Failed to accept", "err", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) Close() error {
	err := s.ln.Close()
	os.Remove(s.path)
	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.log.Debug("Bad control request", "err", err)
		return
	}

	resp := Response{OK: true}
	data, err := s.handler(ctx, req)
	if err == nil && data != nil {
		resp.Data, err = json.Marshal(data)
	}
	if err != nil {
		resp = Response{Error: err.Error()}
		s.log.Debug("Control command failed", "cmd", req.Cmd, "err", err)
	}
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Debug("Failed to write control response", "err", err)
	}
}

// Call sends req to the server at path and decodes Response.Data into out
// (which may be nil).
func Call(ctx context.Context, path string, req Request, out any) error {
	if path == "" {
		path = DefaultSocket
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return err
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if !resp.OK {
		return errors.New(resp.Error)
	}
	if out != nil && len(resp.Data) > 0 {
		return json.Unmarshal(resp.Data, out)
	}
	return nil
}
