package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/1broseidon/deskportal/internal/runtimepath"
)

// Controller is the daemon surface the server dispatches to. Implementations
// are called from connection goroutines and must marshal onto their own
// UI loop.
type Controller interface {
	Status() StatusData
	ListPortals() []PortalInfo
	CreatePortal(req CreatePortalPayload) (PortalInfo, error)
	RemovePortal(id string) error
	MovePortal(req MovePortalPayload) error
	SetRolledUp(id string, rolledUp bool) error
	SetInteracting(id string, interacting bool) error
	SetPortalsVisible(visible bool) error
	AppStart(id string) error
	AppStop(id string) error
	AppPopOut(id string) error
	AppPopIn(id string) error
	DropFiles(id string, paths []string) (bool, error)
	SaveLayout() error
	ProfileSave(name string) error
	ProfileLoad(name string) error
	Reload() error
	Shutdown()
}

// Server handles IPC requests from clients
type Server struct {
	socketPath   string
	listener     net.Listener
	ctrl         Controller
	logger       *slog.Logger
	startTime    time.Time
	wg           sync.WaitGroup
	shuttingDown bool
	shutdownMu   sync.Mutex
}

// NewServer creates a new IPC server. An empty socketPath uses the runtime
// directory default.
func NewServer(socketPath string, ctrl Controller, logger *slog.Logger) (*Server, error) {
	if socketPath == "" {
		p, err := runtimepath.SocketPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve IPC socket path: %w", err)
		}
		socketPath = p
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Remove a stale socket from a previous run.
	os.Remove(socketPath)

	return &Server{
		socketPath: socketPath,
		ctrl:       ctrl,
		logger:     logger,
		startTime:  time.Now(),
	}, nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string { return s.socketPath }

// Start begins listening for IPC connections
func (s *Server) Start() error {
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create IPC socket: %w", err)
	}
	s.listener = listener

	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.logger.Info("IPC server listening", "socket", s.socketPath)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.stopping() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("IPC accept error", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) stopping() bool {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	return s.shuttingDown
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	reader := bufio.NewReader(conn)

	// One JSON request per line.
	data, err := reader.ReadBytes('\n')
	if err != nil && err != io.EOF {
		s.logger.Warn("IPC read error", "error", err)
		return
	}

	req, err := ParseRequest(data)
	if err != nil {
		s.sendError(conn, fmt.Sprintf("Invalid request: %v", err))
		return
	}

	resp := s.handleCommand(req)

	respData, err := resp.Marshal()
	if err != nil {
		s.logger.Error("failed to marshal IPC response", "error", err)
		return
	}
	respData = append(respData, '\n')
	if _, err := conn.Write(respData); err != nil {
		s.logger.Warn("failed to send IPC response", "error", err)
	}
}

func (s *Server) handleCommand(req *Request) *Response {
	s.logger.Debug("IPC request", "command", req.Command)

	switch req.Command {
	case CommandGetStatus:
		status := s.ctrl.Status()
		status.UptimeSeconds = int64(time.Since(s.startTime).Seconds())
		status.DaemonRunning = true
		return ok(status)
	case CommandListPortals:
		return ok(PortalsData{Portals: s.ctrl.ListPortals()})
	case CommandCreatePortal:
		var p CreatePortalPayload
		if err := decode(req.Payload, &p); err != nil {
			return NewErrorResponse(err.Error())
		}
		info, err := s.ctrl.CreatePortal(p)
		if err != nil {
			return NewErrorResponse(fmt.Sprintf("Failed to create portal: %v", err))
		}
		return ok(info)
	case CommandRemovePortal:
		return s.withID(req.Payload, "remove portal", s.ctrl.RemovePortal)
	case CommandMovePortal:
		var p MovePortalPayload
		if err := decode(req.Payload, &p); err != nil {
			return NewErrorResponse(err.Error())
		}
		return result("move portal", s.ctrl.MovePortal(p))
	case CommandSetRolledUp:
		return s.withToggle(req.Payload, "set rolled up", s.ctrl.SetRolledUp)
	case CommandSetInteracting:
		return s.withToggle(req.Payload, "set interacting", s.ctrl.SetInteracting)
	case CommandSetVisible:
		var p TogglePayload
		if err := decode(req.Payload, &p); err != nil {
			return NewErrorResponse(err.Error())
		}
		return result("set portals visible", s.ctrl.SetPortalsVisible(p.Value))
	case CommandAppStart:
		return s.withID(req.Payload, "start app", s.ctrl.AppStart)
	case CommandAppStop:
		return s.withID(req.Payload, "stop app", s.ctrl.AppStop)
	case CommandAppPopOut:
		return s.withID(req.Payload, "pop out app", s.ctrl.AppPopOut)
	case CommandAppPopIn:
		return s.withID(req.Payload, "pop in app", s.ctrl.AppPopIn)
	case CommandDropFiles:
		var p DropFilesPayload
		if err := decode(req.Payload, &p); err != nil {
			return NewErrorResponse(err.Error())
		}
		handled, err := s.ctrl.DropFiles(p.ID, p.Paths)
		if err != nil {
			return NewErrorResponse(fmt.Sprintf("Failed to drop files: %v", err))
		}
		return ok(DropData{Handled: handled})
	case CommandSaveLayout:
		return result("save layout", s.ctrl.SaveLayout())
	case CommandProfileSave:
		return s.withProfile(req.Payload, "save profile", s.ctrl.ProfileSave)
	case CommandProfileLoad:
		return s.withProfile(req.Payload, "load profile", s.ctrl.ProfileLoad)
	case CommandReload:
		return result("reload config", s.ctrl.Reload())
	case CommandShutdown:
		// Reply first; the controller tears the server down.
		go s.ctrl.Shutdown()
		return ok(nil)
	default:
		return NewErrorResponse(fmt.Sprintf("Unknown command: %s", req.Command))
	}
}

func (s *Server) withID(payload json.RawMessage, op string, fn func(string) error) *Response {
	var p PortalPayload
	if err := decode(payload, &p); err != nil {
		return NewErrorResponse(err.Error())
	}
	if p.ID == "" {
		return NewErrorResponse("id is required")
	}
	return result(op, fn(p.ID))
}

func (s *Server) withToggle(payload json.RawMessage, op string, fn func(string, bool) error) *Response {
	var p TogglePayload
	if err := decode(payload, &p); err != nil {
		return NewErrorResponse(err.Error())
	}
	if p.ID == "" {
		return NewErrorResponse("id is required")
	}
	return result(op, fn(p.ID, p.Value))
}

func (s *Server) withProfile(payload json.RawMessage, op string, fn func(string) error) *Response {
	var p ProfilePayload
	if err := decode(payload, &p); err != nil {
		return NewErrorResponse(err.Error())
	}
	if p.Name == "" {
		return NewErrorResponse("name is required")
	}
	return result(op, fn(p.Name))
}

func decode(payload json.RawMessage, out any) error {
	if len(payload) == 0 {
		return fmt.Errorf("Invalid payload: missing")
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("Invalid payload: %v", err)
	}
	return nil
}

func ok(data any) *Response {
	resp, err := NewOKResponse(data)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	return resp
}

func result(op string, err error) *Response {
	if err != nil {
		return NewErrorResponse(fmt.Sprintf("Failed to %s: %v", op, err))
	}
	return ok(nil)
}

func (s *Server) sendError(conn net.Conn, errMsg string) {
	resp := NewErrorResponse(errMsg)
	data, _ := resp.Marshal()
	data = append(data, '\n')
	conn.Write(data)
}

// Stop closes the listener, waits for in-flight requests and removes the
// socket file.
func (s *Server) Stop() {
	s.shutdownMu.Lock()
	if s.shuttingDown {
		s.shutdownMu.Unlock()
		return
	}
	s.shuttingDown = true
	s.shutdownMu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
}
