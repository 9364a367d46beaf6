package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/1broseidon/deskportal/internal/runtimepath"
)

// Client handles IPC communication with the daemon
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new IPC client for the default socket.
func NewClient() *Client {
	socketPath, err := runtimepath.SocketPath()
	if err != nil {
		// sendRequest surfaces the connection error.
		socketPath = ""
	}
	return NewClientAt(socketPath)
}

// NewClientAt creates a client for an explicit socket path.
func NewClientAt(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		// App launches can block a request for the whole launch timeout.
		timeout: 15 * time.Second,
	}
}

func (c *Client) sendRequest(req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w (is the daemon running?)", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	reqData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	reqData = append(reqData, '\n')
	if _, err := conn.Write(reqData); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	reader := bufio.NewReader(conn)
	respData, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Status == "ERROR" {
		return nil, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return &resp, nil
}

func (c *Client) call(cmd CommandType, payload any, out any) error {
	req := &Request{Command: cmd}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", cmd, err)
		}
		req.Payload = data
	}
	resp, err := c.sendRequest(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("failed to parse %s data: %w", cmd, err)
	}
	return nil
}

// GetStatus retrieves daemon status
func (c *Client) GetStatus() (*StatusData, error) {
	var status StatusData
	if err := c.call(CommandGetStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListPortals returns every registered portal.
func (c *Client) ListPortals() ([]PortalInfo, error) {
	var data PortalsData
	if err := c.call(CommandListPortals, nil, &data); err != nil {
		return nil, err
	}
	return data.Portals, nil
}

// CreatePortal creates and attaches a portal.
func (c *Client) CreatePortal(req CreatePortalPayload) (*PortalInfo, error) {
	var info PortalInfo
	if err := c.call(CommandCreatePortal, req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) RemovePortal(id string) error {
	return c.call(CommandRemovePortal, PortalPayload{ID: id}, nil)
}

func (c *Client) MovePortal(req MovePortalPayload) error {
	return c.call(CommandMovePortal, req, nil)
}

func (c *Client) SetRolledUp(id string, rolledUp bool) error {
	return c.call(CommandSetRolledUp, TogglePayload{ID: id, Value: rolledUp}, nil)
}

func (c *Client) SetInteracting(id string, interacting bool) error {
	return c.call(CommandSetInteracting, TogglePayload{ID: id, Value: interacting}, nil)
}

func (c *Client) SetPortalsVisible(visible bool) error {
	return c.call(CommandSetVisible, TogglePayload{Value: visible}, nil)
}

func (c *Client) AppStart(id string) error {
	return c.call(CommandAppStart, PortalPayload{ID: id}, nil)
}

func (c *Client) AppStop(id string) error {
	return c.call(CommandAppStop, PortalPayload{ID: id}, nil)
}

func (c *Client) AppPopOut(id string) error {
	return c.call(CommandAppPopOut, PortalPayload{ID: id}, nil)
}

func (c *Client) AppPopIn(id string) error {
	return c.call(CommandAppPopIn, PortalPayload{ID: id}, nil)
}

// DropFiles delivers paths to a portal's drop handler.
func (c *Client) DropFiles(id string, paths []string) (bool, error) {
	var data DropData
	if err := c.call(CommandDropFiles, DropFilesPayload{ID: id, Paths: paths}, &data); err != nil {
		return false, err
	}
	return data.Handled, nil
}

func (c *Client) SaveLayout() error {
	return c.call(CommandSaveLayout, nil, nil)
}

func (c *Client) ProfileSave(name string) error {
	return c.call(CommandProfileSave, ProfilePayload{Name: name}, nil)
}

func (c *Client) ProfileLoad(name string) error {
	return c.call(CommandProfileLoad, ProfilePayload{Name: name}, nil)
}

// Reload sends a RELOAD command to the daemon
func (c *Client) Reload() error {
	return c.call(CommandReload, nil, nil)
}

// Shutdown asks the daemon to save and exit.
func (c *Client) Shutdown() error {
	return c.call(CommandShutdown, nil, nil)
}

// Ping checks if the daemon is responding
func (c *Client) Ping() error {
	_, err := c.GetStatus()
	return err
}
