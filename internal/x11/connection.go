package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb/shape"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
)

// Connection manages the X11 connection and core X resources
type Connection struct {
	XUtil *xgbutil.XUtil
	Root  xproto.Window

	hasShape bool
}

// NewConnection establishes a connection to the X11 server and initializes
// the SHAPE extension used for clipping embedded windows.
func NewConnection() (*Connection, error) {
	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	c := &Connection{
		XUtil: xu,
		Root:  xu.RootWin(),
	}
	if err := shape.Init(xu.Conn()); err == nil {
		c.hasShape = true
	}
	return c, nil
}

// HasShape reports whether the server supports the SHAPE extension.
func (c *Connection) HasShape() bool {
	return c.hasShape
}

// DrainEvents discards queued events without blocking. deskportal never
// selects input on foreign windows, so nothing queued needs handling.
func (c *Connection) DrainEvents() {
	conn := c.XUtil.Conn()
	for i := 0; i < 256; i++ {
		ev, xerr := conn.PollForEvent()
		if ev == nil && xerr == nil {
			return
		}
	}
}

// Close cleanly disconnects from the X11 server
func (c *Connection) Close() {
	c.XUtil.Conn().Close()
}
