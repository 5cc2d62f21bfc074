package mpris

import (
	"github.com/godbus/dbus/v5"
)

// DBusClient is the part of a session bus connection the source needs
//
//go:generate mockgen -destination=mocks/dbus_client_mock.go -package=mocks github.com/genricoloni/tabcast/internal/mpris DBusClient
type DBusClient interface {
	Close() error

	// AddMatchSignal subscribes the connection to signals matching options
	AddMatchSignal(options ...dbus.MatchOption) error

	// Signal registers ch to receive subscribed signals
	Signal(ch chan<- *dbus.Signal)

	ListNames() ([]string, error)

	// GetNameOwner resolves a well-known name to its unique name (":1.45")
	GetNameOwner(name string) (string, error)

	// GetProperty reads prop ("org.mpris.MediaPlayer2.Player.Metadata") of
	// the object at path owned by dest
	GetProperty(dest, path, prop string) (dbus.Variant, error)
}

// StdDBusClient is a DBusClient backed by a godbus session bus connection
type StdDBusClient struct {
	conn *dbus.Conn
}

// NewStdDBusClient connects to the session bus
func NewStdDBusClient() (*StdDBusClient, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, err
	}
	return &StdDBusClient{conn: conn}, nil
}

func (c *StdDBusClient) Close() error {
	return c.conn.Close()
}

func (c *StdDBusClient) AddMatchSignal(options ...dbus.MatchOption) error {
	return c.conn.AddMatchSignal(options...)
}

func (c *StdDBusClient) Signal(ch chan<- *dbus.Signal) {
	c.conn.Signal(ch)
}

func (c *StdDBusClient) ListNames() ([]string, error) {
	var names []string
	err := c.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names)
	return names, err
}

func (c *StdDBusClient) GetNameOwner(name string) (string, error) {
	var owner string
	err := c.conn.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, name).Store(&owner)
	return owner, err
}

func (c *StdDBusClient) GetProperty(dest, path, prop string) (dbus.Variant, error) {
	return c.conn.Object(dest, dbus.ObjectPath(path)).GetProperty(prop)
}
