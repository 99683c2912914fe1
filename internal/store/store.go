package store

import "errors"

var ErrNotFound = errors.New("not found")

// Store persists what the daemon knows about the server between runs.
type Store interface {
	SaveDevice(dev *Device) error
	GetDevice(index uint32) (*Device, error)
	DeleteDevice(index uint32) error
	ListDevices() ([]*Device, error)

	// UpdateDevice reads, modifies and saves one snapshot in a single
	// transaction. A missing device is ErrNotFound.
	UpdateDevice(index uint32, fn func(dev *Device) error) error

	// Friendly names are kept per Device.Identity so they follow a device
	// whose index changes. An empty name deletes the alias.
	SetAlias(identity, name string) error
	Alias(identity string) (string, error)

	SaveServerInfo(info *ServerInfo) error
	GetServerInfo() (*ServerInfo, error)

	Close() error
}
