// Package mode decides, once per process, whether persistence runs in
// client mode (embedded store) or server mode (relational store).
//
// Resolve is pure: the same Settings always produce the same Resolution,
// and nothing outside its argument is consulted. Callers compute the
// Resolution at startup and pass it to every component that needs it.
package mode

import (
	"strings"

	"github.com/maloquacious/goobtool/internal/store"
)

// Mode is the persistence mode of the process.
type Mode int

const (
	Client Mode = iota
	Server
)

func (m Mode) String() string {
	if m == Server {
		return "server"
	}
	return "client"
}

// Settings are the declarative inputs to Resolve.
type Settings struct {
	// ServerMode requests server mode.
	ServerMode bool

	// DatabaseURL is the connection string used in server mode.
	DatabaseURL string
}

// Resolution is the mode chosen for this process.
type Resolution struct {
	Mode Mode

	// Descriptor is set only in server mode.
	Descriptor *Descriptor
}

// Resolve applies the mode decision table:
//
//	ServerMode unset          -> Client, DatabaseURL ignored
//	ServerMode set, no URL    -> ErrConfiguration
//	ServerMode set, bad URL   -> ErrConfiguration
//	ServerMode set, valid URL -> Server
func Resolve(s Settings) (Resolution, error) {
	if !s.ServerMode {
		return Resolution{Mode: Client}, nil
	}

	raw := strings.TrimSpace(s.DatabaseURL)
	if raw == "" {
		return Resolution{}, store.Configurationf("server mode is enabled but no database URL is configured")
	}

	d, err := ParseDescriptor(raw)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Mode: Server, Descriptor: &d}, nil
}
