package mode

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/maloquacious/goobtool/internal/store"
)

const defaultPort = 5432

// Descriptor is a parsed server-mode connection string.
type Descriptor struct {
	Scheme   string
	Host     string
	Port     int
	User     string
	Password string
	Database string

	raw string
}

// ParseDescriptor parses a postgres:// or postgresql:// URL. Host and
// database name are required; the port defaults to 5432.
func ParseDescriptor(raw string) (Descriptor, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Descriptor{}, store.Configurationf("database URL is malformed: %v", redactErr(err, raw))
	}

	d := Descriptor{Scheme: strings.ToLower(u.Scheme), raw: raw}
	if d.Scheme != "postgres" && d.Scheme != "postgresql" {
		return Descriptor{}, store.Configurationf("database URL scheme %q is not supported (want postgres or postgresql)", u.Scheme)
	}

	d.Host = u.Hostname()
	if d.Host == "" {
		return Descriptor{}, store.Configurationf("database URL has no host")
	}

	d.Port = defaultPort
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Descriptor{}, store.Configurationf("database URL port %q is invalid", p)
		}
		d.Port = port
	}

	if u.User != nil {
		d.User = u.User.Username()
		d.Password, _ = u.User.Password()
	}

	d.Database = strings.TrimPrefix(u.Path, "/")
	if d.Database == "" || strings.Contains(d.Database, "/") {
		return Descriptor{}, store.Configurationf("database URL must name exactly one database")
	}
	return d, nil
}

// DSN returns the connection string as configured.
func (d Descriptor) DSN() string { return d.raw }

// String returns the connection target with the password redacted.
func (d Descriptor) String() string {
	u := url.URL{
		Scheme: d.Scheme,
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Database,
	}
	switch {
	case d.User != "" && d.Password != "":
		u.User = url.UserPassword(d.User, "xxxxx")
	case d.User != "":
		u.User = url.User(d.User)
	}
	return u.String()
}

// redactErr strips the raw URL from url.Parse errors so credentials are not logged.
func redactErr(err error, raw string) string {
	if ue, ok := err.(*url.Error); ok {
		err = ue.Err
	}
	return strings.ReplaceAll(err.Error(), raw, "<redacted>")
}
