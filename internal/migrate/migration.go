package migrate

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/maloquacious/goobtool/internal/store"
)

// Migration is one versioned schema change.
type Migration struct {
	Version  int
	Name     string
	Content  string
	Requires []store.Capability
	// Feature, when set, makes the migration optional: it is only selected
	// if the feature is enabled in configuration.
	Feature string
}

// Checksum returns the hex SHA-256 digest of the migration content.
func (m Migration) Checksum() string {
	sum := sha256.Sum256([]byte(m.Content))
	return hex.EncodeToString(sum[:])
}

func (m Migration) String() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

var fileRe = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.sql$`)

const directivePrefix = "-- migrate:"

// Load reads every *.sql file at the root of fsys and returns the
// migrations ordered by version. The set must start at 1 with no gaps.
func Load(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, store.Configurationf("list migrations: %v", err)
	}

	set := make([]Migration, 0, len(names))
	for _, name := range names {
		match := fileRe.FindStringSubmatch(name)
		if match == nil {
			return nil, store.Configurationf("migration file %q: name must look like 0001_create_table.sql", name)
		}
		version, err := strconv.Atoi(match[1])
		if err != nil {
			return nil, store.Configurationf("migration file %q: %v", name, err)
		}

		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, store.Configurationf("read migration %q: %v", name, err)
		}

		m := Migration{Version: version, Name: match[2], Content: string(data)}
		if err := parseDirectives(&m); err != nil {
			return nil, store.Configurationf("migration file %q: %v", name, err)
		}
		set = append(set, m)
	}

	slices.SortFunc(set, func(a, b Migration) int { return a.Version - b.Version })
	if err := Validate(set); err != nil {
		return nil, err
	}
	return set, nil
}

// parseDirectives reads the leading comment block for migrate: directives.
func parseDirectives(m *Migration) error {
	sc := bufio.NewScanner(strings.NewReader(m.Content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}
		if !strings.HasPrefix(line, directivePrefix) {
			continue
		}

		key, value, _ := strings.Cut(strings.TrimPrefix(line, directivePrefix), " ")
		value = strings.TrimSpace(value)
		switch key {
		case "requires":
			for _, c := range strings.Split(value, ",") {
				if c = strings.TrimSpace(c); c != "" {
					m.Requires = append(m.Requires, store.Capability(c))
				}
			}
		case "feature":
			if value == "" {
				return fmt.Errorf("empty feature directive")
			}
			m.Feature = value
		default:
			return fmt.Errorf("unknown directive %q", key)
		}
	}
	return sc.Err()
}

// Validate checks that versions run 1..n with no gaps or duplicates.
func Validate(set []Migration) error {
	for i, m := range set {
		want := i + 1
		switch {
		case m.Version == 0:
			return store.Configurationf("migration %s: versions start at 1", m)
		case i > 0 && m.Version == set[i-1].Version:
			return store.Configurationf("duplicate migration version %04d", m.Version)
		case m.Version != want:
			return store.Configurationf("migration versions must be contiguous: expected %04d, found %s", want, m)
		}
	}
	return nil
}

// Select keeps the migrations that are mandatory or whose feature is
// enabled. Optional migrations may only be dropped from the tail: the
// selection must still be contiguous.
func Select(set []Migration, features []string) ([]Migration, error) {
	selected := make([]Migration, 0, len(set))
	for _, m := range set {
		if m.Feature == "" || slices.Contains(features, m.Feature) {
			selected = append(selected, m)
		}
	}
	if err := Validate(selected); err != nil {
		return nil, fmt.Errorf("feature selection %v: %w", features, err)
	}
	return selected, nil
}
