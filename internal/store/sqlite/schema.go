package sqlite

// ledgerSchema is the migration ledger. It is created inside the first
// migration transaction so a failed first run leaves no table behind.
const ledgerSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT    NOT NULL,
    checksum   TEXT    NOT NULL,
    applied_at INTEGER NOT NULL
);
`

const (
	ledgerExistsQuery = `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_migrations'`
	ledgerSelectAll   = `SELECT version, name, checksum, applied_at FROM schema_migrations ORDER BY version`
	ledgerSelectOne   = `SELECT name, checksum, applied_at FROM schema_migrations WHERE version = ?`
	ledgerInsert      = `INSERT INTO schema_migrations (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)`
)

// pragmas are applied to every pooled connection through the DSN.
// busy_timeout comes first so the WAL switch can wait on a concurrent opener.
var pragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}
