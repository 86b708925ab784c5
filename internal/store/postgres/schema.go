package postgres

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER     PRIMARY KEY,
    name       TEXT        NOT NULL,
    checksum   TEXT        NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL
);
`

const (
	// ledgerLock serialises migration transactions across processes. The
	// lock is transaction scoped and released by COMMIT or ROLLBACK.
	ledgerLock = `SELECT pg_advisory_xact_lock(hashtext('goobtool.schema_migrations'))`

	ledgerExistsQuery = `SELECT to_regclass('schema_migrations') IS NOT NULL`
	ledgerSelectAll   = `SELECT version, name, checksum, applied_at FROM schema_migrations ORDER BY version`
	ledgerSelectOne   = `SELECT name, checksum, applied_at FROM schema_migrations WHERE version = $1`
	ledgerInsert      = `INSERT INTO schema_migrations (version, name, checksum, applied_at) VALUES ($1, $2, $3, $4)`

	// vectorQuery is true when pgvector is installed in this database, or
	// when the package is on the server and the current role may create it.
	vectorQuery = `
SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')
    OR EXISTS (
        SELECT 1 FROM pg_available_extension_versions v
        WHERE v.name = 'vector'
          AND (
              (SELECT rolsuper FROM pg_roles WHERE rolname = current_user)
              OR ((v.trusted OR NOT v.superuser)
                  AND has_database_privilege(current_database(), 'CREATE'))
          )
    )`
)
