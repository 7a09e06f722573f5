package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

var unsafeNameRe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Partition is the isolated storage of one conversational agent instance.
// Every operation on a partition is serialized by its mutex, so the schema
// flag and the unconditioned inserts never interleave with a concurrent turn
// on the same instance.
type Partition struct {
	id      string
	db      *sql.DB
	dialect dialect
	ownsDB  bool

	mu           sync.Mutex
	schemaReady  bool
	historyReady bool
}

// Opener creates partitions on one storage substrate.
type Opener interface {
	Open(ctx context.Context, partitionID string) (*Partition, error)
	Close() error
}

func (p *Partition) ID() string {
	return p.id
}

func (p *Partition) Close() error {
	if p.ownsDB {
		return p.db.Close()
	}
	return nil
}

type SQLiteOpener struct {
	dir string
}

// NewSQLiteOpener stores each partition in its own database file under dir.
func NewSQLiteOpener(dir string) (*SQLiteOpener, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("sqlite data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &SQLiteOpener{dir: dir}, nil
}

func (o *SQLiteOpener) Open(ctx context.Context, partitionID string) (*Partition, error) {
	path := filepath.Join(o.dir, partitionFileName(partitionID))
	return OpenSQLitePartition(ctx, partitionID, path)
}

func (o *SQLiteOpener) Close() error {
	return nil
}

// OpenSQLitePartition opens a single-connection database at path.
func OpenSQLitePartition(ctx context.Context, partitionID, path string) (*Partition, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	return &Partition{
		id:      partitionID,
		db:      db,
		dialect: dialect{name: "sqlite"},
		ownsDB:  true,
	}, nil
}

type PostgresOpener struct {
	db *sql.DB
}

// NewPostgresOpener shares one connection pool across partitions; each
// partition lives in its own schema.
func NewPostgresOpener(databaseURL string) (*PostgresOpener, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresOpener{db: db}, nil
}

func (o *PostgresOpener) Open(ctx context.Context, partitionID string) (*Partition, error) {
	return &Partition{
		id:      partitionID,
		db:      o.db,
		dialect: dialect{name: "postgres", schema: partitionSchemaName(partitionID)},
	}, nil
}

func (o *PostgresOpener) Close() error {
	return o.db.Close()
}

type dialect struct {
	name   string
	schema string
}

func (d dialect) postgres() bool {
	return d.name == "postgres"
}

func (d dialect) table(name string) string {
	if d.schema == "" {
		return name
	}
	return pq.QuoteIdentifier(d.schema) + "." + name
}

func (d dialect) timestampType() string {
	if d.postgres() {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}

func (d dialect) timeArg(t time.Time) any {
	if d.postgres() {
		return t.UTC()
	}
	return t.UTC().Format(sqliteTimeLayout)
}

// rebind rewrites ? placeholders into the $n form postgres expects.
func (d dialect) rebind(query string) string {
	if !d.postgres() {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func partitionHash(partitionID string) string {
	sum := sha256.Sum256([]byte(partitionID))
	return hex.EncodeToString(sum[:])
}

func partitionFileName(partitionID string) string {
	safe := strings.Trim(unsafeNameRe.ReplaceAllString(partitionID, "_"), "_")
	if len(safe) > 48 {
		safe = safe[:48]
	}
	if safe == "" {
		safe = "partition"
	}
	return fmt.Sprintf("%s-%s.db", safe, partitionHash(partitionID)[:12])
}

func partitionSchemaName(partitionID string) string {
	return "study_" + partitionHash(partitionID)[:16]
}

// dbTime scans timestamps from drivers that return either time.Time or text.
type dbTime struct {
	time.Time
}

var timeLayouts = []string{
	sqliteTimeLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}
