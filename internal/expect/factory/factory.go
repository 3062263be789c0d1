package factory

import (
	"errors"
	"strings"

	"github.com/loykin/genkeep/internal/expect"
	"github.com/loykin/genkeep/internal/expect/filestore"
	pg "github.com/loykin/genkeep/internal/expect/postgres"
	sq "github.com/loykin/genkeep/internal/expect/sqlite"
)

var ErrUnsupportedDSN = errors.New("unsupported store DSN")

// NewFromDSN selects a KV backend based on DSN.
// Supported:
//   - memory:   "memory://"
//   - file:     "file:///<path>.json"
//   - sqlite:   "sqlite:///<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string) (expect.KV, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	switch {
	case ld == "":
		return nil, errors.New("empty DSN")
	case strings.HasPrefix(ld, "memory://"):
		return expect.NewMemoryKV(), nil
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		return pg.New(d)
	case strings.HasPrefix(ld, "file://"):
		return filestore.New(d[len("file://"):])
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(d[len("sqlite://"):])
	case strings.Contains(d, "://"):
		return nil, ErrUnsupportedDSN
	}
	return sq.New(d)
}
