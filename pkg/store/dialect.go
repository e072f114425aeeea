package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

type dialect struct {
	name       string
	driver     string
	types      *strings.Replacer
	lockSuffix string
	numbered   bool
	addColumn  string
	txOptions  *sql.TxOptions
}

var (
	sqliteTypes = strings.NewReplacer(
		"$uuid", "TEXT",
		"$bigint", "INTEGER",
		"$decimal", "TEXT",
		"$timestamp", "DATETIME",
	)
	postgresTypes = strings.NewReplacer(
		"$uuid", "UUID",
		"$bigint", "BIGINT",
		"$decimal", "NUMERIC(19,6)",
		"$timestamp", "TIMESTAMPTZ",
	)
)

// dialectFor maps a database/sql driver name to its SQL flavour.
func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite3":
		return dialect{name: "sqlite", driver: "sqlite3", types: sqliteTypes, addColumn: "ALTER TABLE %s ADD COLUMN %s"}, nil
	case "sqlite":
		return dialect{name: "sqlite", driver: "sqlite", types: sqliteTypes, addColumn: "ALTER TABLE %s ADD COLUMN %s"}, nil
	case "pgx", "postgres":
		return dialect{
			name:       "postgres",
			driver:     "pgx",
			types:      postgresTypes,
			lockSuffix: " FOR UPDATE",
			numbered:   true,
			addColumn:  "ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s",
			txOptions:  &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		}, nil
	}
	return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
}

func (d dialect) isSQLite() bool { return d.name == "sqlite" }

// rebind rewrites ? placeholders as $1, $2, ... for postgres.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) ddl(stmt string) string {
	return d.types.Replace(stmt)
}
