package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/sensor-bridge/internal/model"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// mysqlDatetime is what a DATETIME column accepts; seconds precision so the
// server never rounds.
const mysqlDatetime = "2006-01-02 15:04:05"

// dialect captures the per-database differences of the single statement the
// bridge issues.
type dialect struct {
	name       string
	sqlDriver  string // database/sql driver name
	quote      func(ident string) string
	param      func(n int) string
	returning  bool // id comes back from RETURNING instead of LastInsertId
	bindTime   func(t time.Time) any
	defaultNow string
}

var dialects = map[string]dialect{
	DriverMySQL: {
		name:       DriverMySQL,
		sqlDriver:  "mysql",
		quote:      func(s string) string { return "`" + s + "`" },
		param:      func(int) string { return "?" },
		bindTime:   func(t time.Time) any { return t.UTC().Format(mysqlDatetime) },
		defaultNow: "NOW()",
	},
	DriverPostgres: {
		name:       DriverPostgres,
		sqlDriver:  "pgx",
		quote:      func(s string) string { return `"` + s + `"` },
		param:      func(n int) string { return "$" + strconv.Itoa(n) },
		returning:  true,
		bindTime:   func(t time.Time) any { return t.UTC() },
		defaultNow: "NOW()",
	},
}

func dialectFor(driver string) (dialect, error) {
	d, ok := dialects[strings.ToLower(strings.TrimSpace(driver))]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported store driver %q", driver)
	}
	return d, nil
}

// insert renders the INSERT for dest and the arguments to bind. The table name
// comes from the registry's closed set; every value is a bound parameter.
func (d dialect) insert(dest model.Destination, r model.Reading) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.quote(dest.String()))
	b.WriteString(" (")
	b.WriteString(d.quote("timestamp"))
	b.WriteString(", ")
	b.WriteString(d.quote("sensor_reading"))
	b.WriteString(", ")
	b.WriteString(d.quote("serial_no"))
	b.WriteString(") VALUES (")

	args := make([]any, 0, 3)
	if r.Timestamp.IsZero() {
		b.WriteString(d.defaultNow)
	} else {
		args = append(args, d.bindTime(r.Timestamp))
		b.WriteString(d.param(len(args)))
	}

	args = append(args, r.Value)
	b.WriteString(", ")
	b.WriteString(d.param(len(args)))

	var serial any
	if r.DeviceID != "" {
		serial = r.DeviceID
	}
	args = append(args, serial)
	b.WriteString(", ")
	b.WriteString(d.param(len(args)))
	b.WriteString(")")

	if d.returning {
		b.WriteString(" RETURNING ")
		b.WriteString(d.quote("id"))
	}
	return b.String(), args
}
