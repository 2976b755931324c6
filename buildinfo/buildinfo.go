// Package buildinfo parses the two small text formats that sit above the
// binary CASC layer: the archive's `.build.info` row table, and the
// key=value build/CDN config blobs it points at.
package buildinfo

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("casc/buildinfo")

// ColumnType is a `.build.info` column's declared type, from its header
// cell's `!TYPE` suffix.
type ColumnType string

const (
	ColumnString ColumnType = "STRING"
	ColumnDec    ColumnType = "DEC"
	ColumnHex    ColumnType = "HEX"
)

// ParserError reports malformed `.build.info` or config framing.
type ParserError struct {
	Reason string
}

func (e *ParserError) Error() string { return "buildinfo: " + e.Reason }

// Column is one `.build.info` header cell: `Key!TYPE:LEN`.
type Column struct {
	Name string
	Type ColumnType
	Len  int
}

// Row is one `.build.info` data row, keyed by column name.
type Row map[string]string

// ParseBuildInfo parses a complete `.build.info` file: a header line of
// `Key!TYPE:LEN | Key!TYPE:LEN | …` followed by `|`-separated value rows
// in the same column order.
func ParseBuildInfo(r io.Reader) (columns []Column, rows []Row, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, nil, &ParserError{Reason: "empty .build.info"}
	}
	columns, err = parseBuildInfoHeader(scanner.Text())
	if err != nil {
		return nil, nil, err
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := splitPiped(line)
		if len(cells) != len(columns) {
			return nil, nil, &ParserError{Reason: fmt.Sprintf("row has %d cells, want %d", len(cells), len(columns))}
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			row[col.Name] = cells[i]
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("buildinfo: reading .build.info: %w", err)
	}
	return columns, rows, nil
}

func parseBuildInfoHeader(line string) ([]Column, error) {
	cells := splitPiped(line)
	columns := make([]Column, 0, len(cells))
	for _, cell := range cells {
		nameAndType := strings.SplitN(cell, "!", 2)
		if len(nameAndType) != 2 {
			return nil, &ParserError{Reason: "column header missing '!TYPE:LEN': " + cell}
		}
		typeAndLen := strings.SplitN(nameAndType[1], ":", 2)
		if len(typeAndLen) != 2 {
			return nil, &ParserError{Reason: "column header missing ':LEN': " + cell}
		}
		length, err := strconv.Atoi(typeAndLen[1])
		if err != nil {
			return nil, &ParserError{Reason: "column header has non-numeric LEN: " + cell}
		}
		columns = append(columns, Column{
			Name: nameAndType[0],
			Type: ColumnType(typeAndLen[0]),
			Len:  length,
		})
	}
	return columns, nil
}

func splitPiped(line string) []string {
	parts := strings.Split(line, "|")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

// ActiveRow selects the row whose Active column (when present) is "1".
// CASC archives are expected to carry exactly one active build, but a
// malformed `.build.info` with several active rows is tolerated: the
// first match wins and the rest are logged, not rejected.
func ActiveRow(rows []Row) (Row, error) {
	if len(rows) == 0 {
		return nil, &ParserError{Reason: "no rows in .build.info"}
	}
	var active []Row
	for _, row := range rows {
		if v, ok := row["Active"]; !ok || v == "1" {
			active = append(active, row)
		}
	}
	if len(active) == 0 {
		return rows[0], nil
	}
	if len(active) > 1 {
		log.Warnw("multiple active rows in .build.info, using the first", "count", len(active))
	}
	return active[0], nil
}

// Config is a parsed build or CDN config blob: an ordered set of
// whitespace-split value lists, keyed by the line's trimmed LHS.
type Config map[string][]string

// ParseConfig parses a build/CDN config blob per §6's grammar: `#` comment
// lines and blank lines are ignored; every other line is `key = v1 v2 …`.
func ParseConfig(r io.Reader) (Config, error) {
	cfg := make(Config)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, rest, ok := strings.Cut(line, "=")
		if !ok {
			return nil, &ParserError{Reason: "config line missing '=': " + line}
		}
		cfg[strings.TrimSpace(key)] = strings.Fields(rest)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("buildinfo: reading config: %w", err)
	}
	return cfg, nil
}

// Get returns the first value of key, if present.
func (c Config) Get(key string) (string, bool) {
	vs, ok := c[key]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Values returns every value of key, in file order.
func (c Config) Values(key string) ([]string, bool) {
	vs, ok := c[key]
	return vs, ok
}
