// Package dolt implements the ledger interface by wrapping the dolt CLI.
//
// Every operation shells out to dolt with the repository root as the
// working directory. Queries run through `dolt sql -r json` and decode into
// the typed rows of the ledger package; mutations run through SQL or the
// porcelain subcommands, whichever gives structured results. Failure modes
// callers must distinguish are classified from the subprocess output into
// the ledger sentinel errors exactly once, here.
package dolt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/PieterPrespective/git-multidolt-mcp-sub009/internal/ledger"
)

var _ ledger.Ledger = (*Dolt)(nil)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// Dolt implements ledger.Ledger over the dolt command-line tool.
type Dolt struct {
	// root is the repository root directory path
	root string

	// bin is the dolt executable, normally just "dolt"
	bin string

	logger *log.Logger
}

// Option configures a Dolt instance.
type Option func(*Dolt)

// WithLogger sets the logger. Nil loggers are replaced with a stderr default.
func WithLogger(logger *log.Logger) Option {
	return func(d *Dolt) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithBinary overrides the dolt executable path. Used by tests.
func WithBinary(bin string) Option {
	return func(d *Dolt) {
		if bin != "" {
			d.bin = bin
		}
	}
}

// New creates a Dolt ledger rooted at the given directory. The directory
// need not contain a repository yet; Init and Clone create one.
func New(root string, opts ...Option) *Dolt {
	d := &Dolt{
		root:   root,
		bin:    "dolt",
		logger: log.New(os.Stderr, "[dolt] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Root returns the repository root directory path.
func (d *Dolt) Root() string {
	return d.root
}

// run executes a dolt subcommand and returns its combined output.
// Errors are classified into ledger sentinels where the output allows it.
func (d *Dolt) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, d.bin, args...)
	cmd.Dir = d.root

	output, err := cmd.CombinedOutput()
	if err != nil {
		if classified := classify(string(output)); classified != nil {
			return output, fmt.Errorf("dolt %s: %w", args[0], classified)
		}
		return output, fmt.Errorf("dolt %s failed: %w\n%s",
			strings.Join(args, " "), err, string(output))
	}

	return output, nil
}

// sqlResult is the shape of `dolt sql -r json` output.
type sqlResult struct {
	Rows []map[string]any `json:"rows"`
}

// query runs a single SQL statement and decodes the JSON result rows.
func (d *Dolt) query(ctx context.Context, stmt string) ([]map[string]any, error) {
	cmd := exec.CommandContext(ctx, d.bin, "sql", "-r", "json", "-q", stmt)
	cmd.Dir = d.root

	output, err := cmd.CombinedOutput()
	if err != nil {
		if classified := classify(string(output)); classified != nil {
			return nil, fmt.Errorf("dolt sql: %w", classified)
		}
		return nil, fmt.Errorf("dolt sql failed: %w\n%s", err, string(output))
	}

	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return nil, nil
	}

	var result sqlResult
	if err := json.Unmarshal([]byte(trimmed), &result); err != nil {
		return nil, fmt.Errorf("failed to decode dolt sql output: %w\n%s", err, trimmed)
	}
	return result.Rows, nil
}

// exec runs SQL for its side effects, discarding any result set.
func (d *Dolt) execSQL(ctx context.Context, stmt string) error {
	_, err := d.query(ctx, stmt)
	return err
}

// script runs multiple SQL statements in one dolt session so they share a
// transaction. Statements are joined with the transaction wrapper; any
// failure rolls the whole batch back.
func (d *Dolt) script(ctx context.Context, stmts []string) error {
	if len(stmts) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("START TRANSACTION;\n")
	for _, s := range stmts {
		b.WriteString(s)
		if !strings.HasSuffix(strings.TrimSpace(s), ";") {
			b.WriteString(";")
		}
		b.WriteString("\n")
	}
	b.WriteString("COMMIT;\n")

	cmd := exec.CommandContext(ctx, d.bin, "sql")
	cmd.Dir = d.root
	cmd.Stdin = strings.NewReader(b.String())

	output, err := cmd.CombinedOutput()
	if err != nil {
		if classified := classify(string(output)); classified != nil {
			return fmt.Errorf("dolt sql script: %w", classified)
		}
		return fmt.Errorf("dolt sql script failed: %w\n%s", err, string(output))
	}
	return nil
}

// Exec executes a raw SQL statement against the working set.
func (d *Dolt) Exec(ctx context.Context, stmt string, args ...any) error {
	if len(args) > 0 {
		stmt = interpolate(stmt, args)
	}
	return d.execSQL(ctx, stmt)
}

// quote returns a single-quoted SQL string literal with MySQL-style
// escaping of backslashes and quotes.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `''`)
	return "'" + s + "'"
}

// interpolate substitutes ? placeholders with quoted literals. The dolt CLI
// has no prepared statements, so the few raw Exec callers get this instead.
func interpolate(stmt string, args []any) string {
	var b strings.Builder
	argIdx := 0
	for _, r := range stmt {
		if r == '?' && argIdx < len(args) {
			b.WriteString(literal(args[argIdx]))
			argIdx++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return quote(x)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case time.Time:
		return quote(x.UTC().Format("2006-01-02 15:04:05.000000"))
	default:
		return fmt.Sprintf("%v", x)
	}
}

// ===================
// Row value helpers
// ===================
// dolt sql -r json emits strings for text columns, json.Number-compatible
// floats for numerics, and formatted strings for datetimes.

func getString(row map[string]any, col string) string {
	if v, ok := row[col].(string); ok {
		return v
	}
	return ""
}

func getInt(row map[string]any, col string) int {
	switch v := row[col].(type) {
	case float64:
		return int(v)
	case string:
		var n int
		fmt.Sscanf(v, "%d", &n)
		return n
	}
	return 0
}

func getInt64(row map[string]any, col string) int64 {
	switch v := row[col].(type) {
	case float64:
		return int64(v)
	case string:
		var n int64
		fmt.Sscanf(v, "%d", &n)
		return n
	}
	return 0
}

var timeFormats = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

func getTime(row map[string]any, col string) time.Time {
	s := getString(row, col)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// getMetadata decodes a JSON object column into a flat string map.
// Non-string values are rendered with their JSON encoding.
func getMetadata(row map[string]any, col string) map[string]string {
	raw := row[col]
	if raw == nil {
		return nil
	}

	var obj map[string]any
	switch v := raw.(type) {
	case string:
		if v == "" || v == "null" {
			return nil
		}
		if err := json.Unmarshal([]byte(v), &obj); err != nil {
			return nil
		}
	case map[string]any:
		obj = v
	default:
		return nil
	}

	if len(obj) == 0 {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		enc, err := json.Marshal(v)
		if err != nil {
			continue
		}
		out[k] = string(enc)
	}
	return out
}

// metadataLiteral renders a string map as a JSON column literal.
func metadataLiteral(m map[string]string) string {
	if len(m) == 0 {
		return "NULL"
	}
	enc, err := json.Marshal(m)
	if err != nil {
		return "NULL"
	}
	return quote(string(enc))
}
