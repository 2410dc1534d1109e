package episodic

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Truncation reasons.
const (
	ReasonRowCap    = "row_cap"
	ReasonCharCap   = "char_cap"
	ReasonFieldTrim = "field_trim"
)

// Caps bound the executed result set regardless of what the author wrote.
type Caps struct {
	MaxRows       int
	MaxFieldChars int
	MaxTotalChars int
}

// DefaultCaps are sized for a model-readable result block.
func DefaultCaps() Caps {
	return Caps{MaxRows: 20, MaxFieldChars: 200, MaxTotalChars: 4000}
}

// Result is a capped query result. Truncated is set whenever any cap cut
// content, with Reason naming the first cap hit.
type Result struct {
	Columns   []string
	Rows      [][]string
	Truncated bool
	Reason    string
}

// ExecCapped runs an already-validated query with a hard row cap wrapped
// around it, so an author-written LIMIT can never widen the result.
func ExecCapped(ctx context.Context, db *sql.DB, query string, caps Caps) (Result, error) {
	if caps.MaxRows <= 0 {
		caps = DefaultCaps()
	}
	q := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	wrapped := fmt.Sprintf("SELECT * FROM (%s) AS capped LIMIT %d", q, caps.MaxRows+1)

	rows, err := db.QueryContext(ctx, wrapped)
	if err != nil {
		return Result{}, fmt.Errorf("episodic: execute: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("episodic: columns: %w", err)
	}

	res := Result{Columns: cols}
	total := 0
	for _, c := range cols {
		total += len(c)
	}
	for rows.Next() {
		if len(res.Rows) >= caps.MaxRows {
			res.Truncated = true
			if res.Reason == "" {
				res.Reason = ReasonRowCap
			}
			break
		}
		vals := make([]any, len(cols))
		for i := range vals {
			vals[i] = new(any)
		}
		if err := rows.Scan(vals...); err != nil {
			return Result{}, fmt.Errorf("episodic: scan: %w", err)
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			cell := renderCell(*(v.(*any)))
			if len(cell) > caps.MaxFieldChars {
				cell = cell[:caps.MaxFieldChars]
				res.Truncated = true
				if res.Reason == "" {
					res.Reason = ReasonFieldTrim
				}
			}
			row[i] = cell
			total += len(cell)
		}
		if total > caps.MaxTotalChars {
			res.Truncated = true
			if res.Reason == "" {
				res.Reason = ReasonCharCap
			}
			break
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("episodic: iterate: %w", err)
	}
	return res, nil
}

// Render formats a result for the summarizer prompt. Truncation is always
// stated so cut results are never presented as complete.
func (r Result) Render() string {
	var b strings.Builder
	b.WriteString(strings.Join(r.Columns, " | "))
	b.WriteString("\n")
	for _, row := range r.Rows {
		b.WriteString(strings.Join(row, " | "))
		b.WriteString("\n")
	}
	if len(r.Rows) == 0 {
		b.WriteString("(no rows)\n")
	}
	if r.Truncated {
		fmt.Fprintf(&b, "(truncated: %s)\n", r.Reason)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}
