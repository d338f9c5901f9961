// Package ledger keeps a record of resolved exchanges for operators: which persona answered,
// how it ended and how long it took. Message text is never stored.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

const fileName = "holyagents_ledger.db"

// Entry is one resolved exchange.
type Entry struct {
	Persona       string
	Outcome       string
	Latency       time.Duration
	TranscriptLen int
	At            time.Time
}

// PersonaSummary aggregates the entries of one persona.
type PersonaSummary struct {
	Persona    string         `json:"persona"`
	Total      int            `json:"total"`
	OK         int            `json:"ok"`
	Failures   map[string]int `json:"failures"`
	AvgLatency time.Duration  `json:"avg_latency_ns"`
}

type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger database inside dataDir.
func Open(dataDir string) (*Ledger, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, fileName)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db}
	if err := l.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS exchanges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			persona_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			latency_ms INTEGER NOT NULL,
			transcript_len INTEGER NOT NULL,
			at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_at ON exchanges (at);`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_persona ON exchanges (persona_id, outcome);`,
	}
	for _, q := range queries {
		if _, err := l.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO exchanges (persona_id, outcome, latency_ms, transcript_len, at) VALUES (?, ?, ?, ?, ?)`,
		e.Persona, e.Outcome, e.Latency.Milliseconds(), e.TranscriptLen, e.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("record exchange: %w", err)
	}
	return nil
}

// Summarize aggregates entries recorded at or after since, ordered by persona.
// A zero since covers everything.
func (l *Ledger) Summarize(ctx context.Context, since time.Time) ([]PersonaSummary, error) {
	var from int64
	if !since.IsZero() {
		from = since.UnixMilli()
	}

	rows, err := l.db.QueryContext(ctx, `
	SELECT persona_id, outcome, COUNT(*), SUM(latency_ms)
	FROM exchanges
	WHERE at >= ?
	GROUP BY persona_id, outcome`, from)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byPersona := map[string]*PersonaSummary{}
	latency := map[string]int64{}
	for rows.Next() {
		var (
			persona, outcome string
			count            int
			sumMs            int64
		)
		if err := rows.Scan(&persona, &outcome, &count, &sumMs); err != nil {
			return nil, err
		}
		s, ok := byPersona[persona]
		if !ok {
			s = &PersonaSummary{Persona: persona, Failures: map[string]int{}}
			byPersona[persona] = s
		}
		s.Total += count
		if outcome == "ok" {
			s.OK += count
		} else {
			s.Failures[outcome] += count
		}
		latency[persona] += sumMs
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summaries := make([]PersonaSummary, 0, len(byPersona))
	for name, s := range byPersona {
		if s.Total > 0 {
			s.AvgLatency = time.Duration(latency[name]/int64(s.Total)) * time.Millisecond
		}
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Persona < summaries[j].Persona
	})
	return summaries, nil
}

// Prune deletes entries older than maxAge and returns how many were removed.
func (l *Ledger) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := l.db.ExecContext(ctx, `DELETE FROM exchanges WHERE at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune exchanges: %w", err)
	}
	return res.RowsAffected()
}
