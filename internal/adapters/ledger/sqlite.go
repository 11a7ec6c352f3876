package ledger

// sqlite.go — ledger en SQLite (pure Go, sin CGo).
//
// Estrategia:
//   - `events`: una fila por evento, `seq` AUTOINCREMENT define el orden de append.
//   - Triggers rechazan UPDATE y DELETE: el append-only se garantiza también en disco.
//   - Payload y meta se guardan como TEXT JSON; una fila con JSON inválido se
//     descarta en Read con un warning, igual que una línea rota en jsonl.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/beliefbot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    seq     INTEGER PRIMARY KEY AUTOINCREMENT,
    id      TEXT    NOT NULL UNIQUE,
    ts      TEXT    NOT NULL,
    type    TEXT    NOT NULL,
    payload TEXT    NOT NULL,
    meta    TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);

CREATE TRIGGER IF NOT EXISTS events_no_update BEFORE UPDATE ON events
BEGIN
    SELECT RAISE(ABORT, 'ledger is append-only');
END;

CREATE TRIGGER IF NOT EXISTS events_no_delete BEFORE DELETE ON events
BEGIN
    SELECT RAISE(ABORT, 'ledger is append-only');
END;
`

// tsLayout es de ancho fijo para que el orden lexicográfico sea cronológico.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteLedger implementa ports.Ledger sobre SQLite.
type SQLiteLedger struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteLedger abre (o crea) la base de datos del ledger en path.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger.NewSQLiteLedger: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger.NewSQLiteLedger: apply schema: %w", err)
	}
	return &SQLiteLedger{db: db, now: time.Now}, nil
}

// Append inserta una fila por evento.
func (l *SQLiteLedger) Append(ctx context.Context, typ domain.EventType, payload any, meta domain.Meta) (domain.Event, error) {
	ev, err := newEvent(l.now(), typ, payload, meta)
	if err != nil {
		return domain.Event{}, fmt.Errorf("ledger.Append: %w", err)
	}

	var metaJSON sql.NullString
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return domain.Event{}, fmt.Errorf("ledger.Append: marshal meta: %w", err)
		}
		metaJSON = sql.NullString{String: string(b), Valid: true}
	}

	if _, err := l.db.ExecContext(ctx,
		`INSERT INTO events (id, ts, type, payload, meta) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.TS.Format(tsLayout), string(ev.Type), string(ev.Payload), metaJSON,
	); err != nil {
		return domain.Event{}, fmt.Errorf("ledger.Append: insert: %w", err)
	}
	return ev, nil
}

// Read devuelve los eventos ordenados por seq, aplicando opts.
func (l *SQLiteLedger) Read(ctx context.Context, opts domain.ReadOptions) ([]domain.Event, error) {
	query := `SELECT seq, id, ts, type, payload, meta FROM events WHERE ts >= ? ORDER BY seq`
	args := []any{""}
	if !opts.Since.IsZero() {
		args[0] = opts.Since.UTC().Format(tsLayout)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger.Read: query: %w", err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var (
			seq                      int64
			id, ts, typ, payloadText string
			metaText                 sql.NullString
		)
		if err := rows.Scan(&seq, &id, &ts, &typ, &payloadText, &metaText); err != nil {
			return nil, fmt.Errorf("ledger.Read: scan row: %w", err)
		}

		ev, ok := decodeRow(seq, id, ts, typ, payloadText, metaText)
		if ok {
			events = append(events, ev)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger.Read: %w", err)
	}
	return tail(events, opts.Limit), nil
}

// Close cierra la conexión a la base de datos.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func decodeRow(seq int64, id, ts, typ, payloadText string, metaText sql.NullString) (domain.Event, bool) {
	parsedTS, err := time.Parse(tsLayout, ts)
	if err != nil {
		slog.Warn("ledger: dropping row with bad timestamp", "seq", seq, "err", err)
		return domain.Event{}, false
	}
	if !json.Valid([]byte(payloadText)) {
		slog.Warn("ledger: dropping row with unparsable payload", "seq", seq)
		return domain.Event{}, false
	}

	ev := domain.Event{
		ID:      id,
		TS:      parsedTS,
		Type:    domain.EventType(typ),
		Payload: json.RawMessage(payloadText),
	}
	if metaText.Valid && metaText.String != "" {
		if err := json.Unmarshal([]byte(metaText.String), &ev.Meta); err != nil {
			slog.Warn("ledger: dropping row with unparsable meta", "seq", seq, "err", err)
			return domain.Event{}, false
		}
	}
	return ev, true
}
