package ledger

// jsonl.go — ledger en un archivo JSON Lines.
//
// Un evento por línea. Si el proceso muere a mitad de un write, la última
// línea queda truncada: Read la descarta con un warning y el siguiente
// Append empieza en una línea nueva para no fusionarse con el resto roto.

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alejandrodnm/beliefbot/internal/domain"
	"github.com/google/uuid"
)

// JSONLLedger implementa ports.Ledger sobre un archivo append-only.
type JSONLLedger struct {
	path string
	now  func() time.Time

	mu        sync.Mutex
	f         *os.File
	needsNewl bool // last byte on disk is not '\n' (torn tail)
}

// NewJSONLLedger abre (o crea) el archivo del ledger en path.
func NewJSONLLedger(path string) (*JSONLLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger.NewJSONLLedger: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger.NewJSONLLedger: open %q: %w", path, err)
	}

	torn, err := endsWithoutNewline(path)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ledger.NewJSONLLedger: inspect tail: %w", err)
	}
	if torn {
		slog.Warn("ledger: torn trailing record detected, next append starts a new line", "path", path)
	}

	return &JSONLLedger{
		path:      path,
		now:       time.Now,
		f:         f,
		needsNewl: torn,
	}, nil
}

// Append escribe un evento como una sola línea.
func (l *JSONLLedger) Append(_ context.Context, typ domain.EventType, payload any, meta domain.Meta) (domain.Event, error) {
	ev, err := newEvent(l.now(), typ, payload, meta)
	if err != nil {
		return domain.Event{}, fmt.Errorf("ledger.Append: %w", err)
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return domain.Event{}, fmt.Errorf("ledger.Append: marshal event: %w", err)
	}

	buf := make([]byte, 0, len(line)+2)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return domain.Event{}, errors.New("ledger.Append: ledger closed")
	}
	if l.needsNewl {
		buf = append(buf, '\n')
	}
	buf = append(buf, line...)
	buf = append(buf, '\n')

	// Un solo Write por registro: con O_APPEND el kernel lo posiciona al final.
	if _, err := l.f.Write(buf); err != nil {
		// Puede haber quedado un registro a medias en disco.
		l.needsNewl = true
		return domain.Event{}, fmt.Errorf("ledger.Append: write: %w", err)
	}
	l.needsNewl = false
	return ev, nil
}

// Read devuelve los eventos en orden de archivo, aplicando opts.
func (l *JSONLLedger) Read(ctx context.Context, opts domain.ReadOptions) ([]domain.Event, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return []domain.Event{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger.Read: open: %w", err)
	}
	defer f.Close()

	events := []domain.Event{}
	r := bufio.NewReader(f)
	lineNo := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, readErr := r.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			if ev, ok := parseLine(line, lineNo, l.path); ok && matches(ev, opts) {
				events = append(events, ev)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("ledger.Read: %w", readErr)
		}
	}
	return tail(events, opts.Limit), nil
}

// Close cierra el archivo.
func (l *JSONLLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// --- helpers internos ---

func newEvent(now time.Time, typ domain.EventType, payload any, meta domain.Meta) (domain.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal payload: %w", err)
	}
	return domain.Event{
		ID:      uuid.New().String(),
		TS:      now.UTC(),
		Type:    typ,
		Payload: raw,
		Meta:    meta,
	}, nil
}

func parseLine(line []byte, lineNo int, path string) (domain.Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return domain.Event{}, false
	}
	var ev domain.Event
	if err := json.Unmarshal(line, &ev); err != nil {
		slog.Warn("ledger: dropping unparsable record", "path", path, "line", lineNo, "err", err)
		return domain.Event{}, false
	}
	if ev.Type == "" {
		slog.Warn("ledger: dropping record without type", "path", path, "line", lineNo)
		return domain.Event{}, false
	}
	return ev, true
}

func matches(ev domain.Event, opts domain.ReadOptions) bool {
	return opts.Since.IsZero() || !ev.TS.Before(opts.Since)
}

func tail(events []domain.Event, limit int) []domain.Event {
	if limit > 0 && len(events) > limit {
		return events[len(events)-limit:]
	}
	return events
}

// endsWithoutNewline indica si un archivo no vacío no termina en '\n'.
func endsWithoutNewline(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}
