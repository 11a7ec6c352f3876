package statefile

// store.go — documento de estado persistido de forma atómica.
//
// Save escribe un archivo temporal en el mismo directorio, hace fsync y lo
// renombra sobre la ruta canónica. rename(2) es atómico dentro del mismo
// filesystem: un lector ve el documento anterior completo o el nuevo completo.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/alejandrodnm/beliefbot/internal/domain"
)

// Store implementa ports.StateStore sobre un único archivo JSON.
type Store struct {
	path        string
	initialRisk domain.Risk
	now         func() time.Time

	// rename se sustituye en tests para simular un crash antes del rename.
	rename func(oldpath, newpath string) error
}

// New devuelve un store que escribe en path. initialRisk solo se aplica al
// crear el estado por primera vez.
func New(path string, initialRisk domain.Risk) *Store {
	return &Store{
		path:        path,
		initialRisk: initialRisk,
		now:         time.Now,
		rename:      os.Rename,
	}
}

// Path devuelve la ruta canónica del documento.
func (s *Store) Path() string { return s.path }

// Load lee el documento de estado. Devuelve nil, nil si no existe.
func (s *Store) Load(_ context.Context) (*domain.State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("statefile.Load: read %q: %w", s.path, err)
	}
	st, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("statefile.Load: %w", err)
	}
	return st, nil
}

// Ensure devuelve el estado guardado; la primera vez lo crea y lo persiste.
func (s *Store) Ensure(ctx context.Context, wallet string) (*domain.State, error) {
	st, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}

	if st == nil {
		if wallet == "" {
			return nil, &domain.ConfigurationError{Err: domain.ErrMissingWallet}
		}
		st = domain.NewState(wallet, backfillRisk(s.initialRisk), s.now().Round(0))
		if err := s.Save(ctx, st); err != nil {
			return nil, err
		}
		slog.Info("state: created", "wallet", wallet, "path", s.path)
		return st, nil
	}

	// No cambiar de wallet en silencio: corrompería el histórico de NAV y los contadores.
	if wallet != "" && st.WalletAddress != wallet {
		return nil, &domain.ConfigurationError{
			Err:      domain.ErrWalletMismatch,
			Stored:   st.WalletAddress,
			Provided: wallet,
		}
	}
	return st, nil
}

// Save reemplaza el documento de estado de forma atómica.
func (s *Store) Save(_ context.Context, st *domain.State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return &domain.PersistenceError{Op: "marshal", Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &domain.PersistenceError{Op: "mkdir", Err: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return &domain.PersistenceError{Op: "create temp", Err: err}
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &domain.PersistenceError{Op: "write temp", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &domain.PersistenceError{Op: "sync temp", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &domain.PersistenceError{Op: "close temp", Err: err}
	}
	if err := s.rename(tmpPath, s.path); err != nil {
		return &domain.PersistenceError{Op: "rename", Err: err}
	}
	committed = true
	return nil
}

// --- decoding ---

// stateDoc refleja domain.State pero deja risk en crudo: un campo ausente o
// no numérico se rellena con el default en vez de fallar la carga.
type stateDoc struct {
	Version       int                             `json:"version"`
	CreatedAt     time.Time                       `json:"createdAt"`
	WalletAddress string                          `json:"walletAddress"`
	LastNAV       *float64                        `json:"lastNav"`
	NAVSeries     []domain.NAVPoint               `json:"navSeries"`
	Daily         map[string]domain.DailyNAV      `json:"daily"`
	Positions     map[string]domain.PositionCache `json:"positions"`
	Risk          json.RawMessage                 `json:"risk"`
	Stats         domain.Stats                    `json:"stats"`
}

func decode(data []byte) (*domain.State, error) {
	var doc stateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}

	st := &domain.State{
		Version:       doc.Version,
		CreatedAt:     doc.CreatedAt,
		WalletAddress: doc.WalletAddress,
		LastNAV:       doc.LastNAV,
		NAVSeries:     doc.NAVSeries,
		Daily:         doc.Daily,
		Positions:     doc.Positions,
		Risk:          decodeRisk(doc.Risk),
		Stats:         doc.Stats,
	}
	if st.NAVSeries == nil {
		st.NAVSeries = []domain.NAVPoint{}
	}
	if st.Daily == nil {
		st.Daily = map[string]domain.DailyNAV{}
	}
	if st.Positions == nil {
		st.Positions = map[string]domain.PositionCache{}
	}
	return st, nil
}

// decodeRisk lee cada campo de risk por separado; lo ausente o no finito
// toma el default.
func decodeRisk(raw json.RawMessage) domain.Risk {
	def := domain.DefaultRisk()
	var fields map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil {
		return def
	}

	r := def
	if v, ok := number(fields["maxCostUsdc"]); ok {
		r.MaxCostUSDC = v
	}
	if v, ok := number(fields["cooldownSec"]); ok {
		r.CooldownSec = v
	}
	if v, ok := number(fields["maxTradesPerDay"]); ok {
		r.MaxTradesPerDay = int(v)
	}
	return r
}

func number(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// backfillRisk applies defaults to zero-valued limits coming from config.
func backfillRisk(r domain.Risk) domain.Risk {
	def := domain.DefaultRisk()
	if r.MaxCostUSDC <= 0 {
		r.MaxCostUSDC = def.MaxCostUSDC
	}
	if r.MaxTradesPerDay <= 0 {
		r.MaxTradesPerDay = def.MaxTradesPerDay
	}
	if r.CooldownSec < 0 {
		r.CooldownSec = def.CooldownSec
	}
	return r
}
