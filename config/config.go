package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/beliefbot/internal/domain"
)

// Ledger backends.
const (
	LedgerJSONL  = "jsonl"
	LedgerSQLite = "sqlite"
)

// Config es la configuración completa del agente. Se construye una vez en
// main y se inyecta en cada componente.
type Config struct {
	Wallet  WalletConfig  `yaml:"wallet"`
	API     APIConfig     `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`
	Risk    RiskConfig    `yaml:"risk"`
	Log     LogConfig     `yaml:"log"`
}

// WalletConfig identifica la wallet operada. La clave privada nunca se lee
// del YAML: solo de WALLET_PRIVATE_KEY.
type WalletConfig struct {
	Address    string `yaml:"address"`
	PrivateKey string `yaml:"-"`
}

// APIConfig contiene los endpoints externos.
type APIConfig struct {
	BaseURL      string `yaml:"base_url"`      // belief markets API
	RPCURL       string `yaml:"rpc_url"`       // JSON-RPC para el saldo USDC
	USDCToken    string `yaml:"usdc_token"`    // dirección ERC-20
	USDCDecimals int    `yaml:"usdc_decimals"` // 0 = leer del contrato
}

// StorageConfig controla dónde se persisten ledger y estado.
type StorageConfig struct {
	DataDir       string `yaml:"data_dir"`
	LedgerBackend string `yaml:"ledger_backend"` // jsonl | sqlite
}

// RiskConfig son los límites iniciales de un estado nuevo. Un estado ya
// existente conserva los suyos.
type RiskConfig struct {
	MaxCostUSDC     float64 `yaml:"max_cost_usdc"`
	CooldownSec     float64 `yaml:"cooldown_sec"`
	MaxTradesPerDay int     `yaml:"max_trades_per_day"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Si el YAML no existe se usan defaults + variables de entorno.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Validate rechaza combinaciones que no tienen sentido.
func (c *Config) Validate() error {
	switch c.Storage.LedgerBackend {
	case LedgerJSONL, LedgerSQLite:
	default:
		return fmt.Errorf("unknown ledger backend %q (want %s|%s)", c.Storage.LedgerBackend, LedgerJSONL, LedgerSQLite)
	}
	if c.Risk.MaxCostUSDC < 0 || c.Risk.CooldownSec < 0 || c.Risk.MaxTradesPerDay < 0 {
		return errors.New("risk limits must not be negative")
	}
	if c.API.USDCDecimals < 0 {
		return errors.New("api.usdc_decimals must not be negative")
	}
	return nil
}

// StatePath devuelve la ruta del documento de estado.
func (c *Config) StatePath() string {
	return filepath.Join(c.Storage.DataDir, "state.json")
}

// LedgerPath devuelve la ruta del ledger según el backend.
func (c *Config) LedgerPath() string {
	if c.Storage.LedgerBackend == LedgerSQLite {
		return filepath.Join(c.Storage.DataDir, "ledger.db")
	}
	return filepath.Join(c.Storage.DataDir, "ledger.jsonl")
}

// InitialRisk devuelve los límites para un estado nuevo.
func (c *Config) InitialRisk() domain.Risk {
	return domain.Risk{
		MaxCostUSDC:     c.Risk.MaxCostUSDC,
		CooldownSec:     c.Risk.CooldownSec,
		MaxTradesPerDay: c.Risk.MaxTradesPerDay,
	}
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("WALLET_ADDRESS"); v != "" {
		cfg.Wallet.Address = v
	}
	if v := os.Getenv("WALLET_PRIVATE_KEY"); v != "" {
		cfg.Wallet.PrivateKey = v
	}
	if v := os.Getenv("BELIEF_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.API.RPCURL = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("LEDGER_BACKEND"); v != "" {
		cfg.Storage.LedgerBackend = v
	}
	if v := os.Getenv("MAX_COST_USDC"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MAX_COST_USDC: %w", err)
		}
		cfg.Risk.MaxCostUSDC = f
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "https://api.belief.markets"
	}
	if cfg.API.RPCURL == "" {
		cfg.API.RPCURL = "https://polygon-rpc.com"
	}
	if cfg.API.USDCDecimals == 0 && cfg.API.USDCToken == "" {
		cfg.API.USDCDecimals = 6 // USDC por defecto
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.LedgerBackend == "" {
		cfg.Storage.LedgerBackend = LedgerJSONL
	}
	if cfg.Risk.MaxCostUSDC == 0 {
		cfg.Risk.MaxCostUSDC = domain.DefaultMaxCostUSDC
	}
	if cfg.Risk.MaxTradesPerDay == 0 {
		cfg.Risk.MaxTradesPerDay = domain.DefaultMaxTradesPerDay
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
