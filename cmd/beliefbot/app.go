package main

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/beliefbot/config"
	"github.com/alejandrodnm/beliefbot/internal/adapters/belief"
	"github.com/alejandrodnm/beliefbot/internal/adapters/ledger"
	"github.com/alejandrodnm/beliefbot/internal/adapters/onchain"
	"github.com/alejandrodnm/beliefbot/internal/adapters/signer"
	"github.com/alejandrodnm/beliefbot/internal/adapters/statefile"
	"github.com/alejandrodnm/beliefbot/internal/application/snapshot"
	"github.com/alejandrodnm/beliefbot/internal/application/trader"
	"github.com/alejandrodnm/beliefbot/internal/application/valuation"
	"github.com/alejandrodnm/beliefbot/internal/domain"
	"github.com/alejandrodnm/beliefbot/internal/ports"
)

// app agrupa los componentes cableados para un comando.
type app struct {
	cfg     *config.Config
	wallet  string
	ledger  ports.Ledger
	store   *statefile.Store
	client  *belief.Client
	balance *onchain.BalanceClient
	signer  *signer.KeySigner
	snaps   *snapshot.Service
}

// openLedger abre el backend configurado.
func openLedger(cfg *config.Config) (ports.Ledger, error) {
	switch cfg.Storage.LedgerBackend {
	case config.LedgerSQLite:
		return ledger.NewSQLiteLedger(cfg.LedgerPath())
	default:
		return ledger.NewJSONLLedger(cfg.LedgerPath())
	}
}

// newApp cablea ledger, estado, API y saldo. withSigner exige la clave
// privada; sin ella la wallet sale solo de la config.
func newApp(cfg *config.Config, withSigner bool) (*app, error) {
	a := &app{cfg: cfg, wallet: cfg.Wallet.Address}

	if withSigner || cfg.Wallet.PrivateKey != "" {
		s, err := signer.NewKeySigner(cfg.Wallet.PrivateKey)
		if err != nil {
			if withSigner {
				return nil, &domain.ConfigurationError{Err: fmt.Errorf("WALLET_PRIVATE_KEY: %w", err)}
			}
			slog.Warn("ignoring invalid WALLET_PRIVATE_KEY", "err", err)
		} else {
			a.signer = s
			if a.wallet == "" {
				a.wallet = s.Address()
			}
		}
	}
	if a.wallet == "" {
		return nil, &domain.ConfigurationError{Err: domain.ErrMissingWallet}
	}
	// La clave firma por la wallet: si no es la misma, no se opera.
	if a.signer != nil && !sameAddress(a.wallet, a.signer.Address()) {
		if withSigner {
			return nil, &domain.ConfigurationError{
				Err:      domain.ErrWalletMismatch,
				Stored:   a.wallet,
				Provided: a.signer.Address(),
			}
		}
		slog.Warn("signer address differs from configured wallet, signer unused",
			"wallet", a.wallet, "signer", a.signer.Address())
	}

	l, err := openLedger(cfg)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.ledger = l

	a.balance, err = onchain.NewBalanceClient(cfg.API.RPCURL, cfg.API.USDCToken, cfg.API.USDCDecimals)
	if err != nil {
		_ = l.Close()
		return nil, err
	}

	a.store = statefile.New(cfg.StatePath(), cfg.InitialRisk())
	a.client = belief.NewClient(cfg.API.BaseURL)
	a.snaps = snapshot.New(a.client, a.balance, valuation.New(a.client), a.ledger, a.store)
	return a, nil
}

// sameAddress compara direcciones hex sin importar el checksum.
func sameAddress(a, b string) bool {
	return common.IsHexAddress(a) && common.HexToAddress(a) == common.HexToAddress(b)
}

// executor devuelve el ejecutor de trades. Requiere signer.
func (a *app) executor() *trader.Executor {
	return trader.New(a.client, a.signer, a.snaps, a.ledger, a.store)
}

func (a *app) Close() error {
	a.balance.Close()
	return a.ledger.Close()
}

// closeApp cierra y registra cualquier error.
func closeApp(a *app) {
	if err := a.Close(); err != nil {
		slog.Warn("close failed", "err", err)
	}
}
