package onchain

// balance.go — saldo USDC (ERC-20) de una wallet vía eth_call.
//
// balanceOf devuelve unidades mínimas; se dividen por 10^decimals. Si los
// decimales no vienen configurados se leen una vez del contrato.

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// USDC nativo en Polygon.
const DefaultUSDCAddress = "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"

var erc20ABI abi.ABI

func init() {
	var err error
	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "balanceOf",
			"type": "function",
			"inputs": [{"name": "owner", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "decimals",
			"type": "function",
			"inputs": [],
			"outputs": [{"name": "", "type": "uint8"}]
		}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}
}

// BalanceClient implementa ports.BalanceProvider para un token ERC-20.
type BalanceClient struct {
	client *ethclient.Client
	token  common.Address

	mu       sync.Mutex
	decimals int32 // 0 = todavía no conocido
}

// NewBalanceClient conecta con rpcURL. token es la dirección ERC-20 (vacío =
// USDC en Polygon); decimals <= 0 significa leerlos del contrato.
func NewBalanceClient(rpcURL, token string, decimals int) (*BalanceClient, error) {
	if token == "" {
		token = DefaultUSDCAddress
	}
	if !common.IsHexAddress(token) {
		return nil, fmt.Errorf("onchain.NewBalanceClient: invalid token address %q", token)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain.NewBalanceClient: dial rpc %s: %w", rpcURL, err)
	}

	bc := &BalanceClient{
		client: client,
		token:  common.HexToAddress(token),
	}
	if decimals > 0 {
		bc.decimals = int32(decimals)
	}
	return bc, nil
}

// Balance devuelve el saldo de wallet en unidades enteras del token.
func (bc *BalanceClient) Balance(ctx context.Context, wallet string) (float64, error) {
	if !common.IsHexAddress(wallet) {
		return 0, fmt.Errorf("onchain.Balance: invalid wallet address %q", wallet)
	}

	dec, err := bc.tokenDecimals(ctx)
	if err != nil {
		return 0, fmt.Errorf("onchain.Balance: %w", err)
	}

	vals, err := bc.call(ctx, "balanceOf", common.HexToAddress(wallet))
	if err != nil {
		return 0, fmt.Errorf("onchain.Balance: %w", err)
	}
	raw, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("onchain.Balance: unexpected balanceOf type %T", vals[0])
	}

	bal, _ := decimal.NewFromBigInt(raw, -dec).Float64()
	return bal, nil
}

// Close libera la conexión RPC.
func (bc *BalanceClient) Close() {
	bc.client.Close()
}

func (bc *BalanceClient) tokenDecimals(ctx context.Context) (int32, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.decimals > 0 {
		return bc.decimals, nil
	}

	vals, err := bc.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", vals[0])
	}
	bc.decimals = int32(d)
	return bc.decimals, nil
}

func (bc *BalanceClient) call(ctx context.Context, method string, args ...any) ([]any, error) {
	callData, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: pack: %w", method, err)
	}

	result, err := bc.client.CallContract(ctx, ethereum.CallMsg{
		To:   &bc.token,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: rpc call: %w", method, err)
	}

	vals, err := erc20ABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("%s: unpack: %w", method, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return vals, nil
}
