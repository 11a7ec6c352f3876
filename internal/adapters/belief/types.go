package belief

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/beliefbot/internal/domain"
)

// DTOs raw de la API de belief markets. Solo se usan dentro de este paquete.
// La API ha cambiado de forma varias veces (wrapper "data", snake/camel case,
// números como string); la normalización a domain se hace en mapping.go.

// --- requests ---

type costRequest struct {
	DeltaShares []float64 `json:"deltaShares"`
}

type buildRequest struct {
	Wallet      string    `json:"wallet"`
	DeltaShares []float64 `json:"deltaShares"`
}

type submitRequest struct {
	Transaction string `json:"transaction"`
	Signature   string `json:"signature"`
	Signer      string `json:"signer,omitempty"`
}

func newSubmitRequest(tx domain.SignedTx) submitRequest {
	return submitRequest{
		Transaction: string(tx.Payload),
		Signature:   hexutil.Encode(tx.Signature),
		Signer:      tx.Signer,
	}
}

// --- responses ---

// envelope es el wrapper {"data": ...} que devuelven algunos endpoints.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// flexNum acepta un número JSON o un string numérico. Cualquier otra cosa
// queda como ausente (ok=false) en vez de fallar el decode completo.
type flexNum struct {
	v  decimal.Decimal
	ok bool
}

func (f *flexNum) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	s = strings.Trim(s, `"`)
	if s == "" || s == "null" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	f.v, f.ok = d, true
	return nil
}

func (f flexNum) float() (float64, bool) {
	if !f.ok {
		return 0, false
	}
	v, _ := f.v.Float64()
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false // fuera de rango de float64
	}
	return v, true
}

// positionDTO cubre las variantes observadas de GET /markets/{id}/position.
type positionDTO struct {
	USDCSnake *flexNum `json:"usdc_balance"`
	USDCCamel *flexNum `json:"usdcBalance"`
	USDC      *flexNum `json:"usdc"`

	LPSnake []flexNum `json:"lp_balances"`
	LPCamel []flexNum `json:"lpBalances"`
	LP      []flexNum `json:"lp"`
	Shares  []flexNum `json:"shares"`
}

// priceDTO es un elemento de la lista de precios: un número suelto o un
// objeto {answer|outcome, price}.
type priceDTO struct {
	outcome string
	price   flexNum
}

func (p *priceDTO) UnmarshalJSON(b []byte) error {
	if t := strings.TrimSpace(string(b)); strings.HasPrefix(t, "{") {
		var o struct {
			Answer  string  `json:"answer"`
			Outcome string  `json:"outcome"`
			Price   flexNum `json:"price"`
		}
		if err := json.Unmarshal(b, &o); err != nil {
			return err
		}
		p.outcome = o.Outcome
		if p.outcome == "" {
			p.outcome = o.Answer
		}
		p.price = o.Price
		return nil
	}
	return json.Unmarshal(b, &p.price)
}

// pricesDTO es la variante {"prices": [...]}.
type pricesDTO struct {
	Prices []priceDTO `json:"prices"`
}

// marketDTO es GET /markets/{id}.
type marketDTO struct {
	Title   string `json:"title"`
	Account *struct {
		Title string `json:"title"`
	} `json:"account"`
	Answers []struct {
		Title string `json:"title"`
	} `json:"answers"`
	Outcomes []string `json:"outcomes"`
}

// costDTO es POST /markets/{id}/cost.
type costDTO struct {
	CostUSDC  *flexNum `json:"costUsdc"`
	CostSnake *flexNum `json:"cost_usdc"`
	Cost      *flexNum `json:"cost"`
}

// buildDTO es POST /markets/{id}/orders/build.
type buildDTO struct {
	Transaction  json.RawMessage `json:"transaction"`
	Tx           json.RawMessage `json:"tx"`
	SerializedTx json.RawMessage `json:"serializedTx"`
}

// submitDTO es POST /transactions.
type submitDTO struct {
	TxID      string `json:"txId"`
	TxIDSnake string `json:"tx_id"`
	TxHash    string `json:"txHash"`
	Signature string `json:"signature"`
	Status    string `json:"status"`
}
