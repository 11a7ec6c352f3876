package belief

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/alejandrodnm/beliefbot/internal/domain"
)

var errMissingField = errors.New("missing field")

// unwrap devuelve el contenido de {"data": ...} si existe; si no, raw tal cual.
func unwrap(raw json.RawMessage) json.RawMessage {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return raw
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return raw
	}
	return env.Data
}

func firstNum(candidates ...*flexNum) (float64, bool) {
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if v, ok := c.float(); ok {
			return v, true
		}
	}
	return 0, false
}

func firstList(candidates ...[]flexNum) []flexNum {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

// parsePosition normaliza la posición. Un share no numérico cuenta como 0;
// sin lista de shares, Shares queda nil.
func parsePosition(raw json.RawMessage) (domain.Position, error) {
	var dto positionDTO
	if err := json.Unmarshal(unwrap(raw), &dto); err != nil {
		return domain.Position{}, fmt.Errorf("parse position: %w", err)
	}

	var pos domain.Position
	if v, ok := firstNum(dto.USDCSnake, dto.USDCCamel, dto.USDC); ok {
		pos.SettlementBalance = &v
	}
	if lp := firstList(dto.LPSnake, dto.LPCamel, dto.LP, dto.Shares); lp != nil {
		pos.Shares = make([]float64, len(lp))
		for i, n := range lp {
			pos.Shares[i], _ = n.float()
		}
	}
	return pos, nil
}

// parsePrices acepta [..] o {"prices": [..]}, con o sin wrapper "data".
// Precios no numéricos cuentan como 0.
func parsePrices(raw json.RawMessage) ([]domain.OutcomePrice, error) {
	data := unwrap(raw)

	var list []priceDTO
	if err := json.Unmarshal(data, &list); err != nil {
		var obj pricesDTO
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, fmt.Errorf("parse prices: %w", err)
		}
		if obj.Prices == nil {
			return nil, fmt.Errorf("parse prices: prices: %w", errMissingField)
		}
		list = obj.Prices
	}

	out := make([]domain.OutcomePrice, len(list))
	for i, p := range list {
		price, _ := p.price.float()
		out[i] = domain.OutcomePrice{Outcome: p.outcome, Price: price}
	}
	return out, nil
}

// parseMarketMeta lee el título (o account.title) y los nombres de las
// respuestas. Respuestas sin título se nombran "Answer i".
func parseMarketMeta(raw json.RawMessage) (domain.MarketMeta, error) {
	var dto marketDTO
	if err := json.Unmarshal(unwrap(raw), &dto); err != nil {
		return domain.MarketMeta{}, fmt.Errorf("parse market: %w", err)
	}

	meta := domain.MarketMeta{Title: dto.Title}
	if meta.Title == "" && dto.Account != nil {
		meta.Title = dto.Account.Title
	}

	switch {
	case dto.Answers != nil:
		meta.Outcomes = make([]string, len(dto.Answers))
		for i, a := range dto.Answers {
			meta.Outcomes[i] = a.Title
			if strings.TrimSpace(a.Title) == "" {
				meta.Outcomes[i] = fmt.Sprintf("Answer %d", i)
			}
		}
	case dto.Outcomes != nil:
		meta.Outcomes = dto.Outcomes
	}
	return meta, nil
}

// parseCost lee costUsdc | cost_usdc | cost, hasta dos niveles de "data".
func parseCost(raw json.RawMessage) (float64, error) {
	data := unwrap(raw)
	for range 2 {
		var dto costDTO
		if err := json.Unmarshal(data, &dto); err != nil {
			return 0, fmt.Errorf("parse cost: %w", err)
		}
		if v, ok := firstNum(dto.CostUSDC, dto.CostSnake, dto.Cost); ok {
			return v, nil
		}
		data = unwrap(data)
	}
	return 0, fmt.Errorf("parse cost: costUsdc: %w", errMissingField)
}

// parseUnsignedTx extrae la transacción serializada. Si viene como string se
// usan sus bytes; si viene como objeto, el JSON crudo.
func parseUnsignedTx(raw json.RawMessage) ([]byte, error) {
	var dto buildDTO
	if err := json.Unmarshal(unwrap(raw), &dto); err != nil {
		return nil, fmt.Errorf("parse unsigned tx: %w", err)
	}

	for _, field := range []json.RawMessage{dto.Transaction, dto.Tx, dto.SerializedTx} {
		if len(field) == 0 || string(field) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(field, &s); err == nil {
			if s == "" {
				continue
			}
			return []byte(s), nil
		}
		return []byte(field), nil
	}
	return nil, fmt.Errorf("parse unsigned tx: transaction: %w", errMissingField)
}

// parseSubmitResult conserva la respuesta completa en Raw.
func parseSubmitResult(raw json.RawMessage) (domain.SubmitResult, error) {
	data := unwrap(raw)
	var dto submitDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("parse submit result: %w", err)
	}

	res := domain.SubmitResult{Status: dto.Status, Raw: raw}
	for _, id := range []string{dto.TxID, dto.TxIDSnake, dto.TxHash, dto.Signature} {
		if id != "" {
			res.TxID = id
			break
		}
	}
	if res.Status == "" {
		res.Status = "submitted"
	}
	return res, nil
}
