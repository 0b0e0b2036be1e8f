package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MinLeverage = 1
	MaxLeverage = 200
)

var ErrInvalidFields = errors.New("invalid signal fields")

// Classifier answers whether a text is a trading signal and extracts its
// fields. Extract returns nil when nothing usable could be extracted.
type Classifier interface {
	Classify(ctx context.Context, text string) (bool, error)
	Extract(ctx context.Context, text string) (*Fields, error)
}

type Fields struct {
	Symbol      string
	Side        string
	Leverage    *int
	StopLoss    []decimal.Decimal
	TakeProfits []decimal.Decimal
}

// quoteSuffixes are stripped from the end of a symbol, longest first so that
// USDT is not reduced to T by a USD match.
var quoteSuffixes = []string{
	"/USDT", "-USDT", "_USDT",
	"-PERP", "_PERP", "/PERP",
	"/USD", "-USD", "_USD",
	"USDT", "PERP", "USD",
}

// NormalizeSymbol turns inputs like "btc usdt", "BTC-PERP" or "btc_usdt" into
// the bare base asset ("BTC").
func NormalizeSymbol(raw string) (string, error) {
	s := strings.ToUpper(strings.Join(strings.Fields(raw), ""))
	for {
		trimmed := s
		for _, suffix := range quoteSuffixes {
			if strings.HasSuffix(trimmed, suffix) {
				trimmed = strings.TrimSuffix(trimmed, suffix)
				break
			}
		}
		if trimmed == s {
			break
		}
		s = trimmed
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return "", fmt.Errorf("%w: symbol %q is empty after normalization", ErrInvalidFields, raw)
	}
	return out, nil
}

// Validate returns a normalized copy of f. Out-of-range leverage and
// non-positive price levels are dropped; a missing symbol, an unknown side or
// an empty take-profit ladder make the fields invalid.
func Validate(f Fields) (Fields, error) {
	symbol, err := NormalizeSymbol(f.Symbol)
	if err != nil {
		return Fields{}, err
	}

	side := strings.ToLower(strings.TrimSpace(f.Side))
	if side != "long" && side != "short" {
		return Fields{}, fmt.Errorf("%w: side %q", ErrInvalidFields, f.Side)
	}

	out := Fields{
		Symbol:      symbol,
		Side:        side,
		StopLoss:    positiveLevels(f.StopLoss),
		TakeProfits: positiveLevels(f.TakeProfits),
	}
	if f.Leverage != nil && *f.Leverage >= MinLeverage && *f.Leverage <= MaxLeverage {
		lev := *f.Leverage
		out.Leverage = &lev
	}
	if len(out.TakeProfits) == 0 {
		return Fields{}, fmt.Errorf("%w: no take-profit levels", ErrInvalidFields)
	}
	return out, nil
}

func positiveLevels(in []decimal.Decimal) []decimal.Decimal {
	if len(in) == 0 {
		return nil
	}
	out := make([]decimal.Decimal, 0, len(in))
	for _, v := range in {
		if v.IsPositive() {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
