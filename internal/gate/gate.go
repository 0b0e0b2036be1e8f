package gate

import (
	"regexp"
	"strings"
	"sync"
)

const DefaultThreshold = 2

// minPriceTokens is how many standalone numbers count as one "price density" hit.
const minPriceTokens = 3

// Category is one independent piece of evidence that a text is a trading signal.
type Category string

const (
	CategorySymbol   Category = "symbol"
	CategorySide     Category = "side"
	CategoryTP       Category = "take_profit"
	CategorySL       Category = "stop_loss"
	CategoryEntry    Category = "entry"
	CategoryLeverage Category = "leverage"
	CategoryPrices   Category = "price_density"
)

type Rule struct {
	Category Category
	Pattern  string

	compiled *regexp.Regexp
}

// Word boundaries are spelled out because \b in RE2 is ASCII-only and the
// keyword lists include Cyrillic.
const (
	wordStart = `(?:^|[^\p{L}\p{N}_])`
	wordEnd   = `(?:[^\p{L}\p{N}_]|$)`
)

func word(body string) string {
	return wordStart + `(?:` + body + `)` + wordEnd
}

func DefaultRules() []Rule {
	return []Rule{
		{
			// Case-sensitive: tickers are written upper-case, and matching any
			// word would make this category always true.
			Category: CategorySymbol,
			Pattern:  word(`\$[A-Za-z][A-Za-z0-9]{1,14}|[A-Z][A-Z0-9]{1,14}(?:[-_/]?(?:USDT|USD|PERP))?`),
		},
		{
			Category: CategorySide,
			Pattern:  `(?i)` + word(`long|short|buy|sell|лонг|шорт|покуп(?:ка|аем|ать)|купить|продажа|прода(?:ем|ть)`),
		},
		{
			Category: CategoryTP,
			Pattern:  `(?i)` + word(`tp\d?|t/p|take\s*profits?|тейк(?:\s*профит)?|цели?|targets?`),
		},
		{
			Category: CategorySL,
			Pattern:  `(?i)` + word(`sl|s/l|stop\s*loss|стоп(?:\s*лосс)?|стоплосс`),
		},
		{
			Category: CategoryEntry,
			Pattern:  `(?i)` + word(`entry(?:\s*point)?|enter|вход|заходим`),
		},
		{
			Category: CategoryLeverage,
			Pattern:  `(?i)` + word(`\d{1,3}\s*[xх]|[xх]\s*\d{1,3}|(?:lev(?:erage)?|плечо|кредитное\s*плечо)\s*:?\s*\d{1,3}`),
		},
	}
}

// Gate is a cheap keyword pre-filter run before the classifier. It is safe for
// concurrent use.
type Gate struct {
	Threshold int
	Rules     []Rule

	once sync.Once
}

func New(threshold int) *Gate {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Gate{Threshold: threshold, Rules: DefaultRules()}
}

func (g *Gate) compile() {
	g.once.Do(func() {
		if len(g.Rules) == 0 {
			g.Rules = DefaultRules()
		}
		for i := range g.Rules {
			if g.Rules[i].compiled == nil {
				g.Rules[i].compiled = regexp.MustCompile(g.Rules[i].Pattern)
			}
		}
	})
}

// Score returns the categories present in text, in rule order.
func (g *Gate) Score(text string) []Category {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	g.compile()

	var hits []Category
	for _, rule := range g.Rules {
		if rule.compiled.MatchString(text) {
			hits = append(hits, rule.Category)
		}
	}
	if countPriceTokens(text) >= minPriceTokens {
		hits = append(hits, CategoryPrices)
	}
	return hits
}

// LooksLikeSignal reports whether at least Threshold categories are present.
// Blank text is always rejected.
func (g *Gate) LooksLikeSignal(text string) bool {
	threshold := g.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return len(g.Score(text)) >= threshold
}

var (
	tokenRE  = regexp.MustCompile(`[\p{L}\p{N}_.,]+`)
	numberRE = regexp.MustCompile(`^\d+(?:[.,]\d+)?$`)
)

func countPriceTokens(text string) int {
	n := 0
	for _, tok := range tokenRE.FindAllString(text, -1) {
		tok = strings.TrimRight(tok, ".,")
		if numberRE.MatchString(tok) {
			n++
		}
	}
	return n
}
