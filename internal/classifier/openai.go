package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signalcollector/internal/config"
)

const (
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 400
	defaultTimeout   = 30 * time.Second
)

const classifyPrompt = `You label messages from crypto trading channels.
Answer "yes" if the message is a trading signal: it names an asset and a direction (long/short, buy/sell) and gives take-profit targets.
Answer "no" for news, analysis, promotions, results and chatter.
Reply with a single word: yes or no.`

const extractPrompt = `Extract the trading signal from the message.
symbol: the base asset ticker, e.g. BTC for BTCUSDT.
side: "long" or "short" (buy means long, sell means short).
leverage: integer multiplier if stated, otherwise omit.
stop_loss: stop-loss price levels, otherwise omit.
take_profits: take-profit price levels in the order given.
Messages may be in English or Russian.`

// extraction is the wire shape requested from the model.
type extraction struct {
	Symbol      string    `json:"symbol" jsonschema:"description=Base asset ticker"`
	Side        string    `json:"side" jsonschema:"enum=long,enum=short"`
	Leverage    *int      `json:"leverage,omitempty" jsonschema:"minimum=1,maximum=200"`
	StopLoss    []float64 `json:"stop_loss,omitempty"`
	TakeProfits []float64 `json:"take_profits"`
}

func extractionSchema() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(&extraction{})
}

type OpenAI struct {
	client    openai.Client
	model     string
	maxTokens int64
	timeout   time.Duration
	schema    any
	logger    *zap.Logger
}

func NewOpenAI(cfg config.ClassifierConfig, logger *zap.Logger) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("classifier api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &OpenAI{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: int64(maxTokens),
		timeout:   timeout,
		schema:    extractionSchema(),
		logger:    logger.With(zap.String("component", "classifier")),
	}, nil
}

func (c *OpenAI) Classify(ctx context.Context, text string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(classifyPrompt),
			openai.UserMessage(text),
		},
		Temperature: openai.Float(0),
		MaxTokens:   openai.Int(c.maxTokens),
	})
	if err != nil {
		return false, fmt.Errorf("classify: %w", err)
	}
	if len(resp.Choices) == 0 {
		return false, errors.New("classify: empty response")
	}
	return parseYesNo(resp.Choices[0].Message.Content), nil
}

func (c *OpenAI) Extract(ctx context.Context, text string) (*Fields, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(extractPrompt),
			openai.UserMessage(text),
		},
		Temperature: openai.Float(0),
		MaxTokens:   openai.Int(c.maxTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "trading_signal",
					Description: openai.String("Structured fields of a crypto trading signal"),
					Schema:      c.schema,
					Strict:      openai.Bool(false),
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("extract: empty response")
	}
	fields, err := decodeExtraction(resp.Choices[0].Message.Content)
	if err != nil {
		c.logger.Debug("extraction rejected", zap.Error(err))
		return nil, nil
	}
	return fields, nil
}

func parseYesNo(reply string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(reply)), "y")
}

// decodeExtraction parses the model's JSON reply. Replies missing the symbol,
// the side or every take-profit are rejected.
func decodeExtraction(raw string) (*Fields, error) {
	var wire extraction
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &wire); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}
	if strings.TrimSpace(wire.Symbol) == "" || strings.TrimSpace(wire.Side) == "" || len(wire.TakeProfits) == 0 {
		return nil, fmt.Errorf("%w: incomplete extraction", ErrInvalidFields)
	}
	return &Fields{
		Symbol:      wire.Symbol,
		Side:        wire.Side,
		Leverage:    wire.Leverage,
		StopLoss:    toDecimals(wire.StopLoss),
		TakeProfits: toDecimals(wire.TakeProfits),
	}, nil
}

func toDecimals(in []float64) []decimal.Decimal {
	if len(in) == 0 {
		return nil
	}
	out := make([]decimal.Decimal, 0, len(in))
	for _, v := range in {
		out = append(out, decimal.NewFromFloat(v))
	}
	return out
}
