package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"signalcollector/internal/classifier"
	"signalcollector/internal/events"
	"signalcollector/internal/gate"
	"signalcollector/internal/models"
	"signalcollector/internal/repository"
	"signalcollector/internal/source"
)

type Outcome string

const (
	OutcomeEmpty            Outcome = "empty"
	OutcomeNotSignal        Outcome = "not_signal"
	OutcomeExtractionFailed Outcome = "extraction_failed"
	OutcomeInvalid          Outcome = "invalid"
	OutcomeCreated          Outcome = "created"
	OutcomeDuplicate        Outcome = "duplicate"
)

type IngestResult struct {
	Outcome    Outcome
	GateHits   []gate.Category
	Classified bool
	Signal     *models.Signal
}

// Pipeline turns one delivered message into at most one stored signal. The
// channel row is refreshed for every message, signal or not.
type Pipeline struct {
	Repo       repository.Repository
	Gate       *gate.Gate
	Classifier classifier.Classifier
	Flags      *SystemSettingsService
	Events     events.Publisher
	Logger     *zap.Logger
}

// Handle adapts the pipeline to source.Handler.
func (p *Pipeline) Handle(ctx context.Context, env source.Envelope) error {
	_, err := p.Process(ctx, env)
	return err
}

func (p *Pipeline) Process(ctx context.Context, env source.Envelope) (IngestResult, error) {
	var res IngestResult
	if p == nil || p.Repo == nil {
		return res, fmt.Errorf("pipeline is not configured")
	}
	log := p.logger().With(zap.Int64("channel_id", env.ChannelID), zap.Int64("message_id", env.MessageID))

	text := strings.TrimSpace(env.Text)
	if text == "" {
		res.Outcome = OutcomeEmpty
		return res, p.touchChannel(ctx, env)
	}

	if p.Gate != nil {
		res.GateHits = p.Gate.Score(text)
	}
	passed := p.Gate != nil && len(res.GateHits) >= p.threshold()
	if passed && p.Flags != nil && !p.Flags.IsEnabled(ctx, FeatureGateShortcut, true) {
		passed = false
	}

	if !passed {
		if p.Classifier == nil {
			res.Outcome = OutcomeNotSignal
			return res, p.touchChannel(ctx, env)
		}
		ok, err := p.Classifier.Classify(ctx, text)
		if err != nil {
			return res, fmt.Errorf("classify message %d/%d: %w", env.ChannelID, env.MessageID, err)
		}
		res.Classified = true
		if !ok {
			log.Debug("message is not a signal", zap.Int("gate_hits", len(res.GateHits)))
			res.Outcome = OutcomeNotSignal
			return res, p.touchChannel(ctx, env)
		}
	}

	var fields *classifier.Fields
	if p.Classifier != nil {
		var err error
		fields, err = p.Classifier.Extract(ctx, text)
		if err != nil {
			log.Warn("signal extraction failed", zap.Error(err))
			fields = nil
		}
	}
	if fields == nil {
		res.Outcome = OutcomeExtractionFailed
		return res, p.touchChannel(ctx, env)
	}

	valid, err := classifier.Validate(*fields)
	if err != nil {
		log.Debug("extracted fields rejected", zap.Error(err))
		res.Outcome = OutcomeInvalid
		return res, p.touchChannel(ctx, env)
	}

	if err := p.touchChannel(ctx, env); err != nil {
		return res, err
	}

	sig := &models.Signal{
		ChannelID:    env.ChannelID,
		MessageID:    env.MessageID,
		MessageDate:  env.Date.UTC(),
		Symbol:       valid.Symbol,
		Side:         models.Side(valid.Side),
		Leverage:     valid.Leverage,
		StopLoss:     datatypes.JSONSlice[decimal.Decimal](valid.StopLoss),
		TakeProfits:  datatypes.JSONSlice[decimal.Decimal](valid.TakeProfits),
		OriginalText: text,
	}
	created, err := p.Repo.InsertSignal(ctx, sig)
	if err != nil {
		return res, fmt.Errorf("insert signal %d/%d: %w", env.ChannelID, env.MessageID, err)
	}
	if !created {
		log.Info("duplicate signal ignored")
		res.Outcome = OutcomeDuplicate
		return res, nil
	}

	log.Info("signal created",
		zap.Uint64("signal_id", sig.ID),
		zap.String("symbol", sig.Symbol),
		zap.String("side", string(sig.Side)),
		zap.Int("take_profits", len(sig.TakeProfits)),
	)
	if p.Events != nil {
		p.Events.Publish(events.Event{
			Type:      events.SignalCreated,
			SignalID:  sig.ID,
			ChannelID: sig.ChannelID,
			MessageID: sig.MessageID,
			Symbol:    sig.Symbol,
			Side:      string(sig.Side),
			Text:      sig.OriginalText,
		})
	}
	res.Outcome = OutcomeCreated
	res.Signal = sig
	return res, nil
}

func (p *Pipeline) touchChannel(ctx context.Context, env source.Envelope) error {
	lastID := env.MessageID
	err := p.Repo.UpsertChannel(ctx, repository.ChannelUpsert{
		ID:            env.ChannelID,
		Title:         env.ChannelTitle,
		Username:      env.ChannelHandle,
		LastMessageID: &lastID,
	})
	if err != nil {
		return fmt.Errorf("upsert channel %d: %w", env.ChannelID, err)
	}
	return nil
}

func (p *Pipeline) threshold() int {
	if p.Gate == nil || p.Gate.Threshold <= 0 {
		return gate.DefaultThreshold
	}
	return p.Gate.Threshold
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger.With(zap.String("component", "pipeline"))
}
