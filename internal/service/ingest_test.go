package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"signalcollector/internal/classifier"
	"signalcollector/internal/events"
	"signalcollector/internal/gate"
	"signalcollector/internal/models"
	"signalcollector/internal/repository"
	"signalcollector/internal/source"
)

const sampleText = "BTC long entry 60000, TP 62000 63000, SL 59000"

func sampleFields() *classifier.Fields {
	return &classifier.Fields{
		Symbol:      "BTCUSDT",
		Side:        "long",
		StopLoss:    []decimal.Decimal{decimal.NewFromInt(59000)},
		TakeProfits: []decimal.Decimal{decimal.NewFromInt(62000), decimal.NewFromInt(63000)},
	}
}

func sampleEnvelope() source.Envelope {
	return source.Envelope{
		ChannelID:     100,
		ChannelTitle:  "Alpha Signals",
		ChannelHandle: "alpha",
		MessageID:     5001,
		Date:          time.Date(2026, 5, 1, 10, 0, 0, 0, time.FixedZone("UTC+3", 3*3600)),
		Text:          "  " + sampleText + "\n",
	}
}

func TestPipelineCreatesSignal(t *testing.T) {
	repo := setupRepo(t)
	clf := &fakeClassifier{fields: sampleFields()}
	pub := &recordingPublisher{}
	p := &Pipeline{Repo: repo, Gate: gate.New(gate.DefaultThreshold), Classifier: clf, Events: pub, Logger: zaptest.NewLogger(t)}
	ctx := context.Background()

	res, err := p.Process(ctx, sampleEnvelope())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Outcome != OutcomeCreated || res.Signal == nil {
		t.Fatalf("outcome=%s signal=%v", res.Outcome, res.Signal)
	}
	if res.Classified || clf.classifyCalls != 0 {
		t.Fatalf("gate pass should skip the classifier, calls=%d", clf.classifyCalls)
	}

	counts, err := repo.CountStore(ctx)
	if err != nil {
		t.Fatalf("CountStore() error = %v", err)
	}
	if counts.Channels != 1 || counts.Signals != 1 {
		t.Fatalf("counts=%+v", counts)
	}

	sig, err := repo.GetSignal(ctx, res.Signal.ID)
	if err != nil || sig == nil {
		t.Fatalf("GetSignal() sig=%v err=%v", sig, err)
	}
	if sig.Symbol != "BTC" || string(sig.Side) != "long" {
		t.Fatalf("symbol=%q side=%q", sig.Symbol, sig.Side)
	}
	if len(sig.TakeProfits) != 2 || !sig.TakeProfits[0].Equal(decimal.NewFromInt(62000)) || !sig.TakeProfits[1].Equal(decimal.NewFromInt(63000)) {
		t.Fatalf("take_profits=%v", sig.TakeProfits)
	}
	if len(sig.StopLoss) != 1 || !sig.StopLoss[0].Equal(decimal.NewFromInt(59000)) {
		t.Fatalf("stop_loss=%v", sig.StopLoss)
	}
	if sig.OriginalText != sampleText {
		t.Fatalf("original_text=%q", sig.OriginalText)
	}
	if !sig.MessageDate.Equal(sampleEnvelope().Date) {
		t.Fatalf("message_date=%v", sig.MessageDate)
	}
	if sig.Deleted || sig.Edited || sig.LastCheckedTime != nil {
		t.Fatalf("new signal has checker state: %+v", sig)
	}
	if sig.Channel == nil || sig.Channel.Title == nil || *sig.Channel.Title != "Alpha Signals" {
		t.Fatalf("channel=%+v", sig.Channel)
	}
	if got := pub.types(); len(got) != 1 || got[0] != events.SignalCreated {
		t.Fatalf("events=%v", got)
	}
}

func TestPipelineIgnoresRedelivery(t *testing.T) {
	repo := setupRepo(t)
	pub := &recordingPublisher{}
	p := &Pipeline{Repo: repo, Gate: gate.New(0), Classifier: &fakeClassifier{fields: sampleFields()}, Events: pub}
	ctx := context.Background()

	if res, err := p.Process(ctx, sampleEnvelope()); err != nil || res.Outcome != OutcomeCreated {
		t.Fatalf("first Process() outcome=%s err=%v", res.Outcome, err)
	}
	res, err := p.Process(ctx, sampleEnvelope())
	if err != nil {
		t.Fatalf("second Process() error = %v", err)
	}
	if res.Outcome != OutcomeDuplicate {
		t.Fatalf("second outcome=%s want duplicate", res.Outcome)
	}
	counts, _ := repo.CountStore(ctx)
	if counts.Signals != 1 {
		t.Fatalf("signals=%d want 1", counts.Signals)
	}
	if got := pub.types(); len(got) != 1 {
		t.Fatalf("events=%v want one creation", got)
	}
}

func TestPipelineNonSignalStillTracksChannel(t *testing.T) {
	repo := setupRepo(t)
	clf := &fakeClassifier{isSignal: false}
	p := &Pipeline{Repo: repo, Gate: gate.New(0), Classifier: clf}
	ctx := context.Background()

	env := sampleEnvelope()
	env.Text = "Good morning, market update later today"
	res, err := p.Process(ctx, env)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Outcome != OutcomeNotSignal || !res.Classified || clf.extractCalls != 0 {
		t.Fatalf("outcome=%s classified=%v extract calls=%d", res.Outcome, res.Classified, clf.extractCalls)
	}
	ch, err := repo.GetChannel(ctx, env.ChannelID)
	if err != nil || ch == nil {
		t.Fatalf("GetChannel() ch=%v err=%v", ch, err)
	}
	if ch.LastMessageID == nil || *ch.LastMessageID != env.MessageID {
		t.Fatalf("last_message_id=%v want %d", ch.LastMessageID, env.MessageID)
	}
	counts, _ := repo.CountStore(ctx)
	if counts.Signals != 0 {
		t.Fatalf("signals=%d want 0", counts.Signals)
	}
}

func TestPipelineOutcomes(t *testing.T) {
	tests := []struct {
		name string
		text string
		clf  *fakeClassifier
		want Outcome
	}{
		{
			name: "empty text",
			text: "   ",
			clf:  &fakeClassifier{},
			want: OutcomeEmpty,
		},
		{
			name: "classifier yes but nothing extracted",
			text: "something happening with the market",
			clf:  &fakeClassifier{isSignal: true},
			want: OutcomeExtractionFailed,
		},
		{
			name: "extract error is absent",
			text: sampleText,
			clf:  &fakeClassifier{extractErr: errors.New("timeout")},
			want: OutcomeExtractionFailed,
		},
		{
			name: "symbol empty after normalization",
			text: sampleText,
			clf: &fakeClassifier{fields: &classifier.Fields{
				Symbol:      "USDT",
				Side:        "long",
				TakeProfits: []decimal.Decimal{decimal.NewFromInt(1)},
			}},
			want: OutcomeInvalid,
		},
	}
	for _, tt := range tests {
		repo := setupRepo(t)
		p := &Pipeline{Repo: repo, Gate: gate.New(0), Classifier: tt.clf}
		env := sampleEnvelope()
		env.Text = tt.text
		res, err := p.Process(context.Background(), env)
		if err != nil {
			t.Fatalf("%s: Process() error = %v", tt.name, err)
		}
		if res.Outcome != tt.want {
			t.Fatalf("%s: outcome=%s want %s", tt.name, res.Outcome, tt.want)
		}
		counts, _ := repo.CountStore(context.Background())
		if counts.Signals != 0 || counts.Channels != 1 {
			t.Fatalf("%s: counts=%+v want channel only", tt.name, counts)
		}
	}
}

func TestPipelineClassifyErrorPropagates(t *testing.T) {
	repo := setupRepo(t)
	p := &Pipeline{Repo: repo, Gate: gate.New(0), Classifier: &fakeClassifier{classifyErr: errors.New("rate limited")}}
	env := sampleEnvelope()
	env.Text = "hello there"
	if _, err := p.Process(context.Background(), env); err == nil {
		t.Fatalf("Process() expected classify error")
	}
	counts, _ := repo.CountStore(context.Background())
	if counts.Channels != 0 {
		t.Fatalf("channels=%d want 0 after classify error", counts.Channels)
	}
}

func TestPipelineGateShortcutSwitch(t *testing.T) {
	repo := setupRepo(t)
	flags := &SystemSettingsService{Repo: repo}
	ctx := context.Background()
	if err := flags.EnsureDefaultSwitches(ctx); err != nil {
		t.Fatalf("EnsureDefaultSwitches() error = %v", err)
	}
	if err := flags.SetEnabled(ctx, FeatureGateShortcut, false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}

	clf := &fakeClassifier{isSignal: true, fields: sampleFields()}
	p := &Pipeline{Repo: repo, Gate: gate.New(0), Classifier: clf, Flags: flags}
	res, err := p.Process(ctx, sampleEnvelope())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Outcome != OutcomeCreated || !res.Classified || clf.classifyCalls != 1 {
		t.Fatalf("outcome=%s classified=%v calls=%d", res.Outcome, res.Classified, clf.classifyCalls)
	}
}

// failingRepo delegates to a real store but fails the selected writes.
type failingRepo struct {
	repository.Repository
	insertErr error
	upsertErr error
}

func (r *failingRepo) InsertSignal(ctx context.Context, item *models.Signal) (bool, error) {
	if r.insertErr != nil {
		return false, r.insertErr
	}
	return r.Repository.InsertSignal(ctx, item)
}

func (r *failingRepo) UpsertChannel(ctx context.Context, item repository.ChannelUpsert) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	return r.Repository.UpsertChannel(ctx, item)
}

func TestPipelinePropagatesInsertFailure(t *testing.T) {
	diskFull := errors.New("disk full")
	repo := &failingRepo{Repository: setupRepo(t), insertErr: diskFull}
	pub := &recordingPublisher{}
	p := &Pipeline{Repo: repo, Gate: gate.New(0), Classifier: &fakeClassifier{fields: sampleFields()}, Events: pub}

	res, err := p.Process(context.Background(), sampleEnvelope())
	if !errors.Is(err, diskFull) {
		t.Fatalf("Process() err=%v want wrapping %v", err, diskFull)
	}
	if res.Outcome == OutcomeCreated || res.Outcome == OutcomeDuplicate || res.Signal != nil {
		t.Fatalf("outcome=%s signal=%v", res.Outcome, res.Signal)
	}
	if got := pub.types(); len(got) != 0 {
		t.Fatalf("events=%v want none", got)
	}
}

func TestPipelinePropagatesChannelUpsertFailure(t *testing.T) {
	locked := errors.New("database is locked")
	repo := &failingRepo{Repository: setupRepo(t), upsertErr: locked}
	p := &Pipeline{Repo: repo, Gate: gate.New(0), Classifier: &fakeClassifier{isSignal: false}}

	env := sampleEnvelope()
	env.Text = "good morning everyone"
	res, err := p.Process(context.Background(), env)
	if !errors.Is(err, locked) {
		t.Fatalf("Process() err=%v want wrapping %v", err, locked)
	}
	if res.Outcome != OutcomeNotSignal {
		t.Fatalf("outcome=%s want %s", res.Outcome, OutcomeNotSignal)
	}

	// A signal message stops before the insert when the channel cannot be saved.
	pub := &recordingPublisher{}
	p = &Pipeline{Repo: repo, Gate: gate.New(0), Classifier: &fakeClassifier{fields: sampleFields()}, Events: pub}
	res, err = p.Process(context.Background(), sampleEnvelope())
	if !errors.Is(err, locked) || res.Outcome == OutcomeCreated {
		t.Fatalf("outcome=%s err=%v", res.Outcome, err)
	}
	counts, _ := repo.CountStore(context.Background())
	if counts.Signals != 0 || len(pub.types()) != 0 {
		t.Fatalf("counts=%+v events=%v want nothing stored", counts, pub.types())
	}
}
