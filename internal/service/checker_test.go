package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"signalcollector/internal/config"
	"signalcollector/internal/events"
	"signalcollector/internal/gate"
	"signalcollector/internal/models"
	gormrepository "signalcollector/internal/repository/gorm"
	"signalcollector/internal/source"
)

var checkerNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// seedSignal ingests the sample signal one hour before checkerNow.
func seedSignal(t *testing.T, repo *gormrepository.Store, messageID int64) *models.Signal {
	t.Helper()
	p := &Pipeline{Repo: repo, Gate: gate.New(0), Classifier: &fakeClassifier{fields: sampleFields()}}
	env := sampleEnvelope()
	env.MessageID = messageID
	env.Date = checkerNow.Add(-time.Hour)
	res, err := p.Process(context.Background(), env)
	if err != nil || res.Signal == nil {
		t.Fatalf("seed Process() outcome=%s err=%v", res.Outcome, err)
	}
	return res.Signal
}

func newTestChecker(t *testing.T, repo *gormrepository.Store, fetcher source.Fetcher, pub events.Publisher) *Checker {
	now := checkerNow
	return &Checker{
		Repo:    repo,
		Fetcher: fetcher,
		Config:  config.CheckerConfig{Interval: time.Minute, BatchLimit: 100},
		Events:  pub,
		Logger:  zaptest.NewLogger(t),
		Now:     func() time.Time { return now },
	}
}

func TestCheckerMarksDeleted(t *testing.T) {
	repo := setupRepo(t)
	sig := seedSignal(t, repo, 1)
	fetcher := newFakeFetcher()
	fetcher.fail(sig.ChannelID, sig.MessageID, fmt.Errorf("%w: unknown message", source.ErrNotFound))
	pub := &recordingPublisher{}
	c := newTestChecker(t, repo, fetcher, pub)
	ctx := context.Background()

	res, err := c.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if res.Candidates != 1 || res.Deleted != 1 || res.Checked != 1 {
		t.Fatalf("result=%+v", res)
	}

	got, _ := repo.GetSignal(ctx, sig.ID)
	if !got.Deleted || got.LastCheckedTime == nil || !got.LastCheckedTime.Equal(checkerNow) {
		t.Fatalf("signal deleted=%v last_checked=%v", got.Deleted, got.LastCheckedTime)
	}
	editions, _ := repo.ListSignalEditions(ctx, sig.ID)
	if len(editions) != 0 {
		t.Fatalf("editions=%d want 0", len(editions))
	}
	if types := pub.types(); len(types) != 1 || types[0] != events.SignalDeleted {
		t.Fatalf("events=%v", types)
	}

	// Deleted signals are terminal, even far in the future.
	c.Now = func() time.Time { return checkerNow.Add(365 * 24 * time.Hour) }
	res, err = c.RunOnce(ctx)
	if err != nil || res.Candidates != 0 {
		t.Fatalf("second RunOnce() result=%+v err=%v", res, err)
	}
}

func TestCheckerRecordsEdition(t *testing.T) {
	repo := setupRepo(t)
	sig := seedSignal(t, repo, 2)
	editedAt := checkerNow.Add(-10 * time.Minute)
	fetcher := newFakeFetcher()
	fetcher.set(sig.ChannelID, sig.MessageID, "BTC long entry 60000, TP 62500 64000, SL 59000", &editedAt)
	pub := &recordingPublisher{}
	c := newTestChecker(t, repo, fetcher, pub)
	ctx := context.Background()

	res, err := c.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if res.Edited != 1 || res.Checked != 1 || res.Failed != 0 {
		t.Fatalf("result=%+v", res)
	}

	got, _ := repo.GetSignal(ctx, sig.ID)
	if !got.Edited || got.Deleted {
		t.Fatalf("flags edited=%v deleted=%v", got.Edited, got.Deleted)
	}
	if got.OriginalText != sampleText {
		t.Fatalf("original text changed to %q", got.OriginalText)
	}
	editions, _ := repo.ListSignalEditions(ctx, sig.ID)
	if len(editions) != 1 {
		t.Fatalf("editions=%d want 1", len(editions))
	}
	if editions[0].Text != "BTC long entry 60000, TP 62500 64000, SL 59000" || !editions[0].EditedAt.Equal(editedAt) {
		t.Fatalf("edition=%+v", editions[0])
	}
	if types := pub.types(); len(types) != 1 || types[0] != events.SignalEdited {
		t.Fatalf("events=%v", types)
	}
}

func TestCheckerEditionDedupAcrossCycles(t *testing.T) {
	repo := setupRepo(t)
	sig := seedSignal(t, repo, 3)
	editedAt := checkerNow.Add(-5 * time.Minute)
	fetcher := newFakeFetcher()
	fetcher.set(sig.ChannelID, sig.MessageID, "BTC long TP 65000", &editedAt)
	pub := &recordingPublisher{}
	c := newTestChecker(t, repo, fetcher, pub)
	ctx := context.Background()

	if _, err := c.RunOnce(ctx); err != nil {
		t.Fatalf("first RunOnce() error = %v", err)
	}
	c.Now = func() time.Time { return checkerNow.Add(2 * time.Hour) }
	res, err := c.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second RunOnce() error = %v", err)
	}
	if res.Candidates != 1 || res.Edited != 0 || res.Checked != 1 {
		t.Fatalf("second result=%+v", res)
	}
	editions, _ := repo.ListSignalEditions(ctx, sig.ID)
	if len(editions) != 1 {
		t.Fatalf("editions=%d want 1", len(editions))
	}
	if types := pub.types(); len(types) != 1 {
		t.Fatalf("events=%v want a single edit event", types)
	}
	got, _ := repo.GetSignal(ctx, sig.ID)
	if got.LastCheckedTime == nil || !got.LastCheckedTime.Equal(checkerNow.Add(2*time.Hour)) {
		t.Fatalf("last_checked=%v", got.LastCheckedTime)
	}
}

func TestCheckerTransientFailureLeavesSignalDue(t *testing.T) {
	repo := setupRepo(t)
	sig := seedSignal(t, repo, 4)
	fetcher := newFakeFetcher()
	fetcher.fail(sig.ChannelID, sig.MessageID, errors.New("502 bad gateway"))
	c := newTestChecker(t, repo, fetcher, nil)
	ctx := context.Background()

	res, err := c.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if res.Failed != 1 || res.Checked != 0 {
		t.Fatalf("result=%+v", res)
	}
	got, _ := repo.GetSignal(ctx, sig.ID)
	if got.LastCheckedTime != nil || got.Deleted {
		t.Fatalf("transient failure changed signal: last_checked=%v deleted=%v", got.LastCheckedTime, got.Deleted)
	}

	fetcher.set(sig.ChannelID, sig.MessageID, sampleText, nil)
	res, err = c.RunOnce(ctx)
	if err != nil || res.Checked != 1 || res.Failed != 0 {
		t.Fatalf("retry result=%+v err=%v", res, err)
	}
}

func TestCheckerUnchangedAndIgnoredEdits(t *testing.T) {
	repo := setupRepo(t)
	same := seedSignal(t, repo, 5)
	noStamp := seedSignal(t, repo, 6)
	blank := seedSignal(t, repo, 7)
	editedAt := checkerNow.Add(-time.Minute)

	fetcher := newFakeFetcher()
	fetcher.set(same.ChannelID, same.MessageID, "  "+sampleText+"  ", &editedAt)
	fetcher.set(noStamp.ChannelID, noStamp.MessageID, "different text", nil)
	fetcher.set(blank.ChannelID, blank.MessageID, "   ", &editedAt)
	c := newTestChecker(t, repo, fetcher, nil)
	ctx := context.Background()

	res, err := c.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if res.Checked != 3 || res.Edited != 0 || res.Channels != 1 {
		t.Fatalf("result=%+v", res)
	}
	for _, sig := range []*models.Signal{same, noStamp, blank} {
		got, _ := repo.GetSignal(ctx, sig.ID)
		if got.Edited || got.LastCheckedTime == nil {
			t.Fatalf("signal %d edited=%v last_checked=%v", sig.MessageID, got.Edited, got.LastCheckedTime)
		}
	}

	// Checked half an hour ago: not due yet.
	c.Now = func() time.Time { return checkerNow.Add(30 * time.Minute) }
	if res, err := c.RunOnce(ctx); err != nil || res.Candidates != 0 {
		t.Fatalf("RunOnce() result=%+v err=%v want no candidates", res, err)
	}
}

func TestCheckerSwitchedOff(t *testing.T) {
	repo := setupRepo(t)
	seedSignal(t, repo, 8)
	flags := &SystemSettingsService{Repo: repo}
	ctx := context.Background()
	if err := flags.SetEnabled(ctx, FeatureChecker, false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	fetcher := newFakeFetcher()
	c := newTestChecker(t, repo, fetcher, nil)
	c.Flags = flags

	res, err := c.RunOnce(ctx)
	if err != nil || !res.Skipped {
		t.Fatalf("result=%+v err=%v want skipped", res, err)
	}
	if fetcher.calls != 0 {
		t.Fatalf("fetch calls=%d want 0", fetcher.calls)
	}
}

func TestCheckerRunStopsOnCancel(t *testing.T) {
	repo := setupRepo(t)
	sig := seedSignal(t, repo, 9)
	fetcher := newFakeFetcher()
	fetcher.set(sig.ChannelID, sig.MessageID, sampleText, nil)
	c := newTestChecker(t, repo, fetcher, nil)
	c.Config.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		got, _ := repo.GetSignal(context.Background(), sig.ID)
		if got != nil && got.LastCheckedTime != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("first cycle did not run")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run() did not return after cancel")
	}
}

func TestGroupByChannel(t *testing.T) {
	items := []models.Signal{
		{ID: 1, ChannelID: 10},
		{ID: 2, ChannelID: 10},
		{ID: 3, ChannelID: 20},
		{ID: 4, ChannelID: 10},
	}
	groups := groupByChannel(items)
	if len(groups) != 2 || len(groups[0]) != 3 || len(groups[1]) != 1 {
		t.Fatalf("groups=%v", groups)
	}
	if groups[0][2].ID != 4 || groups[1][0].ID != 3 {
		t.Fatalf("order not preserved: %v", groups)
	}
}
