package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"signalcollector/internal/classifier"
	"signalcollector/internal/config"
	"signalcollector/internal/db"
	"signalcollector/internal/events"
	gormrepository "signalcollector/internal/repository/gorm"
	"signalcollector/internal/source"
)

func setupRepo(t *testing.T) *gormrepository.Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "service.sqlite")
	handle, err := db.Open(config.DBConfig{Driver: db.DriverSQLite, DSN: dsn})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close(handle)
	})
	if err := db.AutoMigrate(handle); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return gormrepository.New(handle.Gorm)
}

type fakeClassifier struct {
	mu          sync.Mutex
	isSignal    bool
	classifyErr error
	fields      *classifier.Fields
	extractErr  error

	classifyCalls int
	extractCalls  int
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classifyCalls++
	return f.isSignal, f.classifyErr
}

func (f *fakeClassifier) Extract(ctx context.Context, text string) (*classifier.Fields, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extractCalls++
	if f.fields == nil {
		return nil, f.extractErr
	}
	cp := *f.fields
	return &cp, f.extractErr
}

type fetchKey struct {
	channelID, messageID int64
}

type fakeFetcher struct {
	mu       sync.Mutex
	messages map[fetchKey]source.Message
	errs     map[fetchKey]error
	calls    int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{messages: map[fetchKey]source.Message{}, errs: map[fetchKey]error{}}
}

func (f *fakeFetcher) set(channelID, messageID int64, text string, editedAt *time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fetchKey{channelID, messageID}
	f.messages[key] = source.Message{Text: text, EditedAt: editedAt}
	delete(f.errs, key)
}

func (f *fakeFetcher) fail(channelID, messageID int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[fetchKey{channelID, messageID}] = err
}

func (f *fakeFetcher) Fetch(ctx context.Context, channelID, messageID int64) (*source.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	key := fetchKey{channelID, messageID}
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	msg, ok := f.messages[key]
	if !ok {
		return nil, errors.New("fake fetcher: no message configured")
	}
	return &msg, nil
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []events.Event
}

func (p *recordingPublisher) Publish(evt events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, evt)
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.got))
	for _, e := range p.got {
		out = append(out, e.Type)
	}
	return out
}
