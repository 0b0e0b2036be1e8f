package service

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"signalcollector/internal/events"
)

func TestHeartbeatLogsCounters(t *testing.T) {
	repo := setupRepo(t)
	seedSignal(t, repo, 1)
	core, logs := observer.New(zap.InfoLevel)
	hub := events.NewHub(nil)
	hub.Publish(events.Event{Type: events.SignalCreated})

	h := &Heartbeat{Repo: repo, Hub: hub, Logger: zap.New(core)}
	h.Run(context.Background())

	entries := logs.FilterMessage("heartbeat").All()
	if len(entries) != 1 {
		t.Fatalf("heartbeat entries=%d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["signals"] != int64(1) || fields["channels"] != int64(1) || fields["events_published"] != uint64(1) {
		t.Fatalf("fields=%v", fields)
	}
}

func TestHeartbeatSwitchedOff(t *testing.T) {
	repo := setupRepo(t)
	flags := &SystemSettingsService{Repo: repo}
	if err := flags.SetEnabled(context.Background(), FeatureHeartbeat, false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	core, logs := observer.New(zap.InfoLevel)
	h := &Heartbeat{Repo: repo, Flags: flags, Logger: zap.New(core)}
	h.Run(context.Background())
	if logs.Len() != 0 {
		t.Fatalf("logs=%d want none", logs.Len())
	}
}
