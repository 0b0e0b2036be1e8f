package service

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"gorm.io/datatypes"

	"signalcollector/internal/models"
	"signalcollector/internal/repository"
)

const (
	FeatureChecker      = "feature.checker"
	FeatureGateShortcut = "feature.gate_shortcut"
	FeatureHeartbeat    = "feature.heartbeat"
)

var ErrUnknownSwitch = errors.New("unknown feature switch")

func DefaultFeatureSwitches() map[string]bool {
	return map[string]bool{
		FeatureChecker:      true,
		FeatureGateShortcut: true, // off: every message goes to the classifier
		FeatureHeartbeat:    true,
	}
}

var switchDescriptions = map[string]string{
	FeatureChecker:      "periodic re-verification of stored signals",
	FeatureGateShortcut: "skip the classifier when the keyword gate passes",
	FeatureHeartbeat:    "periodic store counters in the log",
}

type Switch struct {
	Key         string    `json:"key"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SystemSettingsService struct {
	Repo repository.Repository
}

// EnsureDefaultSwitches inserts missing switches with their defaults. Stored
// values are never overwritten.
func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	for key, enabled := range DefaultFeatureSwitches() {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		raw, _ := json.Marshal(enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: switchDescriptions[key],
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if _, ok := DefaultFeatureSwitches()[key]; !ok {
		return ErrUnknownSwitch
	}
	raw, _ := json.Marshal(enabled)
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: switchDescriptions[key],
		UpdatedAt:   time.Now().UTC(),
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}

// ListSwitches returns every known switch, falling back to defaults for
// switches not stored yet.
func (s *SystemSettingsService) ListSwitches(ctx context.Context) ([]Switch, error) {
	defaults := DefaultFeatureSwitches()
	stored := map[string]models.SystemSetting{}
	if s != nil && s.Repo != nil {
		items, err := s.Repo.ListSystemSettings(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			stored[item.Key] = item
		}
	}

	out := make([]Switch, 0, len(defaults))
	for _, key := range slices.Sorted(maps.Keys(defaults)) {
		sw := Switch{Key: key, Enabled: defaults[key], Description: switchDescriptions[key]}
		if item, ok := stored[key]; ok {
			var enabled bool
			if err := json.Unmarshal(item.Value, &enabled); err == nil {
				sw.Enabled = enabled
			}
			sw.UpdatedAt = item.UpdatedAt
		}
		out = append(out, sw)
	}
	return out, nil
}
