package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"signalcollector/internal/models"
	"signalcollector/internal/repository"
)

var ErrSignalNotFound = errors.New("signal not found")

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- channels ---------------------------------------------------------------

func (s *Store) UpsertChannel(ctx context.Context, item repository.ChannelUpsert) error {
	if s == nil || s.db == nil {
		return nil
	}
	if item.ID == 0 {
		return errors.New("channel id is required")
	}
	title := strings.TrimSpace(item.Title)
	username := strings.TrimSpace(item.Username)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.Channel{
			ID:            item.ID,
			Title:         optionalString(title),
			Username:      optionalString(username),
			Monitored:     true,
			LastMessageID: item.LastMessageID,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil && !errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return res.Error
		}
		if res.Error == nil && res.RowsAffected > 0 {
			return nil
		}

		// Existing row: each column moves only when the new value is an
		// improvement, so concurrent upserts cannot regress it.
		now := time.Now().UTC()
		if title != "" {
			if err := tx.Model(&models.Channel{}).
				Where("id = ?", item.ID).
				Where("title IS NULL OR title <> ?", title).
				Updates(map[string]any{"title": title, "updated_at": now}).Error; err != nil {
				return err
			}
		}
		if username != "" {
			if err := tx.Model(&models.Channel{}).
				Where("id = ?", item.ID).
				Where("username IS NULL OR username <> ?", username).
				Updates(map[string]any{"username": username, "updated_at": now}).Error; err != nil {
				return err
			}
		}
		if item.LastMessageID != nil {
			if err := tx.Model(&models.Channel{}).
				Where("id = ?", item.ID).
				Where("last_message_id IS NULL OR last_message_id < ?", *item.LastMessageID).
				Updates(map[string]any{"last_message_id": *item.LastMessageID, "updated_at": now}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetChannel(ctx context.Context, id int64) (*models.Channel, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Channel
	err := s.db.WithContext(ctx).Model(&models.Channel{}).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// --- signals ----------------------------------------------------------------

// InsertSignal inserts a new signal and reports false without error when the
// (channel_id, message_id) pair already exists.
func (s *Store) InsertSignal(ctx context.Context, item *models.Signal) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}, {Name: "message_id"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListDueSignals selects non-deleted signals whose last check is older than
// the cadence of their age tier: RecentInterval for messages newer than
// RecentWindow, StaleInterval otherwise. Never-checked signals are always due.
func (s *Store) ListDueSignals(ctx context.Context, params repository.DueSignalsParams) ([]models.Signal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	recentCutoff := now.Add(-params.RecentWindow)
	recentDue := now.Add(-params.RecentInterval)
	staleDue := now.Add(-params.StaleInterval)
	limit := params.Limit
	if limit <= 0 {
		limit = 2000
	}

	var items []models.Signal
	err := s.db.WithContext(ctx).
		Model(&models.Signal{}).
		Where("deleted = ?", false).
		Where(
			s.db.Where("message_date >= ? AND (last_checked_time IS NULL OR last_checked_time <= ?)", recentCutoff, recentDue).
				Or("message_date < ? AND (last_checked_time IS NULL OR last_checked_time <= ?)", recentCutoff, staleDue),
		).
		Order("channel_id asc").
		Order("id asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) MarkSignalDeleted(ctx context.Context, id uint64, checkedAt time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Signal{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"deleted":           true,
			"last_checked_time": checkedAt.UTC(),
		}).Error
}

func (s *Store) MarkSignalChecked(ctx context.Context, id uint64, checkedAt time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Signal{}).
		Where("id = ?", id).
		Where("deleted = ?", false).
		Update("last_checked_time", checkedAt.UTC()).Error
}

// ApplySignalEdit records an observed edit in one transaction: the edition
// row (skipped when the latest edition already has the same text and
// edited_at), the edited flag and the check timestamp.
func (s *Store) ApplySignalEdit(ctx context.Context, id uint64, text string, editedAt, checkedAt time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	editedAt = editedAt.UTC()
	appended := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last models.SignalEdition
		if err := tx.Model(&models.SignalEdition{}).
			Where("signal_id = ?", id).
			Order("edited_at desc").
			Order("id desc").
			Limit(1).
			Find(&last).Error; err != nil {
			return err
		}
		if last.ID == 0 || last.Text != text || !last.EditedAt.Equal(editedAt) {
			edition := &models.SignalEdition{
				SignalID: id,
				Text:     text,
				EditedAt: editedAt,
			}
			if err := tx.Create(edition).Error; err != nil {
				return err
			}
			appended = true
		}
		res := tx.Model(&models.Signal{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"edited":            true,
				"last_checked_time": checkedAt.UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSignalNotFound
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return appended, nil
}

func (s *Store) GetSignal(ctx context.Context, id uint64) (*models.Signal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Signal
	err := s.db.WithContext(ctx).
		Model(&models.Signal{}).
		Preload("Channel").
		Where("id = ?", id).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSignalEditions(ctx context.Context, signalID uint64) ([]models.SignalEdition, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SignalEdition
	if err := s.db.WithContext(ctx).
		Model(&models.SignalEdition{}).
		Where("signal_id = ?", signalID).
		Order("edited_at asc").
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListSignals(ctx context.Context, params repository.ListSignalsParams) ([]models.Signal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Signal{})
	if params.ChannelID != nil {
		query = query.Where("channel_id = ?", *params.ChannelID)
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.ToUpper(strings.TrimSpace(*params.Symbol)))
	}
	if params.IncludeChannel {
		query = query.Preload("Channel")
	}
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.Signal
	if err := query.
		Order("message_date desc").
		Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- read-only aggregates ---------------------------------------------------

func (s *Store) ListChannelsWithCounts(ctx context.Context) ([]repository.ChannelCount, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rows []repository.ChannelCount
	err := s.db.WithContext(ctx).
		Table("channels AS c").
		Select("c.id AS id, c.title AS title, c.username AS username, " +
			"COUNT(s.id) AS total, " +
			"COALESCE(SUM(CASE WHEN s.deleted THEN 1 ELSE 0 END), 0) AS deleted, " +
			"COALESCE(SUM(CASE WHEN s.edited THEN 1 ELSE 0 END), 0) AS edited").
		Joins("LEFT JOIN signals AS s ON s.channel_id = c.id").
		Group("c.id, c.title, c.username").
		Order("total desc").
		Order("c.id asc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) ListSymbolsWithCounts(ctx context.Context) ([]repository.SymbolCount, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rows []repository.SymbolCount
	err := s.db.WithContext(ctx).
		Model(&models.Signal{}).
		Select("symbol, COUNT(id) AS total").
		Group("symbol").
		Order("total desc").
		Order("symbol asc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// signalFactBatchSize bounds how many rows EachSignalFact holds at once.
var signalFactBatchSize = 1000

// EachSignalFact streams the stats projection of every signal in id order.
// An error returned by fn stops the scan and is returned as is.
func (s *Store) EachSignalFact(ctx context.Context, fn func(repository.SignalFact) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	var rows []models.Signal
	var fnErr error
	err := s.db.WithContext(ctx).
		Model(&models.Signal{}).
		Select("id", "channel_id", "symbol", "side", "leverage", "message_date", "deleted", "edited").
		FindInBatches(&rows, signalFactBatchSize, func(tx *gorm.DB, _ int) error {
			for _, row := range rows {
				fnErr = fn(repository.SignalFact{
					ChannelID:   row.ChannelID,
					Symbol:      row.Symbol,
					Side:        row.Side,
					Leverage:    row.Leverage,
					MessageDate: row.MessageDate,
					Deleted:     row.Deleted,
					Edited:      row.Edited,
				})
				if fnErr != nil {
					return fnErr
				}
			}
			return nil
		}).Error
	if fnErr != nil {
		return fnErr
	}
	return err
}

func (s *Store) CountStore(ctx context.Context) (repository.StoreCounts, error) {
	var out repository.StoreCounts
	if s == nil || s.db == nil {
		return out, nil
	}
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.Channel{}).Count(&out.Channels).Error; err != nil {
		return out, err
	}
	if err := db.Model(&models.Signal{}).Count(&out.Signals).Error; err != nil {
		return out, err
	}
	if err := db.Model(&models.Signal{}).Where("deleted = ?", true).Count(&out.Deleted).Error; err != nil {
		return out, err
	}
	if err := db.Model(&models.Signal{}).Where("edited = ?", true).Count(&out.Edited).Error; err != nil {
		return out, err
	}
	if err := db.Model(&models.SignalEdition{}).Count(&out.Editions).Error; err != nil {
		return out, err
	}
	return out, nil
}

// --- system settings --------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Model(&models.SystemSetting{}).Where("key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SystemSetting
	if err := s.db.WithContext(ctx).
		Model(&models.SystemSetting{}).
		Order("key asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
