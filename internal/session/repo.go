package session

import (
	"context"

	"gorm.io/gorm"

	"github.com/telellm/telellm/internal/models"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) UserByTelegramID(ctx context.Context, telegramID string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).
		Where("telegram_id = ?", telegramID).
		First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repo) CreateUser(ctx context.Context, u *models.User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *Repo) SaveUser(ctx context.Context, u *models.User) error {
	return r.db.WithContext(ctx).Save(u).Error
}

func (r *Repo) ActiveDialog(ctx context.Context, userID uint64) (*models.Dialog, error) {
	var d models.Dialog
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("id DESC").
		First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Repo) CreateDialog(ctx context.Context, d *models.Dialog) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *Repo) SaveDialog(ctx context.Context, d *models.Dialog) error {
	return r.db.WithContext(ctx).Save(d).Error
}

func (r *Repo) DialogByPublicID(ctx context.Context, userID uint64, publicID string) (*models.Dialog, error) {
	var d models.Dialog
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND public_id = ?", userID, publicID).
		First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// DialogByAnyUser looks a dialog up by public id without an ownership
// filter; used by the operator inspection endpoint.
func (r *Repo) DialogByAnyUser(ctx context.Context, publicID string) (*models.Dialog, error) {
	var d models.Dialog
	if err := r.db.WithContext(ctx).
		Where("public_id = ?", publicID).
		First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Repo) DialogByID(ctx context.Context, id uint64) (*models.Dialog, error) {
	var d models.Dialog
	if err := r.db.WithContext(ctx).First(&d, id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// ListRecentDialogs returns the user's dialogs, newest first.
func (r *Repo) ListRecentDialogs(ctx context.Context, userID uint64, limit int) ([]models.Dialog, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	var dialogs []models.Dialog
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&dialogs).Error; err != nil {
		return nil, err
	}
	return dialogs, nil
}

func (r *Repo) CountTurns(ctx context.Context, dialogID uint64) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).
		Model(&models.MessageTurn{}).
		Where("dialog_id = ?", dialogID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Repo) InsertTurn(ctx context.Context, t *models.MessageTurn) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *Repo) SaveTurn(ctx context.Context, t *models.MessageTurn) error {
	return r.db.WithContext(ctx).Save(t).Error
}

// ListTurnsAsc returns every turn of the dialog in sequence order.
func (r *Repo) ListTurnsAsc(ctx context.Context, dialogID uint64) ([]models.MessageTurn, error) {
	var turns []models.MessageTurn
	if err := r.db.WithContext(ctx).
		Where("dialog_id = ?", dialogID).
		Order("sequence_number ASC").
		Find(&turns).Error; err != nil {
		return nil, err
	}
	return turns, nil
}

// DialogTokenTotal sums total tokens spent across the whole dialog.
func (r *Repo) DialogTokenTotal(ctx context.Context, dialogID uint64) (int, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.MessageTurn{}).
		Where("dialog_id = ?", dialogID).
		Select("COALESCE(SUM(total_tokens), 0)").
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return int(total), nil
}

// TurnsWithControls returns turns whose assistant message still carries an
// inline keyboard that may need stripping.
func (r *Repo) TurnsWithControls(ctx context.Context, dialogID uint64) ([]models.MessageTurn, error) {
	var turns []models.MessageTurn
	if err := r.db.WithContext(ctx).
		Where("dialog_id = ? AND assistant_message_id IS NOT NULL", dialogID).
		Order("sequence_number ASC").
		Find(&turns).Error; err != nil {
		return nil, err
	}
	return turns, nil
}

func (r *Repo) CommandByName(ctx context.Context, name string) (*models.BotCommand, error) {
	var c models.BotCommand
	if err := r.db.WithContext(ctx).
		Where("name = ?", name).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) ListCommands(ctx context.Context) ([]models.BotCommand, error) {
	var cmds []models.BotCommand
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&cmds).Error; err != nil {
		return nil, err
	}
	return cmds, nil
}
