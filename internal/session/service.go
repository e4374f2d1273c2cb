package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/telellm/telellm/internal/common"
	"github.com/telellm/telellm/internal/llm"
	"github.com/telellm/telellm/internal/models"
)

// ErrBudgetExceeded is a designed steady state, not a failure: the dialog has
// spent its token budget and the user should start a new one.
var ErrBudgetExceeded = errors.New("session: dialog token budget exceeded")

const (
	placeholderTitle = "New conversation"
	maxTitleRunes    = 255
)

// Identity is the transport-side identity of an inbound event.
type Identity struct {
	TelegramID string
	Username   string
	FullName   string
}

// Service owns users, dialogs and turn persistence. Sequence numbers within
// one dialog are assigned under a per-dialog lock so concurrent turns cannot
// collide.
type Service struct {
	repo *Repo

	mu      sync.Mutex
	dialogs map[uint64]*sync.Mutex
}

func NewService(repo *Repo) *Service {
	return &Service{repo: repo, dialogs: make(map[uint64]*sync.Mutex)}
}

func (s *Service) dialogLock(dialogID uint64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.dialogs[dialogID]
	if !ok {
		l = &sync.Mutex{}
		s.dialogs[dialogID] = l
	}
	return l
}

// ResolveUser upserts a user keyed by the transport id, refreshing the
// display name on drift and touching last-activity.
func (s *Service) ResolveUser(ctx context.Context, id Identity) (*models.User, error) {
	now := time.Now()

	u, err := s.repo.UserByTelegramID(ctx, id.TelegramID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		u = &models.User{
			TelegramID:    id.TelegramID,
			Username:      id.Username,
			FullName:      id.FullName,
			Role:          "user",
			IsActive:      true,
			PreferredMode: "default",
			LastSeenAt:    now,
		}
		if err := s.repo.CreateUser(ctx, u); err != nil {
			return nil, err
		}
		return u, nil
	}

	u.LastSeenAt = now
	if id.Username != "" {
		u.Username = id.Username
	}
	if id.FullName != "" {
		u.FullName = id.FullName
	}
	if err := s.repo.SaveUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ActiveDialog returns the user's single active dialog, creating one when
// none exists. The transport chat id is backfilled on dialogs resumed out of
// band.
func (s *Service) ActiveDialog(ctx context.Context, user *models.User, chatID string) (*models.Dialog, error) {
	d, err := s.repo.ActiveDialog(ctx, user.ID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return s.createDialog(ctx, user, chatID)
	}
	if d.TelegramChatID == "" && chatID != "" {
		d.TelegramChatID = chatID
		if err := s.repo.SaveDialog(ctx, d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (s *Service) createDialog(ctx context.Context, user *models.User, chatID string) (*models.Dialog, error) {
	d := &models.Dialog{
		PublicID:       common.NewULID(),
		UserID:         user.ID,
		Title:          placeholderTitle,
		TelegramChatID: chatID,
		IsActive:       true,
		StartedAt:      time.Now(),
	}
	if err := s.repo.CreateDialog(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ResetDialog closes the current active dialog and opens a fresh one.
func (s *Service) ResetDialog(ctx context.Context, user *models.User, chatID string) (*models.Dialog, error) {
	if err := s.deactivateActive(ctx, user.ID); err != nil {
		return nil, err
	}
	return s.createDialog(ctx, user, chatID)
}

func (s *Service) deactivateActive(ctx context.Context, userID uint64) error {
	d, err := s.repo.ActiveDialog(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	now := time.Now()
	d.IsActive = false
	d.EndedAt = &now
	return s.repo.SaveDialog(ctx, d)
}

// SwitchDialog reactivates one of the user's earlier dialogs, superseding the
// current active one.
func (s *Service) SwitchDialog(ctx context.Context, user *models.User, publicID, chatID string) (*models.Dialog, error) {
	target, err := s.repo.DialogByPublicID(ctx, user.ID, publicID)
	if err != nil {
		return nil, err
	}
	if !target.IsActive {
		if err := s.deactivateActive(ctx, user.ID); err != nil {
			return nil, err
		}
		target.IsActive = true
		target.EndedAt = nil
	}
	if chatID != "" {
		target.TelegramChatID = chatID
	}
	if err := s.repo.SaveDialog(ctx, target); err != nil {
		return nil, err
	}
	return target, nil
}

func (s *Service) ListRecentDialogs(ctx context.Context, user *models.User, limit int) ([]models.Dialog, error) {
	return s.repo.ListRecentDialogs(ctx, user.ID, limit)
}

func (s *Service) SetPreferredMode(ctx context.Context, user *models.User, mode string) error {
	user.PreferredMode = mode
	return s.repo.SaveUser(ctx, user)
}

// BuildContext reconstructs the full transcript for the dialog: one system
// message followed by every turn's user/assistant pair in sequence order.
func (s *Service) BuildContext(ctx context.Context, dialog *models.Dialog, systemPrompt string) ([]llm.Message, error) {
	turns, err := s.repo.ListTurnsAsc(ctx, dialog.ID)
	if err != nil {
		return nil, err
	}

	msgs := make([]llm.Message, 0, len(turns)*2+1)
	msgs = append(msgs, llm.Message{Role: "system", Content: systemPrompt})
	for _, t := range turns {
		if t.UserText != "" {
			msgs = append(msgs, llm.Message{Role: "user", Content: t.UserText})
		}
		if t.AssistantText != nil && *t.AssistantText != "" {
			msgs = append(msgs, llm.Message{Role: "assistant", Content: *t.AssistantText})
		}
	}
	return msgs, nil
}

// EffectiveLimit combines the global and per-model ceilings: the minimum of
// the positive ones, or 0 when neither is set.
func EffectiveLimit(global, perModel int) int {
	switch {
	case global > 0 && perModel > 0:
		if perModel < global {
			return perModel
		}
		return global
	case global > 0:
		return global
	case perModel > 0:
		return perModel
	default:
		return 0
	}
}

// CheckBudget is the hard pre-check before any backend call. It returns the
// tokens already spent and ErrBudgetExceeded when the effective limit is
// already met.
func (s *Service) CheckBudget(ctx context.Context, dialog *models.Dialog, limit int) (int, error) {
	used, err := s.repo.DialogTokenTotal(ctx, dialog.ID)
	if err != nil {
		return 0, err
	}
	if limit > 0 && used >= limit {
		return used, ErrBudgetExceeded
	}
	return used, nil
}

// BeginTurn appends the user side of a new turn with the next sequence
// number. The first turn also replaces the dialog's placeholder title.
func (s *Service) BeginTurn(ctx context.Context, dialog *models.Dialog, userText, mode string, userMessageID int64) (*models.MessageTurn, error) {
	lock := s.dialogLock(dialog.ID)
	lock.Lock()
	defer lock.Unlock()

	n, err := s.repo.CountTurns(ctx, dialog.ID)
	if err != nil {
		return nil, err
	}

	turn := &models.MessageTurn{
		DialogID:       dialog.ID,
		UserID:         dialog.UserID,
		SequenceNumber: int(n) + 1,
		UserText:       userText,
		Mode:           mode,
		UserMessageID:  userMessageID,
	}
	if err := s.repo.InsertTurn(ctx, turn); err != nil {
		return nil, err
	}

	if turn.SequenceNumber == 1 && strings.TrimSpace(userText) != "" {
		dialog.Title = TitleFromMessage(userText)
		if err := s.repo.SaveDialog(ctx, dialog); err != nil {
			return nil, err
		}
	}
	return turn, nil
}

// CompleteTurn fills in the assistant side and token accounting.
func (s *Service) CompleteTurn(ctx context.Context, turn *models.MessageTurn, assistantText, model string, usage llm.Usage) error {
	turn.AssistantText = &assistantText
	turn.Model = model
	turn.PromptTokens = usage.PromptTokens
	turn.CompletionTokens = usage.CompletionTokens
	turn.TotalTokens = usage.TotalTokens
	return s.repo.SaveTurn(ctx, turn)
}

// SetAssistantMessageID records which transport message carries the controls.
func (s *Service) SetAssistantMessageID(ctx context.Context, turn *models.MessageTurn, messageID int64) error {
	turn.AssistantMessageID = &messageID
	return s.repo.SaveTurn(ctx, turn)
}

// TurnsWithControls lists earlier turns whose sent messages may still carry
// stale inline keyboards.
func (s *Service) TurnsWithControls(ctx context.Context, dialog *models.Dialog) ([]models.MessageTurn, error) {
	return s.repo.TurnsWithControls(ctx, dialog.ID)
}

// TitleFromMessage derives a dialog title from the first message text:
// whitespace-normalized and length-capped with an ellipsis.
func TitleFromMessage(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	runes := []rune(title)
	if len(runes) <= maxTitleRunes {
		return title
	}
	return string(runes[:maxTitleRunes-1]) + "…"
}
