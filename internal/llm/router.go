package llm

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"github.com/telellm/telellm/internal/models"
)

// ActiveModelSource exposes the operator-selected model id; 0 means unset.
type ActiveModelSource interface {
	ActiveModelID(ctx context.Context) (uint64, error)
}

// Router picks the model configuration for a turn and delegates to the right
// provider client.
type Router struct {
	catalog  *Catalog
	registry *Registry
	active   ActiveModelSource
	logger   *slog.Logger
}

func NewRouter(catalog *Catalog, registry *Registry, active ActiveModelSource, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{catalog: catalog, registry: registry, active: active, logger: logger}
}

// Select resolves the model config: explicit active-model setting, then the
// default-flagged config, then the first available one.
func (r *Router) Select(ctx context.Context) (*models.ModelConfig, error) {
	if r.active != nil {
		id, err := r.active.ActiveModelID(ctx)
		if err != nil {
			return nil, err
		}
		if id > 0 {
			m, err := r.catalog.ModelByID(ctx, id)
			if err == nil {
				return m, nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
			r.logger.Warn("active model id points at a missing config", "model_id", id)
		}
	}

	m, err := r.catalog.DefaultModel(ctx)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	m, err = r.catalog.FirstModel(ctx)
	if err == nil {
		return m, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoModelConfigured
	}
	return nil, err
}

// Complete runs one turn against the provider behind the given model config.
// Mode overrides are applied on the request only; the stored config is not
// mutated.
func (r *Router) Complete(ctx context.Context, model *models.ModelConfig, messages []Message, modeName string) (Result, error) {
	mode := ModeByName(modeName)

	req := Request{
		Model:            model.Model,
		Messages:         messages,
		Temperature:      model.Temperature,
		MaxTokens:        model.MaxTokens,
		TopP:             model.TopP,
		FrequencyPenalty: model.FrequencyPenalty,
		PresencePenalty:  model.PresencePenalty,
		EndpointOverride: model.EndpointOverride,
	}
	if mode.Temperature != nil {
		req.Temperature = *mode.Temperature
	}
	if mode.MaxTokens != nil {
		req.MaxTokens = *mode.MaxTokens
	}

	cred, err := r.catalog.CredentialByID(ctx, model.ProviderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, ErrNoModelConfigured
		}
		return Result{}, err
	}

	provider, err := r.registry.ClientFor(*cred)
	if err != nil {
		return Result{}, &BackendError{Vendor: cred.Vendor, Err: err}
	}

	res, err := provider.Chat(ctx, req)
	if err != nil {
		var be *BackendError
		if errors.As(err, &be) || errors.Is(err, ErrNotImplemented) {
			return Result{}, err
		}
		return Result{}, &BackendError{Vendor: cred.Vendor, Err: err}
	}
	return res, nil
}
