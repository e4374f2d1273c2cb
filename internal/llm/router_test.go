package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/telellm/telellm/internal/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

type fixedActive struct {
	id  uint64
	err error
}

func (f fixedActive) ActiveModelID(ctx context.Context) (uint64, error) { return f.id, f.err }

type recordingProvider struct {
	lastReq Request
	result  Result
	err     error
}

func (p *recordingProvider) Chat(ctx context.Context, req Request) (Result, error) {
	p.lastReq = req
	return p.result, p.err
}

func seedCredential(t *testing.T, db *gorm.DB) *models.ProviderCredential {
	t.Helper()
	cred := &models.ProviderCredential{Vendor: "openai", Name: "main", APIKey: "sk-1"}
	if err := db.Create(cred).Error; err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	return cred
}

func seedModel(t *testing.T, db *gorm.DB, m *models.ModelConfig) *models.ModelConfig {
	t.Helper()
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("seed model: %v", err)
	}
	return m
}

func TestRouterSelect_NoModelsConfigured(t *testing.T) {
	db := testDB(t)
	r := NewRouter(NewCatalog(db), NewRegistry(), fixedActive{}, nil)

	_, err := r.Select(context.Background())
	if !errors.Is(err, ErrNoModelConfigured) {
		t.Fatalf("expected ErrNoModelConfigured, got %v", err)
	}
}

func TestRouterSelect_FallsBackToFirst(t *testing.T) {
	db := testDB(t)
	cred := seedCredential(t, db)
	seedModel(t, db, &models.ModelConfig{Name: "a", ProviderID: cred.ID, Model: "gpt-4o"})
	seedModel(t, db, &models.ModelConfig{Name: "b", ProviderID: cred.ID, Model: "gpt-4o-mini"})

	r := NewRouter(NewCatalog(db), NewRegistry(), fixedActive{}, nil)
	m, err := r.Select(context.Background())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if m.Name != "a" {
		t.Fatalf("expected lowest-id model, got %q", m.Name)
	}
}

func TestRouterSelect_DefaultBeatsFirst(t *testing.T) {
	db := testDB(t)
	cred := seedCredential(t, db)
	seedModel(t, db, &models.ModelConfig{Name: "a", ProviderID: cred.ID, Model: "gpt-4o"})
	seedModel(t, db, &models.ModelConfig{Name: "b", ProviderID: cred.ID, Model: "gpt-4o-mini", IsDefault: true})

	r := NewRouter(NewCatalog(db), NewRegistry(), fixedActive{}, nil)
	m, err := r.Select(context.Background())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if m.Name != "b" {
		t.Fatalf("expected default-flagged model, got %q", m.Name)
	}
}

func TestRouterSelect_ActiveSettingWins(t *testing.T) {
	db := testDB(t)
	cred := seedCredential(t, db)
	seedModel(t, db, &models.ModelConfig{Name: "a", ProviderID: cred.ID, Model: "gpt-4o", IsDefault: true})
	picked := seedModel(t, db, &models.ModelConfig{Name: "b", ProviderID: cred.ID, Model: "o3-mini"})

	r := NewRouter(NewCatalog(db), NewRegistry(), fixedActive{id: picked.ID}, nil)
	m, err := r.Select(context.Background())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if m.ID != picked.ID {
		t.Fatalf("expected operator-selected model, got %q", m.Name)
	}
}

func TestRouterSelect_StaleActiveIDFallsThrough(t *testing.T) {
	db := testDB(t)
	cred := seedCredential(t, db)
	seedModel(t, db, &models.ModelConfig{Name: "a", ProviderID: cred.ID, Model: "gpt-4o", IsDefault: true})

	r := NewRouter(NewCatalog(db), NewRegistry(), fixedActive{id: 9999}, nil)
	m, err := r.Select(context.Background())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if m.Name != "a" {
		t.Fatalf("stale active id should fall through to default, got %q", m.Name)
	}
}

func TestRouterComplete_AppliesModeOverrides(t *testing.T) {
	db := testDB(t)
	cred := seedCredential(t, db)
	m := seedModel(t, db, &models.ModelConfig{
		Name:        "main",
		ProviderID:  cred.ID,
		Model:       "gpt-4o",
		Temperature: 1.0,
		MaxTokens:   512,
		TopP:        0.9,
	})

	rec := &recordingProvider{result: Result{Text: "ok"}}
	reg := NewRegistry()
	reg.Register("openai", func(models.ProviderCredential) (Provider, error) { return rec, nil })

	r := NewRouter(NewCatalog(db), reg, fixedActive{}, nil)
	msgs := []Message{{Role: "user", Content: "hi"}}

	if _, err := r.Complete(context.Background(), m, msgs, "concise"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if rec.lastReq.Temperature != 0.7 || rec.lastReq.MaxTokens != 256 {
		t.Fatalf("concise overrides not applied: temp=%v max=%d",
			rec.lastReq.Temperature, rec.lastReq.MaxTokens)
	}
	if rec.lastReq.TopP != 0.9 {
		t.Fatalf("untouched knobs must come from the stored config, top_p=%v", rec.lastReq.TopP)
	}

	if _, err := r.Complete(context.Background(), m, msgs, "default"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if rec.lastReq.Temperature != 1.0 || rec.lastReq.MaxTokens != 512 {
		t.Fatalf("default mode must keep stored params: temp=%v max=%d",
			rec.lastReq.Temperature, rec.lastReq.MaxTokens)
	}
}

func TestRouterComplete_MissingCredential(t *testing.T) {
	db := testDB(t)
	m := seedModel(t, db, &models.ModelConfig{Name: "orphan", ProviderID: 404, Model: "gpt-4o"})

	r := NewRouter(NewCatalog(db), NewRegistry(), fixedActive{}, nil)
	_, err := r.Complete(context.Background(), m, []Message{{Role: "user", Content: "hi"}}, "default")
	if !errors.Is(err, ErrNoModelConfigured) {
		t.Fatalf("expected ErrNoModelConfigured, got %v", err)
	}
}

func TestRouterComplete_UnknownVendor(t *testing.T) {
	db := testDB(t)
	cred := seedCredential(t, db)
	m := seedModel(t, db, &models.ModelConfig{Name: "main", ProviderID: cred.ID, Model: "gpt-4o"})

	r := NewRouter(NewCatalog(db), NewRegistry(), fixedActive{}, nil)
	_, err := r.Complete(context.Background(), m, []Message{{Role: "user", Content: "hi"}}, "default")

	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError for an unregistered vendor, got %v", err)
	}
}

func TestRegistry_ClientCachePerCredential(t *testing.T) {
	reg := NewRegistry()
	builds := 0
	reg.Register("openai", func(models.ProviderCredential) (Provider, error) {
		builds++
		return &recordingProvider{}, nil
	})

	cred := models.ProviderCredential{ID: 1, Vendor: "openai", APIKey: "sk-1", UpdatedAt: time.Unix(100, 0)}

	p1, err := reg.ClientFor(cred)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	p2, err := reg.ClientFor(cred)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if p1 != p2 || builds != 1 {
		t.Fatalf("expected one cached client, builds=%d", builds)
	}

	// rotating the key bumps updated_at and invalidates the cached client
	cred.APIKey = "sk-2"
	cred.UpdatedAt = time.Unix(200, 0)
	p3, err := reg.ClientFor(cred)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if p3 == p1 || builds != 2 {
		t.Fatalf("expected a rebuilt client after rotation, builds=%d", builds)
	}
}
