package handlers

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/nightcall-labs/nightcall/internal/config"
	"github.com/nightcall-labs/nightcall/internal/delivery"
	"github.com/nightcall-labs/nightcall/internal/engage"
	"github.com/nightcall-labs/nightcall/internal/gen"
	"github.com/nightcall-labs/nightcall/internal/roster"
	"github.com/nightcall-labs/nightcall/internal/selection"
	"github.com/nightcall-labs/nightcall/internal/store/rabbitmq"
	"github.com/nightcall-labs/nightcall/internal/store/redisstore"
)

type Handler struct {
	DB        *gorm.DB
	Cfg       config.Config
	Redis     *redisstore.Store
	Repo      *engage.Repo
	Engine    *engage.Engine
	Roster    *roster.Store
	Selector  *selection.Selector
	Publisher *rabbitmq.Publisher
}

func NewHandler(db *gorm.DB, cfg config.Config, rds *redisstore.Store, pub *rabbitmq.Publisher) *Handler {
	repo := engage.NewRepo(db)

	reg := gen.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (gen.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return gen.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})
	provider, err := reg.Get(context.Background(), cfg.GenProvider, cfg.OllamaModel)
	if err != nil {
		panic(fmt.Sprintf("unsupported GEN_PROVIDER=%q", cfg.GenProvider))
	}

	engine := engage.NewEngine(repo, provider, cfg.MaxRounds)
	rosterStore := roster.NewStore(db, rds)
	deliverer := delivery.NewGateway(cfg.GatewayBaseURL)

	selector := selection.NewSelector(engine, repo, rosterStore, provider, deliverer, selection.Policy{
		ScopeID:      cfg.ScopeID,
		RequiredTag:  cfg.RequiredTag,
		CooldownDays: cfg.CooldownDays,
		NightStart:   cfg.NightStart,
		NightEnd:     cfg.NightEnd,
	})

	return &Handler{
		DB:        db,
		Cfg:       cfg,
		Redis:     rds,
		Repo:      repo,
		Engine:    engine,
		Roster:    rosterStore,
		Selector:  selector,
		Publisher: pub,
	}
}
