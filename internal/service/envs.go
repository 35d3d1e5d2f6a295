package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/internal/browser"
	"github.com/xkilldash9x/herald/internal/config"
	"github.com/xkilldash9x/herald/internal/dispatch"
	"github.com/xkilldash9x/herald/internal/humanoid"
	"github.com/xkilldash9x/herald/internal/media"
	"github.com/xkilldash9x/herald/internal/resolver"
)

// tabEnvs binds the resolver, simulator and media attacher to one browser tab.
type tabEnvs struct {
	browser *browser.Manager
	fetcher *media.Fetcher
	cfg     config.Interface
	logger  *zap.Logger
}

func (e *tabEnvs) EnvFor(ctx context.Context, targetID string) (dispatch.Env, error) {
	page, err := e.browser.Page(ctx, targetID)
	if err != nil {
		return dispatch.Env{}, fmt.Errorf("failed to attach to tab: %w", err)
	}
	logger := e.logger.With(zap.String("target_id", targetID))
	bcfg := e.cfg.Browser()
	return dispatch.Env{
		Nav:       page,
		Resolver:  resolver.New(resolver.NewScriptFinder(page), e.cfg.Resolver(), logger),
		Sim:       humanoid.New(bcfg.Humanoid, logger, page.Executor()),
		Media:     browser.NewAttacher(page, e.cfg.Media().TempDir, logger),
		Fetcher:   e.fetcher,
		SettleMin: bcfg.SettleMin,
		SettleMax: bcfg.SettleMax,
		Logger:    logger,
	}, nil
}
