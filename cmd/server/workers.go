package main

import (
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ratescan/ratescan/internal/api"
	"github.com/ratescan/ratescan/internal/config"
	"github.com/ratescan/ratescan/internal/detect"
	"github.com/ratescan/ratescan/internal/export"
	"github.com/ratescan/ratescan/internal/inference"
	"github.com/ratescan/ratescan/internal/infrastructure"
	"github.com/ratescan/ratescan/internal/stages"
	"github.com/ratescan/ratescan/internal/textract"
	"github.com/ratescan/ratescan/pkg/lifecycle"
)

// Workers runs the four stage runners inside the server process. They
// share the domain systems with the API, so a manual re-extract enqueued
// over HTTP and a pipeline-enqueued extraction flow through identical
// paths.
type Workers struct {
	runners []*stages.Runner
	logger  *slog.Logger
}

func newWorkers(cfg *config.Config, infra *infrastructure.Infrastructure, domain *api.Domain) *Workers {
	extractor := textract.NewPDF(infra.Logger)
	inf := inference.NewOllama(&cfg.Inference, infra.Logger)
	exporter := export.New(domain.Schedules, infra.Storage, infra.Logger)

	handlers := []stages.Handler{
		stages.NewIngestHandler(domain.Documents, extractor, domain.Dispatch, infra.Logger),
		stages.NewDetectHandler(domain.Documents, domain.Schedules, domain.Dispatch, detect.DefaultOptions(), infra.Logger),
		stages.NewExtractHandler(domain.Schedules, domain.Contracts, inf, domain.Dispatch, infra.Logger),
		stages.NewExportHandler(domain.Schedules, exporter, infra.Logger),
	}

	runners := make([]*stages.Runner, 0, len(handlers))
	for _, h := range handlers {
		runners = append(runners, stages.NewRunner(
			infra.Queue,
			domain.Jobs,
			h,
			stages.ConsumerFor(h.Stage(), &cfg.Workers),
			cfg.Workers.PollIntervalDuration(),
			infra.Logger,
		))
	}

	return &Workers{
		runners: runners,
		logger:  infra.Logger.With("system", "workers"),
	}
}

// Start launches every runner under the lifecycle context and registers
// a shutdown hook that waits for them to drain.
func (w *Workers) Start(lc *lifecycle.Coordinator) {
	group, ctx := errgroup.WithContext(lc.Context())
	for _, r := range w.runners {
		group.Go(func() error {
			return r.Run(ctx)
		})
	}

	lc.OnShutdown(func() {
		<-lc.Context().Done()

		if err := group.Wait(); err != nil {
			w.logger.Error("worker shutdown error", "error", err)
			return
		}
		w.logger.Info("workers stopped")
	})
}
