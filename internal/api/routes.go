package api

import (
	"net/http"

	"github.com/ratescan/ratescan/internal/config"
	"github.com/ratescan/ratescan/internal/jobs"
	"github.com/ratescan/ratescan/internal/stages"
	"github.com/ratescan/ratescan/pkg/queue"
	"github.com/ratescan/ratescan/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
	runtime *Runtime,
) {
	queueOps := newQueueHandler(
		runtime.Queue,
		stageConsumers(cfg),
		runtime.Logger,
	)

	routes.Register(
		mux,
		domain.Documents.Handler(cfg.API.MaxUploadSizeBytes()).Routes(),
		domain.Schedules.Handler().Routes(),
		domain.Jobs.Handler().Routes(),
		domain.Contracts.Handler().Routes(),
		queueOps.routes(),
	)
}

func stageConsumers(cfg *config.Config) []queue.Consumer {
	return []queue.Consumer{
		stages.ConsumerFor(jobs.StageIngest, &cfg.Workers),
		stages.ConsumerFor(jobs.StageDetect, &cfg.Workers),
		stages.ConsumerFor(jobs.StageExtract, &cfg.Workers),
		stages.ConsumerFor(jobs.StageExport, &cfg.Workers),
	}
}
