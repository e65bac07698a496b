package stages

import (
	"github.com/ratescan/ratescan/internal/config"
	"github.com/ratescan/ratescan/internal/dispatch"
	"github.com/ratescan/ratescan/internal/jobs"
	"github.com/ratescan/ratescan/pkg/queue"
)

// ConsumerFor builds the pull consumer for a stage. Each stage owns one
// consumer group, so concurrency limits hold across every worker process
// attached to the queue, not just within one.
func ConsumerFor(stage jobs.Stage, cfg *config.WorkersConfig) queue.Consumer {
	return queue.Consumer{
		Name:         "workers-" + string(stage),
		FilterPrefix: dispatch.SubjectFor(stage),
		MaxInFlight:  maxInFlight(stage, cfg),
		MaxDeliver:   cfg.MaxDeliver,
		AckWait:      cfg.AckWaitDuration(),
	}
}

func maxInFlight(stage jobs.Stage, cfg *config.WorkersConfig) int {
	switch stage {
	case jobs.StageIngest:
		return cfg.Ingest.MaxInFlight
	case jobs.StageDetect:
		return cfg.Detect.MaxInFlight
	case jobs.StageExtract:
		// Inference calls never overlap; the queue enforces it even
		// across worker restarts.
		return 1
	case jobs.StageExport:
		return cfg.Export.MaxInFlight
	default:
		return 1
	}
}
