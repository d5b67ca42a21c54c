package ingestion

import (
	"context"
	"fmt"

	"github.com/licitaciones/platform/pkg/common/logger"
	"github.com/licitaciones/platform/pkg/common/models"
)

// Command event types accepted from the commands topic.
const (
	CommandIncremental = "incremental"
	CommandHistorical  = "historical"
	CommandBatch       = "batch"
)

// HandleCommand dispatches a command event to the command surface. It blocks
// until the runs it started finish.
func (s *Service) HandleCommand(ctx context.Context, event models.Event) error {
	req := FromEventData(event.Data)

	var (
		jobs []models.Job
		err  error
	)
	switch event.Type {
	case CommandIncremental:
		jobs, err = s.IncrementalJobs(req.Source)
	case CommandHistorical:
		var job models.Job
		job, err = s.HistoricalJob(req.Source, req.Since)
		jobs = []models.Job{job}
	case CommandBatch:
		jobs, err = s.BatchJobs(req.Profile)
	default:
		return fmt.Errorf("unsupported command %q", event.Type)
	}
	if err != nil {
		return fmt.Errorf("command %s: %w", event.ID, err)
	}

	results := s.Run(ctx, jobs, TriggerCommand)
	logger.WithFields(map[string]interface{}{
		"event_id": event.ID,
		"command":  event.Type,
		"runs":     len(results),
	}).Info("Command processed")
	return nil
}
