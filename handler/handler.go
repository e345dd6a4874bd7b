package handler

import (
	"context"
	"courtcam/apperr"
	"courtcam/constant"
	"courtcam/dto"
	"courtcam/pkg/rabbitmq"
	"courtcam/service"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type ServiceDependencies struct {
	Orchestrator service.Service
}

// JobHandler submits a queued job request. A busy job slot drops the request;
// requests that can never succeed are rejected to the dead letter queue.
func JobHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var req dto.JobRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal job request")
		return errors.Join(rabbitmq.ErrReject, err)
	}

	var (
		id  uuid.UUID
		err error
	)
	switch req.Kind {
	case constant.JobKindInference:
		id, err = deps.Orchestrator.SubmitInference(ctx, service.InferenceRequest{InputToken: req.InputToken, Points: req.Points})
	case constant.JobKindHighlights:
		id, err = deps.Orchestrator.SubmitHighlights(ctx, service.HighlightsRequest{InputToken: req.InputToken})
	default:
		return errors.Join(rabbitmq.ErrReject, fmt.Errorf("unknown job kind %q", req.Kind))
	}

	switch {
	case errors.Is(err, apperr.ErrResourceBusy):
		zerolog.Ctx(ctx).Warn().Err(err).Str("kind", string(req.Kind)).Msg("job slot busy, request dropped")
		return nil
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrInvalidInput):
		return errors.Join(rabbitmq.ErrReject, err)
	case err != nil:
		return err
	}

	zerolog.Ctx(ctx).Info().Str("job_id", id.String()).Str("kind", string(req.Kind)).Msg("queued job accepted")
	return nil
}
