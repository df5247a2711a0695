package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/weatherdash/weatherdash/internal/location"
)

// Job types accepted over Pub/Sub.
const (
	JobDashboardRefresh = "dashboard_refresh"
	JobHealthCheck      = "health_check"
)

// ErrMalformedMessage is returned for messages that are not valid job JSON.
var ErrMalformedMessage = errors.New("malformed job message")

// Dispatcher runs the job a message describes.
type Dispatcher struct {
	refreshJob *RefreshJob
	logger     zerolog.Logger
}

// NewDispatcher creates a dispatcher for refresh job messages.
func NewDispatcher(refreshJob *RefreshJob, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{refreshJob: refreshJob, logger: logger}
}

// Dispatch decodes data and runs the job. Unknown job types are logged and
// reported as handled so they are not redelivered.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) error {
	var msg RefreshMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	switch msg.JobType {
	case JobDashboardRefresh:
		return d.handleDashboardRefresh(ctx, msg)
	case JobHealthCheck:
		d.logger.Debug().Msg("running health check")
		return d.refreshJob.HealthCheck(ctx)
	default:
		d.logger.Warn().Str("job_type", msg.JobType).Msg("unknown job type")
		return nil
	}
}

func (d *Dispatcher) handleDashboardRefresh(ctx context.Context, msg RefreshMessage) error {
	var result *RefreshResult
	if coords, ok := msg.Coordinates(); ok {
		d.logger.Info().
			Float64("lat", coords.Lat).
			Float64("lon", coords.Lon).
			Msg("starting dashboard refresh at requested location")
		result = d.refreshJob.RunAt(ctx, coords)
	} else {
		result = d.refreshJob.Run(ctx)
	}
	return result.Err
}

// Settle reports whether a message whose job returned err should be acked.
// Messages that can never succeed are acked so they are not redelivered;
// transient failures are nacked for another attempt.
func Settle(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrMalformedMessage), errors.Is(err, location.ErrInvalidCoordinates):
		return true
	default:
		return false
	}
}

// PubSubHandler receives job messages from a subscription.
type PubSubHandler struct {
	client     *pubsub.Client
	subscriber *pubsub.Subscriber
	cfg        PubSubConfig
	dispatcher *Dispatcher
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	RefreshJob       *RefreshJob
	Logger           zerolog.Logger

	// MaxOutstanding caps concurrently handled messages. Refreshes are
	// serialized by sequence number anyway. Default: 2
	MaxOutstanding int

	// MaxExtension is how long a message lease is extended while its job
	// runs. Default: 2 minutes
	MaxExtension time.Duration
}

// NewPubSubHandler connects to the project and prepares the subscriber.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	if cfg.MaxOutstanding <= 0 {
		cfg.MaxOutstanding = 2
	}
	if cfg.MaxExtension <= 0 {
		cfg.MaxExtension = 2 * time.Minute
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)
	subscriber.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
	subscriber.ReceiveSettings.MaxExtension = cfg.MaxExtension

	return &PubSubHandler{
		client:     client,
		subscriber: subscriber,
		cfg:        cfg,
		dispatcher: NewDispatcher(cfg.RefreshJob, cfg.Logger),
	}, nil
}

// Start receives messages until ctx is done.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.cfg.Logger.Info().
		Str("subscription", h.cfg.SubscriptionName).
		Int("max_outstanding", h.cfg.MaxOutstanding).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, h.handleMessage)
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	start := time.Now()

	logCtx := h.cfg.Logger.With().
		Str("message_id", msg.ID).
		Time("published_at", msg.PublishTime)
	if msg.DeliveryAttempt != nil {
		logCtx = logCtx.Int("delivery_attempt", *msg.DeliveryAttempt)
	}
	logger := logCtx.Logger()

	err := h.dispatcher.Dispatch(ctx, msg.Data)
	switch {
	case err == nil:
		logger.Info().Dur("duration", time.Since(start)).Msg("job completed")
		msg.Ack()
	case Settle(err):
		logger.Warn().Err(err).Msg("dropping job that cannot succeed")
		msg.Ack()
	default:
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("job failed, will be redelivered")
		msg.Nack()
	}
}
