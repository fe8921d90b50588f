package consumerWorker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wb-go/wbf/zlog"

	"racesync/internal/adapter"
	"racesync/internal/model"
	"racesync/internal/rabbit"
	"racesync/internal/repo"
)

// InboundMessage is one timing push delivered over AMQP instead of HTTP.
type InboundMessage struct {
	APIToken string             `json:"api_token"`
	Change   adapter.TimingPush `json:"change"`
}

type Consumer interface {
	Consume(queue string, handler func([]byte) error) error
}

type EventResolver interface {
	GetEventByAPIToken(ctx context.Context, token string) (*model.Event, error)
}

type TimingSubmitter interface {
	SubmitTiming(ctx context.Context, eventID int64, push adapter.TimingPush) (*model.JournalEntry, error)
}

type Reader struct {
	RMQ       Consumer
	queue     string
	events    EventResolver
	submitter TimingSubmitter
	done      chan struct{}
	cancel    context.CancelFunc
	ctx       context.Context
}

func NewReader(rmq Consumer, queue string, events EventResolver, submitter TimingSubmitter) *Reader {
	return &Reader{
		RMQ:       rmq,
		queue:     queue,
		events:    events,
		submitter: submitter,
		done:      make(chan struct{}),
		ctx:       context.Background(),
	}
}

func (r *Reader) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.ctx = cctx

	zlog.Logger.Info().Str("queue", r.queue).Msg("🐇 RabbitMQ Reader started")

	go func() {
		defer close(r.done)

		if err := r.RMQ.Consume(r.queue, r.handle); err != nil {
			zlog.Logger.Error().Err(err).Msg("Failed to start consuming")
			return
		}

		<-cctx.Done()
		zlog.Logger.Info().Msg("🛑 RabbitMQ Reader stopped by context")
	}()
}

func (r *Reader) handle(body []byte) error {
	var msg InboundMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		zlog.Logger.Error().
			Err(err).
			Msgf("Failed to unmarshal message: %s", string(body))
		return fmt.Errorf("%w: %v", rabbit.ErrDrop, err)
	}

	event, err := r.events.GetEventByAPIToken(r.ctx, msg.APIToken)
	if errors.Is(err, repo.ErrEventNotFound) {
		zlog.Logger.Warn().Int64("run_id", msg.Change.RunID).Msg("timing push with unknown api token")
		return fmt.Errorf("%w: %v", rabbit.ErrDrop, err)
	}
	if err != nil {
		return err
	}

	entry, err := r.submitter.SubmitTiming(r.ctx, event.ID, msg.Change)
	if err != nil {
		var terr *model.TranslationError
		if errors.As(err, &terr) {
			zlog.Logger.Warn().Err(err).Int64("event_id", event.ID).Msg("timing push rejected")
			return fmt.Errorf("%w: %v", rabbit.ErrDrop, err)
		}
		zlog.Logger.Error().Err(err).Int64("event_id", event.ID).Msg("Failed to journal timing push")
		return err
	}

	zlog.Logger.Info().
		Int64("event_id", event.ID).
		Int64("change_id", entry.ID).
		Int64("run_id", entry.RunID).
		Msg("📩 Timing push journaled from RabbitMQ")
	return nil
}

func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}
