package service

import (
	"context"
	"sync"

	notificationdomain "github.com/glacestorm/crmalerts/internal/notification/domain"
	"github.com/glacestorm/crmalerts/internal/webhook/domain"
	"go.uber.org/zap"
)

// Publisher hands freshly committed notifications to the dispatcher on a
// fixed channel. Each Publish call runs in the background; Wait drains them.
type Publisher struct {
	dispatcher domain.Service
	channel    string
	log        *zap.Logger
	wg         sync.WaitGroup
}

func NewPublisher(dispatcher domain.Service, channel string, log *zap.Logger) *Publisher {
	return &Publisher{
		dispatcher: dispatcher,
		channel:    channel,
		log:        log.Named("webhook.publisher"),
	}
}

func (p *Publisher) Publish(ctx context.Context, eventType string, items []notificationdomain.Notification) {
	if len(items) == 0 {
		return
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}

	ctx = context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for _, id := range ids {
			result, err := p.dispatcher.Dispatch(ctx, domain.DispatchRequest{
				NotificationID: id,
				ChannelName:    p.channel,
				EventType:      eventType,
			})
			if err != nil {
				p.log.Error("inline webhook dispatch failed",
					zap.String("notification_id", id),
					zap.String("event_type", eventType),
					zap.Error(err),
				)
				continue
			}
			p.log.Debug("inline webhook dispatch",
				zap.String("notification_id", id),
				zap.Int("dispatched", result.Dispatched),
				zap.Int("successful", result.Successful),
			)
		}
	}()
}

// Wait blocks until every background dispatch has finished or ctx is done.
func (p *Publisher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
