package webhook

import (
	"context"
	"strings"

	"github.com/glacestorm/crmalerts/internal/config"
	notificationdomain "github.com/glacestorm/crmalerts/internal/notification/domain"
	"github.com/glacestorm/crmalerts/internal/webhook/domain"
	"github.com/glacestorm/crmalerts/internal/webhook/repository"
	"github.com/glacestorm/crmalerts/internal/webhook/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(providePublisher),
)

// providePublisher enables inline dispatch only when a channel is configured.
func providePublisher(lc fx.Lifecycle, cfg config.Config, dispatcher domain.Service, log *zap.Logger) notificationdomain.Publisher {
	channel := strings.TrimSpace(cfg.DispatchChannel)
	if channel == "" {
		return notificationdomain.NopPublisher{}
	}
	publisher := service.NewPublisher(dispatcher, channel, log)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Wait(ctx)
		},
	})
	log.Info("inline webhook dispatch enabled", zap.String("channel", channel))
	return publisher
}
