package payment

import (
	"github.com/smallbiznis/copydesk/internal/checkout/domain"
	"github.com/smallbiznis/copydesk/internal/config"
	"github.com/smallbiznis/copydesk/internal/payment/adapters"
	"github.com/smallbiznis/copydesk/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/copydesk/internal/payment/domain"
	"github.com/smallbiznis/copydesk/internal/payment/repository"
	"github.com/smallbiznis/copydesk/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
		)
	}),
	fx.Provide(provideAdapter),
	fx.Provide(provideGateway),
	fx.Provide(webhook.NewService),
)

func provideAdapter(cfg config.Config, registry *adapters.Registry) (paymentdomain.PaymentAdapter, error) {
	return registry.NewAdapter(adapters.DefaultProvider, adapters.AdapterConfigFromConfig(cfg))
}

func provideGateway(adapter paymentdomain.PaymentAdapter) domain.Gateway {
	return adapter
}
