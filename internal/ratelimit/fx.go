package ratelimit

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewCheckoutLimiter),
	fx.Invoke(func(lc fx.Lifecycle, l *CheckoutLimiter) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return l.Close() },
		})
	}),
)
