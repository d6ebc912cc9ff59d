package fxrate

import (
	"github.com/smallbiznis/copydesk/internal/fxrate/service"
	"github.com/smallbiznis/copydesk/internal/fxrate/source/nbp"
	"go.uber.org/fx"
)

var Module = fx.Module("fxrate.service",
	fx.Provide(nbp.NewSource),
	fx.Provide(service.NewService),
)
