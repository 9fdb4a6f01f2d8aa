package ratecard

import (
	"go.uber.org/fx"

	"github.com/warebill/warebill/internal/ratecard/repository"
	"github.com/warebill/warebill/internal/ratecard/service"
)

var Module = fx.Module("ratecard.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
