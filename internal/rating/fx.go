package rating

import (
	"go.uber.org/fx"

	"github.com/warebill/warebill/internal/rating/service"
)

var Module = fx.Module("rating.service",
	fx.Provide(service.NewService),
)
