package activity

import (
	"go.uber.org/fx"

	"github.com/warebill/warebill/internal/activity/repository"
	"github.com/warebill/warebill/internal/activity/service"
)

var Module = fx.Module("activity.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
