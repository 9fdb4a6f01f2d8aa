package audit

import (
	"go.uber.org/fx"

	"github.com/warebill/warebill/internal/audit/repository"
	"github.com/warebill/warebill/internal/audit/service"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
