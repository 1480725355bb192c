package recovery

import (
	"github.com/pawselabs/pawse/internal/recovery/service"
	"go.uber.org/fx"
)

var Module = fx.Module("recovery.service",
	fx.Provide(service.NewService),
)
