package pet

import (
	"github.com/pawselabs/pawse/internal/pet/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pet.service",
	fx.Provide(service.NewService),
)
