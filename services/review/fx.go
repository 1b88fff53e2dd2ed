package review

import "go.uber.org/fx"

var Module = fx.Module("review.service",
	fx.Provide(NewService),
)
