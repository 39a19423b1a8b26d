package tier

import "go.uber.org/fx"

// Module provides the tier catalog.
var Module = fx.Module("tier.catalog",
	fx.Provide(NewCatalog),
)
