package telephony

import "go.uber.org/fx"

var Module = fx.Module("providers.telephony",
	fx.Provide(NewVerifier),
)
