package providers

import (
	"github.com/smallbiznis/answerline/internal/providers/billing"
	"github.com/smallbiznis/answerline/internal/providers/telephony"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	billing.Module,
	telephony.Module,
)
