package billing

import (
	"github.com/onetimesecret/billing/internal/billing/service"
	stripegw "github.com/onetimesecret/billing/internal/billing/stripe"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	stripegw.Module,
	fx.Provide(service.NewService),
)
