package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/billing/internal/app/api/server"
	"github.com/fatflowers/billing/internal/app/service/billing"
	"github.com/fatflowers/billing/internal/app/service/eventrouter"
	"github.com/fatflowers/billing/internal/app/service/integration"
	"github.com/fatflowers/billing/internal/app/service/ledger"
	"github.com/fatflowers/billing/internal/app/service/lifecycle"
	notificationlog "github.com/fatflowers/billing/internal/app/service/notification_log"
	"github.com/fatflowers/billing/internal/app/service/reconcile"
	"github.com/fatflowers/billing/internal/app/service/scheduler"
	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/app/service/webhook"
	"github.com/fatflowers/billing/internal/platform/db"
	"github.com/fatflowers/billing/internal/platform/gateway"
	"github.com/fatflowers/billing/internal/platform/rabbitmq"
	"github.com/fatflowers/billing/internal/platform/redislock"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// CoreModule is the billing domain without any inbound surface. The ops CLI
// runs on it directly.
var CoreModule = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	gateway.Module,
	rabbitmq.Module,
	lifecycle.Module,
	ledger.Module,
	subscription.Module,
	billing.Module,
	reconcile.Module,
)

var Module = fx.Options(
	CoreModule,
	redislock.Module,
	integration.Module,
	notificationlog.Module,
	eventrouter.Module,
	webhook.Module,
	scheduler.Module,
	server.Module,
)
