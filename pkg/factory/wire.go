//go:build wireinject
// +build wireinject

package factory

import (
	"github.com/google/wire"
	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/controllers"
	"github.com/mynaparrot/v2tic-server/pkg/ejector"
	"github.com/mynaparrot/v2tic-server/pkg/models"
	"github.com/mynaparrot/v2tic-server/pkg/recognizer"
	"github.com/mynaparrot/v2tic-server/pkg/recognizer/azure"
	"github.com/mynaparrot/v2tic-server/pkg/services/natsservice"
	"github.com/mynaparrot/v2tic-server/pkg/smtpserver"
	"github.com/mynaparrot/v2tic-server/pkg/transcoder"
)

// build the dependency set for services
var serviceSet = wire.NewSet(
	natsservice.New,
	provideTemplateEngine,
	provideProfile,
	provideScridGenerator,
	transcoder.New,
	azure.New,
	ejector.New,
	wire.Bind(new(recognizer.Recognizer), new(*azure.Recognizer)),
	wire.Bind(new(models.Transcoder), new(*transcoder.Transcoder)),
	wire.Bind(new(models.Ejector), new(*ejector.Ejector)),
	wire.Bind(new(models.EventPublisher), new(*natsservice.NatsService)),
)

// build the dependency set for models
var modelSet = wire.NewSet(
	models.NewInjestorModel,
	models.NewResponseCreatorModel,
	models.NewPipelineModel,
	models.NewDepositModel,
	wire.Bind(new(controllers.Depositor), new(*models.DepositModel)),
	wire.Bind(new(smtpserver.Depositor), new(*models.DepositModel)),
)

// build the dependency set for controllers and servers
var controllerSet = wire.NewSet(
	controllers.NewTranscribeController,
	controllers.NewResponseStubController,
	controllers.NewHealthCheckController,
	smtpserver.NewServer,
)

// NewAppFactory is the injector function that wire will implement.
func NewAppFactory(appConfig *config.AppConfig) (*Application, error) {
	wire.Build(
		serviceSet,
		modelSet,
		controllerSet,
		wire.FieldsOf(new(*config.AppConfig), "Logger", "Transcoder", "Recognizer"),

		wire.Struct(new(ApplicationControllers), "*"),
		wire.Struct(new(Application), "*"),
	)
	return nil, nil
}
