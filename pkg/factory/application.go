package factory

import (
	"context"

	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/controllers"
	"github.com/mynaparrot/v2tic-server/pkg/models"
	"github.com/mynaparrot/v2tic-server/pkg/profiles"
	"github.com/mynaparrot/v2tic-server/pkg/services/natsservice"
	"github.com/mynaparrot/v2tic-server/pkg/smtpserver"
	"github.com/mynaparrot/v2tic-server/pkg/templates"
	"github.com/sirupsen/logrus"
)

// ApplicationControllers holds all the controllers.
type ApplicationControllers struct {
	TranscribeController   *controllers.TranscribeController
	ResponseStubController *controllers.ResponseStubController
	HealthCheckController  *controllers.HealthCheckController
}

// Application is the root struct holding all dependencies.
type Application struct {
	Controllers *ApplicationControllers
	AppConfig   *config.AppConfig
	SmtpServer  *smtpserver.Server
	Pipeline    *models.PipelineModel
	Engine      *templates.Engine
	Profile     profiles.Profile
	natsService *natsservice.NatsService
}

func (a *Application) Boot() {
	a.AppConfig.Logger.WithFields(logrus.Fields{
		"profile":        a.Profile.Name(),
		"profile_folder": a.Engine.Folder(),
		"max_workers":    a.AppConfig.Recognizer.MaxWorkers,
		"nats_events":    a.natsService.Enabled(),
	}).Infoln("v2tic core ready")
}

// Shutdown cancels in-flight pipelines and waits for them, bounded by ctx.
func (a *Application) Shutdown(ctx context.Context) error {
	return a.Pipeline.Shutdown(ctx)
}
