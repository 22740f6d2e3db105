package factory

import (
	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/profiles"
	"github.com/mynaparrot/v2tic-server/pkg/scrid"
	"github.com/mynaparrot/v2tic-server/pkg/templates"
	"github.com/sirupsen/logrus"
)

func provideTemplateEngine(app *config.AppConfig, logger *logrus.Logger) (*templates.Engine, error) {
	return templates.New(app.Profile.Folder, logger)
}

func provideProfile(app *config.AppConfig) (profiles.Profile, error) {
	return profiles.Lookup(app.Profile.Name)
}

func provideScridGenerator() *scrid.Generator {
	return scrid.Default()
}
