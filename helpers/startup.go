package helpers

import (
	"path/filepath"

	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/factory"
	"github.com/mynaparrot/v2tic-server/pkg/logging"
	"github.com/sirupsen/logrus"
)

// ReadConfig reads the YAML file (plus an optional .env next to it), builds
// the typed config and attaches the logger.
func ReadConfig(cnfFile string) (*config.AppConfig, error) {
	props, err := config.ReadProperties(cnfFile, filepath.Join(filepath.Dir(cnfFile), ".env"))
	if err != nil {
		return nil, err
	}

	appCnf, err := config.New(props)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(&appCnf.LogSettings)
	if err != nil {
		return nil, err
	}
	appCnf.Logger = logger

	return appCnf, nil
}

func PrepareServer(appCnf *config.AppConfig) error {
	if appCnf.Logger == nil {
		appCnf.Logger = logrus.StandardLogger()
	}

	// lifecycle events are optional
	return factory.NewNatsConnection(appCnf)
}
