package opts

import (
	"github.com/walteh/bracepatch/pkg/backup"
	"github.com/walteh/bracepatch/pkg/config"
	"github.com/walteh/bracepatch/pkg/log"
)

// RootOpts contains shared options used by all commands
type RootOpts struct {
	Config        *config.Config
	Backups       *backup.Manager
	ConsoleLogger *log.Logger
}
