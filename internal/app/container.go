package app

import (
	"context"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/afrojet/seed/internal/repositories/canonical"
	"github.com/afrojet/seed/internal/repositories/columnmapping"
	"github.com/afrojet/seed/internal/repositories/importfile"
	"github.com/afrojet/seed/internal/repositories/snapshot"
	"github.com/afrojet/seed/pkg/buildings"
	"github.com/afrojet/seed/pkg/columnmapper"
	"github.com/afrojet/seed/pkg/database"
	"github.com/afrojet/seed/pkg/events"
	"github.com/afrojet/seed/pkg/importer"
	"github.com/afrojet/seed/pkg/ledger"
	"github.com/afrojet/seed/pkg/lineage"
	"github.com/afrojet/seed/pkg/locking"
	"github.com/afrojet/seed/pkg/mapping"
	"github.com/afrojet/seed/pkg/matching"
	"github.com/afrojet/seed/pkg/merging"
	"github.com/afrojet/seed/pkg/progress"
	"github.com/afrojet/seed/pkg/unmerge"
)

// newContainer registers the services as singletons in a container of their
// own. Each App gets a fresh id so several apps can live in one process.
func (a *App) newContainer(s *Services) (ectocontainer.DIContainer, error) {
	c, err := ectoinject.NewDIContainer(ectocontainer.DIContainerConfig{
		ID:                       a.Config.AppName + ":" + uuid.NewString(),
		AllowCaptiveDependencies: true,
		AllowMissingDependencies: true,
		LoggerConfig: &ectocontainer.DIContainerLoggerConfig{
			Prefix:  "ectoinject",
			Enabled: true,
			LogFunc: func(ctx context.Context, level, msg string) {
				a.Logger.WithContext(ctx).WithField("level", level).Debug(msg)
			},
		},
	})
	if err != nil {
		return nil, err
	}

	registrations := []error{
		ectoinject.RegisterInstance[ectologger.Logger](c, a.Logger),
		ectoinject.RegisterInstance[database.DB](c, a.DB),
		ectoinject.RegisterInstance[*snapshot.Repository](c, s.Snapshots),
		ectoinject.RegisterInstance[*canonical.Repository](c, s.Canonicals),
		ectoinject.RegisterInstance[*importfile.Repository](c, s.Imports),
		ectoinject.RegisterInstance[*columnmapping.Repository](c, s.Mappings),
		ectoinject.RegisterInstance[*lineage.Traverser](c, s.Traverser),
		ectoinject.RegisterInstance[*ledger.Ledger](c, s.Ledger),
		ectoinject.RegisterInstance[*merging.Engine](c, s.Merger),
		ectoinject.RegisterInstance[*columnmapper.Mapper](c, s.Mapper),
		ectoinject.RegisterInstance[*importer.Importer](c, s.Importer),
		ectoinject.RegisterInstance[*mapping.Executor](c, s.Executor),
		ectoinject.RegisterInstance[*matching.Engine](c, s.Matcher),
		ectoinject.RegisterInstance[*unmerge.Engine](c, s.Unmerger),
		ectoinject.RegisterInstance[*buildings.Service](c, s.Buildings),
		ectoinject.RegisterInstance[locking.Locker](c, s.Locker),
		ectoinject.RegisterInstance[progress.Sink](c, s.Progress),
		ectoinject.RegisterInstance[*events.Emitter](c, s.Emitter),
	}
	for _, err := range registrations {
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}
