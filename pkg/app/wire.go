package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/approvd/approvd/internal/approval"
	"github.com/approvd/approvd/internal/channel"
	"github.com/approvd/approvd/internal/core"
)

// wireRegistry connects the loaded decision channel and the optional
// history recorder to the approval registry. Must be called after
// LoadModules and before Start.
func wireRegistry(application *core.App, appCtx *core.AppContext, logger *slog.Logger) error {
	svc, ok := appCtx.Service("approval.registry")
	if !ok {
		return errors.New("wiring: approval.registry service not found (is the approval module configured?)")
	}
	registry, ok := svc.(*approval.Registry)
	if !ok {
		return fmt.Errorf("wiring: approval.registry service has unexpected type %T", svc)
	}

	var found channel.Channel
	for _, mod := range application.Modules() {
		ch, ok := mod.(channel.Channel)
		if !ok {
			continue
		}
		if found != nil {
			return fmt.Errorf("wiring: multiple channel modules loaded (%s and %s)",
				found.ModuleInfo().ID, ch.ModuleInfo().ID)
		}
		found = ch
	}
	if found == nil {
		return errors.New("wiring: no channel module loaded")
	}

	found.SetSink(registry)
	registry.SetChannel(found)
	logger.Info("channel wired", "channel", string(found.ModuleInfo().ID))

	if svc, ok := appCtx.Service("history.recorder"); ok {
		if recorder, ok := svc.(approval.Recorder); ok {
			registry.SetRecorder(recorder)
			logger.Info("decision history wired")
		}
	}

	return nil
}
