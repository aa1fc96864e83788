package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/approvd/approvd/internal/approval"
	"github.com/approvd/approvd/internal/channel"
	"github.com/approvd/approvd/internal/core"
	"github.com/approvd/approvd/internal/metrics"
)

// fakeChannel is a channel module that records wiring calls.
type fakeChannel struct {
	id   string
	sink channel.SignalSink
}

func (f *fakeChannel) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  core.ModuleID(f.id),
		New: func() core.Module { return &fakeChannel{id: f.id} },
	}
}

func (f *fakeChannel) Publish(_ context.Context, _ channel.Prompt) (string, error) {
	return "ref", nil
}

func (f *fakeChannel) Update(_ context.Context, _ string, _ channel.PromptState) error {
	return nil
}

func (f *fakeChannel) SetSink(sink channel.SignalSink) { f.sink = sink }

func newTestRegistry(t *testing.T) *approval.Registry {
	t.Helper()
	return approval.New(approval.Params{
		Logger:  slog.New(slog.DiscardHandler),
		Metrics: metrics.New(prometheus.NewRegistry()),
	})
}

func TestWireRegistry(t *testing.T) {
	id := "channel." + t.Name()
	core.RegisterModule(&fakeChannel{id: id})

	logger := slog.New(slog.DiscardHandler)
	appCtx := core.NewAppContext(logger, t.TempDir())
	registry := newTestRegistry(t)
	appCtx.RegisterService("approval.registry", registry)

	application := core.NewApp(appCtx)
	if err := application.LoadModules([]string{id}); err != nil {
		t.Fatalf("load modules: %v", err)
	}

	if err := wireRegistry(application, appCtx, logger); err != nil {
		t.Fatalf("wire: %v", err)
	}

	mods := application.Modules()
	if len(mods) != 1 {
		t.Fatalf("loaded %d modules", len(mods))
	}
	ch := mods[0].(*fakeChannel)
	if ch.sink == nil {
		t.Error("sink not wired into channel")
	}
}

func TestWireRegistry_NoChannel(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	appCtx := core.NewAppContext(logger, t.TempDir())
	appCtx.RegisterService("approval.registry", newTestRegistry(t))

	application := core.NewApp(appCtx)
	if err := wireRegistry(application, appCtx, logger); err == nil {
		t.Error("expected error with no channel module")
	}
}

func TestWireRegistry_MissingRegistry(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	appCtx := core.NewAppContext(logger, t.TempDir())
	application := core.NewApp(appCtx)

	if err := wireRegistry(application, appCtx, logger); err == nil {
		t.Error("expected error with no registry service")
	}
}
