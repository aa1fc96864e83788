package main

import (
	"fmt"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/approvd/approvd/pkg/app"
)

// program adapts app.Run to the service manager lifecycle. Start must not
// block, so the daemon runs in a goroutine and Stop asks it to shut down by
// cancelling through the signal path the daemon already handles.
type program struct {
	configPath string
	dataDir    string
	done       chan error
	stop       chan struct{}
}

func (p *program) Start(_ service.Service) error {
	p.done = make(chan error, 1)
	p.stop = make(chan struct{})
	go func() {
		p.done <- app.Run(app.RunParams{
			ConfigPath: p.configPath,
			DataDir:    p.dataDir,
			Version:    version,
			Shutdown:   p.stop,
		})
	}()
	return nil
}

func (p *program) Stop(_ service.Service) error {
	close(p.stop)
	return <-p.done
}

func serviceCmd() *cobra.Command {
	var configPath, dataDir string

	cmd := &cobra.Command{
		Use:       "service [install|uninstall|start|stop|run]",
		Short:     "Manage approvd as a system service",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"install", "uninstall", "start", "stop", "run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			svcConfig := &service.Config{
				Name:        "approvd",
				DisplayName: "approvd approval daemon",
				Description: "Routes agent approval requests to a human decision channel.",
				Arguments:   []string{"service", "run"},
			}
			if configPath != "" {
				svcConfig.Arguments = append(svcConfig.Arguments, "--config", configPath)
			}
			if dataDir != "" {
				svcConfig.Arguments = append(svcConfig.Arguments, "--data-dir", dataDir)
			}

			prg := &program{configPath: configPath, dataDir: dataDir}
			svc, err := service.New(prg, svcConfig)
			if err != nil {
				return fmt.Errorf("init service: %w", err)
			}

			action := args[0]
			switch action {
			case "run":
				return svc.Run()
			case "install", "uninstall", "start", "stop":
				if err := service.Control(svc, action); err != nil {
					return fmt.Errorf("%s service: %w", action, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "service %s: done\n", action)
				return nil
			default:
				return fmt.Errorf("unknown action %q", action)
			}
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file passed to the managed daemon")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory passed to the managed daemon")
	return cmd
}
