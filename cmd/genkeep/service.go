package main

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

const serviceName = "genkeep"

// serviceConfig describes the system unit that runs `genkeep serve`.
func serviceConfig(configPath string) *service.Config {
	args := []string{"serve"}
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			configPath = abs
		}
		args = append(args, "--config", configPath)
	}
	opts := make(service.KeyValue)
	opts["Restart"] = "always"
	return &service.Config{
		Name:        serviceName,
		DisplayName: "Genkeep background task supervisor",
		Description: "Keeps long-running background generation alive across restarts",
		Arguments:   args,
		Option:      opts,
	}
}

var serviceMessages = map[string]string{
	"install":   "Installed as a service. Use `genkeep service start` to start",
	"uninstall": "Service uninstalled",
	"start":     "Service started",
	"stop":      "Service stopped",
	"restart":   "Service restarted",
}

func createServiceCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "service <install|uninstall|start|stop|restart>",
		Short: "Control the genkeep system service",
		Long: `Install or control genkeep as a system service (systemd on Linux).
The installed unit runs "genkeep serve" with the given --config.

Examples:
  sudo genkeep service install --config=/etc/genkeep/genkeep.toml
  sudo genkeep service start`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: service.ControlAction[:],
		RunE: func(cmd *cobra.Command, args []string) error {
			action := args[0]
			if !slices.Contains(service.ControlAction[:], action) {
				return fmt.Errorf("unknown service action %q, want one of %q", action, service.ControlAction)
			}
			svc, err := service.New(&program{}, serviceConfig(globalFlags.ConfigPath))
			if err != nil {
				return fmt.Errorf("built-in service control is not supported on this platform: %w", err)
			}
			if err := service.Control(svc, action); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), serviceMessages[action])
			return nil
		},
	}
}
