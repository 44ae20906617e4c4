package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/opengovern/resilient-rest/internal/cmd/base"
	"github.com/opengovern/resilient-rest/internal/cmd/commands/bench"
	"github.com/opengovern/resilient-rest/internal/cmd/commands/call"
	"github.com/opengovern/resilient-rest/internal/cmd/commands/routes"
)

// Commands is the mapping of all available commands.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	b := base.NewCommand(log, ui)

	Commands = map[string]cli.CommandFactory{
		"bench": func() (cli.Command, error) {
			return &bench.Command{Command: b}, nil
		},
		"call": func() (cli.Command, error) {
			return &call.Command{Command: b}, nil
		},
		"routes": func() (cli.Command, error) {
			return &routes.Command{Command: b}, nil
		},
	}
}
