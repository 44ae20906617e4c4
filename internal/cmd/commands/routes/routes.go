package routes

import (
	"flag"
	"fmt"

	resilientrest "github.com/opengovern/resilient-rest"
	"github.com/opengovern/resilient-rest/internal/cmd/base"
	"github.com/opengovern/resilient-rest/routefile"
)

type Command struct {
	*base.Command

	flagConfig   string
	flagProvider string
	flagFile     string
}

func (c *Command) Synopsis() string {
	return "List the operations of a route table"
}

func (c *Command) Help() string {
	return `Usage: resilient-rest routes [options]

  Compiles the route table of a configured provider, or of a route file given
  with -file, and lists every operation with its HTTP method and URL template.
  A route table with problems is reported with all of them at once.` +
		c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("routes", flag.ContinueOnError))

	f.StringVar(&c.flagConfig, "config", "", "Path to the HCL config file")
	f.StringVar(&c.flagProvider, "provider", "", "Provider name from the config file")
	f.StringVar(&c.flagFile, "file", "", "Route file to compile instead of a provider")

	return f
}

func (c *Command) Run(args []string) int {
	ui := c.UI

	flags := c.Flags()
	if err := flags.Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	api, err := c.api()
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	for _, resource := range api.Resources() {
		for _, id := range api.Methods(resource) {
			op, _ := api.Operation(resource, id)
			line := fmt.Sprintf("%-40s %-7s %s%s", op.Name(), op.Method, op.BaseURL, op.Endpoint)
			if op.Binary() {
				line += "  [binary]"
			}
			ui.Output(line)
		}
	}
	return 0
}

func (c *Command) api() (*resilientrest.API, error) {
	switch {
	case c.flagFile != "":
		rf, err := routefile.Load(c.Fs, c.flagFile)
		if err != nil {
			return nil, err
		}
		return resilientrest.Compile(rf.BaseURL, rf.Resources, nil)

	case c.flagProvider != "":
		cfg, err := c.LoadConfig(c.flagConfig)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
		client, _, err := c.Client(cfg, c.flagProvider)
		if err != nil {
			return nil, fmt.Errorf("error building client: %w", err)
		}
		defer client.Close()
		return client.API(), nil
	}
	return nil, fmt.Errorf("either -file or -provider is required")
}
