package call

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/afero"

	resilientrest "github.com/opengovern/resilient-rest"
	"github.com/opengovern/resilient-rest/internal/cmd/base"
)

type Command struct {
	*base.Command

	flagConfig   string
	flagProvider string
	flagPath     base.KeyValues
	flagQuery    base.KeyValues
	flagHeader   base.KeyValues
	flagBody     string
	flagForm     bool
	flagOut      string
	flagTrack    bool
}

func (c *Command) Synopsis() string {
	return "Call one operation of a configured provider"
}

func (c *Command) Help() string {
	return `Usage: resilient-rest call [options] <resource> <method>

  Calls resource.method of a provider with retries, re-authentication and
  rate limit handling, and prints the status and body of the final response.` +
		c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	if c.flagPath == nil {
		c.flagPath, c.flagQuery, c.flagHeader = base.KeyValues{}, base.KeyValues{}, base.KeyValues{}
	}
	f := base.NewFlagSet(flag.NewFlagSet("call", flag.ContinueOnError))

	f.StringVar(&c.flagConfig, "config", "", "(Required) Path to the HCL config file")
	f.StringVar(&c.flagProvider, "provider", "", "(Required) Provider name from the config file")
	f.Var(c.flagPath, "path", "Path parameter as key=value. Repeatable.")
	f.Var(c.flagQuery, "query", "Query parameter as key=value. Repeatable.")
	f.Var(c.flagHeader, "header", "Request header as key=value. Repeatable.")
	f.StringVar(&c.flagBody, "body", "", "JSON object of body parameters")
	f.BoolVar(&c.flagForm, "form", false, "Send the body form encoded instead of JSON")
	f.StringVar(&c.flagOut, "out", "", "Write the response body to this file instead of stdout")
	f.BoolVar(&c.flagTrack, "track", false, "Print the tracked attempts as JSON")

	return f
}

func (c *Command) Run(args []string) int {
	ui := c.UI

	flags := c.Flags()
	if err := flags.Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}
	if flags.NArg() != 2 {
		ui.Error("expected <resource> <method>")
		return 1
	}
	if c.flagProvider == "" {
		ui.Error("provider flag is required")
		return 1
	}

	cfg, err := c.LoadConfig(c.flagConfig)
	if err != nil {
		ui.Error(fmt.Sprintf("error loading config: %v", err))
		return 1
	}
	client, _, err := c.Client(cfg, c.flagProvider)
	if err != nil {
		ui.Error(fmt.Sprintf("error building client: %v", err))
		return 1
	}
	defer client.Close()

	req, err := c.request()
	if err != nil {
		ui.Error(err.Error())
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	resp, callErr := client.Call(ctx, flags.Arg(0), flags.Arg(1), req)
	if c.flagTrack {
		if data, err := client.Tracker().Export(); err == nil {
			ui.Output(string(data))
		}
	}
	if resp != nil {
		ui.Info(fmt.Sprintf("HTTP %d", resp.StatusCode))
		if err := c.writeBody(resp); err != nil {
			ui.Error(fmt.Sprintf("error writing body: %v", err))
			return 1
		}
	}
	if callErr != nil {
		ui.Error(fmt.Sprintf("%s.%s failed (%s): %v", flags.Arg(0), flags.Arg(1), resilientrest.KindOf(callErr), callErr))
		return 2
	}
	return 0
}

func (c *Command) request() (*resilientrest.CallRequest, error) {
	req := &resilientrest.CallRequest{
		PathParams:  c.flagPath.Params(),
		QueryParams: c.flagQuery.Params(),
		Headers:     c.flagHeader,
	}
	if c.flagBody != "" {
		var body resilientrest.Params
		if err := json.Unmarshal([]byte(c.flagBody), &body); err != nil {
			return nil, fmt.Errorf("body must be a JSON object: %w", err)
		}
		req.BodyParams = body
	}
	if c.flagForm {
		req.ContentType = resilientrest.ContentTypeForm
	}
	return req, nil
}

func (c *Command) writeBody(resp *resilientrest.Response) error {
	if c.flagOut != "" {
		return afero.WriteFile(c.Fs, c.flagOut, resp.Body, 0o644)
	}
	if resp.Binary {
		c.UI.Info(fmt.Sprintf("binary body of %d bytes, use -out to save it", len(resp.Body)))
		return nil
	}
	c.UI.Output(strings.TrimRight(resp.Text(), "\n"))
	return nil
}
