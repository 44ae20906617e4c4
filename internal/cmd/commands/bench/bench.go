package bench

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/afero"

	resilientrest "github.com/opengovern/resilient-rest"
	"github.com/opengovern/resilient-rest/batch"
	"github.com/opengovern/resilient-rest/internal/cmd/base"
	"github.com/opengovern/resilient-rest/scheduler"
)

type Command struct {
	*base.Command

	flagConfig     string
	flagProvider   string
	flagCalls      int
	flagConcurrent bool
	flagPath       base.KeyValues
	flagQuery      base.KeyValues
	flagExport     string
}

func (c *Command) Synopsis() string {
	return "Run an operation many times and report timings"
}

func (c *Command) Help() string {
	return `Usage: resilient-rest bench [options] <resource> <method>

  Calls resource.method -calls times, one after the other or concurrently,
  paced by the scheduler block of the provider when there is one, and prints
  a summary of every attempt that was sent.` +
		c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	if c.flagPath == nil {
		c.flagPath, c.flagQuery = base.KeyValues{}, base.KeyValues{}
	}
	f := base.NewFlagSet(flag.NewFlagSet("bench", flag.ContinueOnError))

	f.StringVar(&c.flagConfig, "config", "", "(Required) Path to the HCL config file")
	f.StringVar(&c.flagProvider, "provider", "", "(Required) Provider name from the config file")
	f.IntVar(&c.flagCalls, "calls", batch.DefaultCalls, "Number of calls")
	f.BoolVar(&c.flagConcurrent, "concurrent", false, "Start all calls at once")
	f.Var(c.flagPath, "path", "Path parameter as key=value. Repeatable.")
	f.Var(c.flagQuery, "query", "Query parameter as key=value. Repeatable.")
	f.StringVar(&c.flagExport, "export", "", "Write the tracked attempts as JSON to this file")

	return f
}

func (c *Command) Run(args []string) int {
	logger, ui := c.Log, c.UI

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
	if c.flagCalls < 1 {
		ui.Error("calls must be at least 1")
		return 1
	}

	cfg, err := c.LoadConfig(c.flagConfig)
	if err != nil {
		ui.Error(fmt.Sprintf("error loading config: %v", err))
		return 1
	}
	client, provider, err := c.Client(cfg, c.flagProvider)
	if err != nil {
		ui.Error(fmt.Sprintf("error building client: %v", err))
		return 1
	}
	defer client.Close()

	schedCfg, err := provider.SchedulerConfig()
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	sched, err := scheduler.New(provider.Name, schedCfg, scheduler.WithLogger(logger))
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	defer sched.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	resource, method := flags.Arg(0), flags.Arg(1)
	call := &resilientrest.CallRequest{PathParams: c.flagPath.Params(), QueryParams: c.flagQuery.Params()}

	start := time.Now()
	_, runErr := batch.Run(ctx, batch.Config{
		Calls:      c.flagCalls,
		Concurrent: c.flagConcurrent,
		Scheduler:  sched,
		Logger:     logger,
	}, func(ctx context.Context, i int) (int, error) {
		resp, err := client.Call(ctx, resource, method, call)
		if resp == nil {
			return 0, err
		}
		return resp.StatusCode, err
	})
	elapsed := time.Since(start)

	s := client.Tracker().Summary()
	ui.Output(fmt.Sprintf("%s.%s: %d calls in %v", resource, method, c.flagCalls, elapsed.Round(time.Millisecond)))
	ui.Output(fmt.Sprintf("attempts: %d  transport errors: %d", s.Count, s.Errors))
	ui.Output(fmt.Sprintf("latency: min %v  avg %v  max %v", s.Min, s.Avg, s.Max))
	statuses := make([]int, 0, len(s.Statuses))
	for code := range s.Statuses {
		statuses = append(statuses, code)
	}
	sort.Ints(statuses)
	for _, code := range statuses {
		ui.Output(fmt.Sprintf("  HTTP %d: %d", code, s.Statuses[code]))
	}
	if info := client.RateLimits().Snapshot(); info.Remaining != nil {
		ui.Output(fmt.Sprintf("rate limit remaining: %d", *info.Remaining))
	}

	if c.flagExport != "" {
		data, err := client.Tracker().Export()
		if err == nil {
			err = afero.WriteFile(c.Fs, c.flagExport, data, 0o644)
		}
		if err != nil {
			ui.Error(fmt.Sprintf("error exporting attempts: %v", err))
			return 1
		}
	}

	if runErr != nil {
		ui.Warn(runErr.Error())
		return 2
	}
	return 0
}
