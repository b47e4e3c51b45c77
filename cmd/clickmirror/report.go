package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/emilianohg/clickmirror/internal/analytics"
	"github.com/emilianohg/clickmirror/internal/jobs"
	"github.com/emilianohg/clickmirror/internal/period"
	"github.com/emilianohg/clickmirror/internal/tui"
)

func kindNames() string {
	names := make([]string, 0, len(analytics.Kinds()))
	for _, k := range analytics.Kinds() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

var reportCmd = &cobra.Command{
	Use:   "report <kind>",
	Short: "Build a report for a mapped scope",
	Long: `Build a report for a mapped scope. Kinds: ` + kindNames() + `.

Examples:
  clickmirror report time --scope web --period this_week --group-by person
  clickmirror report overtime --scope web --period rolling --days 14
  clickmirror report ratios --scope 901234 --include-done
  clickmirror report low-hours --scope web --start 2025-03-01 --end 2025-03-15
  clickmirror report workload --scope web`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := analytics.Request{Kind: analytics.Kind(args[0])}
		req.Scope, _ = cmd.Flags().GetString("scope")
		req.Spec.Kind, _ = cmd.Flags().GetString("period")
		req.Spec.Days, _ = cmd.Flags().GetInt("days")
		req.Spec.Start, _ = cmd.Flags().GetString("start")
		req.Spec.End, _ = cmd.Flags().GetString("end")
		req.GroupBy, _ = cmd.Flags().GetString("group-by")
		req.IncludeDone, _ = cmd.Flags().GetBool("include-done")
		output, _ := cmd.Flags().GetString("output")

		if req.Spec.Start != "" && req.Spec.Kind == "" {
			req.Spec.Kind = string(period.Custom)
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			rep, err := buildReport(ctx, a, req)
			if err != nil {
				return err
			}
			return printReport(rep, output)
		})
	},
}

// buildReport runs plans through Dispatch so small ones usually come back
// inline; plans known to be large are submitted and watched until they
// finish.
func buildReport(ctx context.Context, a *app, req analytics.Request) (*analytics.Report, error) {
	plan, err := a.reports.Plan(ctx, req)
	if err != nil {
		return nil, err
	}

	name := "report:" + string(req.Kind)
	run := func(ctx context.Context) (any, error) { return plan.Execute(ctx) }

	var id string
	if plan.Inline() {
		st, err := a.jobs.Dispatch(ctx, name, run)
		if err != nil {
			return nil, err
		}
		switch st.State {
		case jobs.StateFinished:
			return asReport(st.Result)
		case jobs.StateFailed:
			return nil, fmt.Errorf("%w: %s", jobs.ErrJobFailed, st.Error)
		}
		id = st.ID
	} else {
		a.logger.Info("large report, running in the background", "kind", req.Kind, "tasks", plan.Size())
		if id, err = a.jobs.Submit(name, run); err != nil {
			return nil, err
		}
	}

	var res any
	if isTerminal(os.Stdout) {
		res, err = tui.WatchJob(a.jobs, id, name)
	} else {
		res, err = tui.WaitPlain(ctx, a.jobs, id, time.Second)
	}
	if err != nil {
		return nil, err
	}
	return asReport(res)
}

func asReport(v any) (*analytics.Report, error) {
	rep, ok := v.(*analytics.Report)
	if !ok || rep == nil {
		return nil, fmt.Errorf("unexpected job result %T", v)
	}
	return rep, nil
}

func printReport(rep *analytics.Report, output string) error {
	switch output {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(rep)
	case "", "table":
		fmt.Println(tui.RenderReport(rep))
		return nil
	}
	return fmt.Errorf("unknown output %q (want table, json or yaml)", output)
}

func init() {
	f := reportCmd.Flags()
	f.StringP("scope", "s", "", "Alias, folder or list name, or remote id (default: whole workspace)")
	f.StringP("period", "p", "", "Period: "+periodNames())
	f.Int("days", 0, "Day count for rolling")
	f.String("start", "", "Custom period start (YYYY-MM-DD)")
	f.String("end", "", "Custom period end, inclusive (YYYY-MM-DD)")
	f.StringP("group-by", "g", "", "Time report grouping: person, project or list")
	f.Bool("include-done", false, "Include closed tasks where the report allows it")
	f.StringP("output", "o", "table", "Output: table, json or yaml")
}

func periodNames() string {
	names := make([]string, 0, len(period.Kinds()))
	for _, k := range period.Kinds() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}
