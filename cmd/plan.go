package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/dyncomp/internal/log"
	"github.com/zjrosen/dyncomp/internal/presentation"
	"github.com/zjrosen/dyncomp/internal/schema"
	"github.com/zjrosen/dyncomp/internal/watcher"
)

var (
	planJSON  bool
	planWatch bool
	planName  string
)

var planCmd = &cobra.Command{
	Use:   "plan FILE [PARAM...]",
	Short: "Compile a schema document without building it",
	Long: `Compile a JSON or YAML schema document with the given parameters and
print the resulting creation plan. Nothing is constructed. PARAMs fill the
document's keys in declared order; --name overrides the display label.

With --watch the file is recompiled whenever it changes and a diff against
the previous plan is printed.

Examples:
  dyncomp plan form.yaml pay Send
  dyncomp plan --json form.yaml pay Send | jq '.records[].id'
  dyncomp plan --watch form.yaml pay Send`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().BoolVar(&planJSON, "json", false, "print the plan as JSON")
	planCmd.Flags().BoolVarP(&planWatch, "watch", "w", false, "recompile and diff on every change")
	planCmd.Flags().StringVar(&planName, "name", "", "display label passed as parameter 0 (default: the document's name)")
	rootCmd.AddCommand(planCmd)
}

// compilePlan reads and compiles the file at path.
func compilePlan(path string, params []string) (presentation.PlanDTO, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return presentation.PlanDTO{}, fmt.Errorf("reading schema: %w", err)
	}
	doc, err := schema.Parse(data)
	if err != nil {
		return presentation.PlanDTO{}, err
	}
	params = schema.Arguments(doc, planName, params)
	plan, err := schema.Compile(doc, params)
	if err != nil {
		return presentation.PlanDTO{}, err
	}
	dto := presentation.FromPlan(doc.Name, params, plan)
	dto.Warnings = schema.UndeclaredPlaceholders(doc)
	return dto, nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path, params := args[0], args[1:]

	plan, err := compilePlan(path, params)
	if err != nil {
		return err
	}
	if err := printPlan(out, plan); err != nil {
		return err
	}
	if !planWatch {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return watchPlan(ctx, out, path, params, plan)
}

func printPlan(out io.Writer, plan presentation.PlanDTO) error {
	formatter := presentation.NewFormatter(out)
	if planJSON {
		return formatter.FormatJSON(plan)
	}
	if err := formatter.FormatPlan(plan); err != nil {
		return err
	}
	if len(plan.Warnings) > 0 {
		_, _ = fmt.Fprintf(out, "warning: undeclared placeholders: %s\n", strings.Join(plan.Warnings, ", "))
	}
	return nil
}

// watchPlan prints a diff every time the file compiles to a different plan.
// Compile errors are printed and watching continues.
func watchPlan(ctx context.Context, out io.Writer, path string, params []string, prev presentation.PlanDTO) error {
	changes, err := watcher.Watch(ctx, path)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "watching %s (Ctrl+C to stop)\n", path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			log.Debug(log.CatWatcher, "schema changed", "path", change.Path, "events", change.Events)
			next, err := compilePlan(path, params)
			if err != nil {
				log.ErrorErr(log.CatWatcher, "Recompile failed", err, "path", path)
				_, _ = fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			diff := presentation.DiffPlans(prev, next)
			if diff == "" {
				continue
			}
			_, _ = fmt.Fprintf(out, "--- %s changed\n%s", path, diff)
			prev = next
		}
	}
}
