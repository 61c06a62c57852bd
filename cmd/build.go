package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/dyncomp/internal/orchestration/command"
	"github.com/zjrosen/dyncomp/internal/orchestration/events"
	"github.com/zjrosen/dyncomp/internal/pubsub"
	"github.com/zjrosen/dyncomp/internal/schema"
)

var (
	buildMode  string
	buildQuiet bool
	buildName  string
)

var buildCmd = &cobra.Command{
	Use:   "build FILE [PARAM...]",
	Short: "Build a schema document into a component tree",
	Long: `Compile a JSON or YAML schema document with the given parameters and
build it into a fresh component tree. PARAMs fill the document's keys in
declared order. Parameter 0 is the display label, taken from --name or the
document's name. Events are printed as they happen and the resulting tree is
shown at the end.

In deferred mode the build is queued and its failure, if any, is only
reported as a build_failed event.

Examples:
  dyncomp build form.yaml pay Send
  dyncomp build --mode deferred box.json 1`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVarP(&buildMode, "mode", "m", "", "execution mode: immediate or deferred (overrides config)")
	buildCmd.Flags().BoolVarP(&buildQuiet, "quiet", "q", false, "do not print events")
	buildCmd.Flags().StringVar(&buildName, "name", "", "display label passed as parameter 0 (default: the document's name)")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}
	doc, err := schema.Parse(data)
	if err != nil {
		return err
	}

	rt, err := newRuntime(cfg, buildMode, command.SourceCLI)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	out := cmd.OutOrStdout()
	var printed <-chan struct{}
	if !buildQuiet {
		printed = rt.session.Broker().SubscribeFunc(ctx, func(e pubsub.Event[any]) {
			printEvent(out, e)
		})
	}

	buildErr := rt.session.BuildDocument(ctx, rt.screen, doc, schema.Arguments(doc, buildName, args[1:]))
	// Queries run after anything already queued, so the tree includes a
	// deferred build.
	tree, treeErr := rt.hostTree(ctx)

	closeErr := rt.Close()
	cancel()
	if printed != nil {
		<-printed
	}
	if buildErr != nil {
		return buildErr
	}
	if treeErr != nil {
		return treeErr
	}
	if closeErr != nil {
		return closeErr
	}

	_, _ = fmt.Fprintln(out, tree)
	return nil
}

func printEvent(w io.Writer, e pubsub.Event[any]) {
	switch ev := e.Payload.(type) {
	case events.CreationCompleted:
		_, _ = fmt.Fprintf(w, "created  %s (%s)\n", ev.ID, ev.TypeName)
	case events.SchemaCompleted:
		_, _ = fmt.Fprintf(w, "built    %s: %d instances\n", ev.Name, ev.Created)
	case events.BuildFailed:
		_, _ = fmt.Fprintf(w, "failed   record %d (%s): %s\n", ev.Index, ev.ID, ev.Message)
	}
}
