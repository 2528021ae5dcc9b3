package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CMarchell/autoclips/internal/api"
	"github.com/CMarchell/autoclips/internal/config"
	"github.com/CMarchell/autoclips/internal/dedup"
	"github.com/CMarchell/autoclips/internal/storage"
)

// --- create ---

var createCmd = &cobra.Command{
	Use:   "create <topic>",
	Short: "Create a video project and run it to preview",
	Long: `Create a video project for a topic.

The project runs through every stage up to preview unless --no-run is given.

Examples:
  autoclips create "Why budgets fail in week two"
  autoclips create --niche finance --voice warm "Compound interest in 60 seconds"
  autoclips create --no-run "The five minute rule"`,
	Args: cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		topic := strings.Join(args, " ")
		nicheName, _ := cmd.Flags().GetString("niche")
		voice, _ := cmd.Flags().GetString("voice")
		noRun, _ := cmd.Flags().GetBool("no-run")

		p, err := a.orch.Create(ctx, topic, nicheName)
		if errors.Is(err, dedup.ErrDuplicateTopic) {
			return fmt.Errorf("%w: kill the existing project or wait for the topic window to pass", err)
		}
		if err != nil {
			return err
		}
		id := p.ID
		printSuccess("Created %s", id)

		if voice != "" {
			if p, err = a.orch.ChangeVoice(ctx, id, voice); err != nil {
				return err
			}
		}
		if noRun {
			printProject(cmd.OutOrStdout(), p)
			return nil
		}

		printStep("Running pipeline...")
		p, err = a.orch.Run(ctx, id)
		if err != nil {
			return fmt.Errorf("project %s: %w", id, err)
		}
		printProject(cmd.OutOrStdout(), p)
		return nil
	}),
}

func init() {
	createCmd.Flags().String("niche", "", "niche name (default from pipeline.default_niche)")
	createCmd.Flags().String("voice", "", "voice key or provider voice id")
	createCmd.Flags().Bool("no-run", false, "only create the project, do not run any stage")
}

// --- batch ---

var batchCmd = &cobra.Command{
	Use:   "batch [topic...]",
	Short: "Create and run several projects concurrently",
	Long: `Create and run one project per topic.

Topics come from the arguments, or one per line from --file ("-" reads
stdin). Blank lines and lines starting with # are skipped.`,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		nicheName, _ := cmd.Flags().GetString("niche")
		parallel, _ := cmd.Flags().GetInt("parallel")
		file, _ := cmd.Flags().GetString("file")

		topics := args
		if file != "" {
			r := io.Reader(cmd.InOrStdin())
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("opening topics file: %w", err)
				}
				defer f.Close()
				r = f
			}
			more, err := readTopics(r)
			if err != nil {
				return err
			}
			topics = append(topics, more...)
		}
		if len(topics) == 0 {
			return fmt.Errorf("no topics given")
		}

		printStep("Running %d topics, %d at a time...", len(topics), parallel)
		results := a.orch.Batch(ctx, topics, nicheName, parallel)

		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
				printError("%s: %v", r.Topic, r.Err)
				continue
			}
			printProjectLine(cmd.OutOrStdout(), r.Project)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d topics failed", failed, len(results))
		}
		printSuccess("All %d topics reached preview", len(results))
		return nil
	}),
}

func init() {
	batchCmd.Flags().String("niche", "", "niche name for every topic")
	batchCmd.Flags().Int("parallel", 3, "maximum projects in flight")
	batchCmd.Flags().String("file", "", "read topics from a file, one per line")
}

// readTopics reads one topic per line, skipping blanks and # comments.
func readTopics(r io.Reader) ([]string, error) {
	var topics []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		topics = append(topics, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading topics: %w", err)
	}
	return topics, nil
}

// --- ideas ---

var ideasCmd = &cobra.Command{
	Use:   "ideas",
	Short: "Suggest new topics for a niche",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		nicheName, _ := cmd.Flags().GetString("niche")
		count, _ := cmd.Flags().GetInt("count")

		ideas, err := a.orch.Ideas(ctx, nicheName, count)
		if err != nil {
			return err
		}
		if len(ideas) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No new ideas.")
			return nil
		}
		for _, idea := range ideas {
			fmt.Fprintln(cmd.OutOrStdout(), idea)
		}
		return nil
	}),
}

func init() {
	ideasCmd.Flags().String("niche", "", "niche name")
	ideasCmd.Flags().Int("count", 5, "number of ideas")
}

// --- advance / run / retry / approve / kill ---

var advanceCmd = &cobra.Command{
	Use:   "advance <project-id> [stage]",
	Short: "Run the next stage, or replay a completed stage",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		var stage storage.Stage
		if len(args) == 2 {
			s, err := storage.ParseStage(args[1])
			if err != nil {
				return err
			}
			stage = s
		}

		res, err := a.orch.Advance(ctx, args[0], stage)
		if err != nil {
			return err
		}
		switch {
		case res.Replayed:
			printSuccess("%s already completed, replayed from stored artifact", res.Stage)
		case res.Stage == "":
			printSuccess("All stages complete")
		default:
			printSuccess("%s complete", res.Stage)
		}
		printProject(cmd.OutOrStdout(), res.Project)
		return nil
	}),
}

var runCmd = &cobra.Command{
	Use:   "run <project-id>",
	Short: "Run the remaining stages of a project",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		p, err := a.orch.Run(ctx, args[0])
		if err != nil {
			return err
		}
		printProject(cmd.OutOrStdout(), p)
		return nil
	}),
}

var retryCmd = &cobra.Command{
	Use:   "retry <project-id>",
	Short: "Clear a failure and resume from the last checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		p, err := a.orch.Retry(ctx, args[0])
		if err != nil {
			return err
		}
		printProject(cmd.OutOrStdout(), p)
		return nil
	}),
}

var approveCmd = &cobra.Command{
	Use:   "approve <project-id>",
	Short: "Approve a previewed video",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		p, err := a.orch.Approve(ctx, args[0])
		if err != nil {
			return err
		}
		printSuccess("Approved %s (%d clips reserved)", p.ID, len(p.Artifacts.Footage))
		if p.Artifacts.Assembly != "" {
			printStatus(cmd.OutOrStdout(), "Video", "%s", p.Artifacts.Assembly)
		}
		return nil
	}),
}

var killCmd = &cobra.Command{
	Use:   "kill <project-id>",
	Short: "Delete a project and all of its files",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes project %s and its files. Use --confirm to proceed.", args[0])
			return nil
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		if err := a.orch.Kill(ctx, args[0]); err != nil {
			return err
		}
		printSuccess("Killed %s", args[0])
		return nil
	}),
}

func init() {
	killCmd.Flags().Bool("confirm", false, "confirm deletion")
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Close stage attempts abandoned by crashed processes",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		n, err := a.orch.Reconcile(ctx)
		if err != nil {
			return err
		}
		printSuccess("Closed %d abandoned attempts", n)
		return nil
	}),
}

// --- list / status / history / footage ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects newest first",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		statusFlag, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		var status storage.Status
		if statusFlag != "" {
			s, err := storage.ParseStatus(statusFlag)
			if err != nil {
				return err
			}
			status = s
		}

		projects, err := a.reg.List(cmd.Context(), status, limit)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), projectViews(projects))
		}
		if len(projects) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No projects found.")
			return nil
		}
		for _, p := range projects {
			printProjectLine(cmd.OutOrStdout(), p)
		}
		return nil
	}),
}

func init() {
	listCmd.Flags().String("status", "", "filter by status")
	listCmd.Flags().Int("limit", 20, "maximum number of projects")
	listCmd.Flags().Bool("json", false, "print JSON")
}

var statusCmd = &cobra.Command{
	Use:   "status <project-id>",
	Short: "Show a project",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		rep, err := a.reg.Inspect(cmd.Context(), args[0])
		if err != nil {
			return lookupError(args[0], err)
		}
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), api.NewReportView(rep))
		}
		printProject(cmd.OutOrStdout(), rep.Project)
		return nil
	}),
}

func init() {
	statusCmd.Flags().Bool("json", false, "print JSON including stage history")
}

var historyCmd = &cobra.Command{
	Use:   "history <project-id>",
	Short: "Show every stage attempt of a project",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		history, err := a.reg.History(cmd.Context(), args[0])
		if err != nil {
			return lookupError(args[0], err)
		}
		if len(history) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No attempts yet.")
			return nil
		}
		for _, at := range history {
			printAttempt(cmd.OutOrStdout(), at)
		}
		return nil
	}),
}

var footageCmd = &cobra.Command{
	Use:   "footage <project-id>",
	Short: "List the footage clips of a project",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		p, err := a.reg.Get(cmd.Context(), args[0])
		if err != nil {
			return lookupError(args[0], err)
		}
		if len(p.Artifacts.Footage) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No footage yet.")
			return nil
		}
		for _, c := range p.Artifacts.Footage {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-16s %s\n", colorize(colorCyan, c.ID), c.Keyword, c.Ref)
		}
		return nil
	}),
}

func projectViews(projects []storage.Project) []api.ProjectView {
	views := make([]api.ProjectView, len(projects))
	for i, p := range projects {
		views[i] = api.NewProjectView(p)
	}
	return views
}

func lookupError(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("project %s not found", id)
	}
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value.\n\nValid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
