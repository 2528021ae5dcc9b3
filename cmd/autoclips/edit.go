package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
)

var updateScriptCmd = &cobra.Command{
	Use:   "update-script <project-id>",
	Short: "Replace the script of a project",
	Long: `Replace the script of a project.

Without --text or --file the current script opens in $EDITOR. Voice,
assembly and metadata are regenerated on the next run.

Examples:
  autoclips update-script 2026-10-14_budgets_a1b2c3d4 --text "New script."
  autoclips update-script 2026-10-14_budgets_a1b2c3d4 --file ./script.txt
  autoclips update-script 2026-10-14_budgets_a1b2c3d4`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		id := args[0]

		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")

		switch {
		case text != "":
		case file == "-":
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			text = string(data)
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			text = string(data)
		default:
			p, err := a.reg.Get(ctx, id)
			if err != nil {
				return lookupError(id, err)
			}
			if p.Artifacts.Script == "" {
				return fmt.Errorf("project %s has no script yet", id)
			}
			current, err := a.artifacts.ReadFile(p.Artifacts.Script)
			if err != nil {
				return fmt.Errorf("reading script: %w", err)
			}
			if text, err = editText(current); err != nil {
				return err
			}
			if strings.TrimSpace(text) == strings.TrimSpace(string(current)) {
				printWarning("Script unchanged")
				return nil
			}
		}

		p, err := a.orch.UpdateScript(ctx, id, text)
		if err != nil {
			return lookupError(id, err)
		}
		printSuccess("Script updated, project is back at %s", p.CurrentStage)
		return nil
	}),
}

func init() {
	updateScriptCmd.Flags().String("text", "", "new script text")
	updateScriptCmd.Flags().String("file", "", `read the script from a file ("-" for stdin)`)
}

// editText opens content in $EDITOR and returns the saved result.
func editText(content []byte) (string, error) {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	tmpFile, err := os.CreateTemp("", "autoclips-script-*.txt")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(content); err != nil {
		tmpFile.Close()
		return "", err
	}
	tmpFile.Close()

	editorCmd := exec.Command(editor, tmpPath)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	if err := editorCmd.Run(); err != nil {
		return "", fmt.Errorf("editor exited with error: %w", err)
	}

	edited, err := os.ReadFile(tmpPath)
	if err != nil {
		return "", err
	}
	return string(edited), nil
}

var removeFootageCmd = &cobra.Command{
	Use:   "remove-footage <project-id> <clip-id>",
	Short: "Remove one footage clip",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		p, err := a.orch.RemoveFootage(ctx, args[0], args[1])
		if err != nil {
			return lookupError(args[0], err)
		}
		printSuccess("Removed clip %s, %d clips left", args[1], len(p.Artifacts.Footage))
		return nil
	}),
}

var replaceFootageCmd = &cobra.Command{
	Use:   "replace-footage <project-id> <clip-id>",
	Short: "Replace one footage clip with a new search result",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		keyword, _ := cmd.Flags().GetString("keyword")

		p, err := a.orch.ReplaceFootage(ctx, args[0], args[1], keyword)
		if err != nil {
			return lookupError(args[0], err)
		}
		printSuccess("Replaced clip %s", args[1])
		for _, c := range p.Artifacts.Footage {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-16s %s\n", colorize(colorCyan, c.ID), c.Keyword, c.Ref)
		}
		return nil
	}),
}

func init() {
	replaceFootageCmd.Flags().String("keyword", "", "search keyword (default: the clip's keyword)")
}

var changeVoiceCmd = &cobra.Command{
	Use:   "change-voice <project-id> <voice>",
	Short: "Change the narration voice",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		p, err := a.orch.ChangeVoice(ctx, args[0], args[1])
		if err != nil {
			return lookupError(args[0], err)
		}
		printSuccess("Voice set to %s, project is at %s", p.Voice, checkpointLabel(string(p.CurrentStage)))
		return nil
	}),
}

var changeMusicCmd = &cobra.Command{
	Use:   "change-music <project-id> [music]",
	Short: "Change background music; omit music to remove it",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		music := ""
		if len(args) == 2 {
			music = args[1]
		}
		p, err := a.orch.ChangeMusic(ctx, args[0], music)
		if err != nil {
			return lookupError(args[0], err)
		}
		if p.Music == "" {
			printSuccess("Music removed")
		} else {
			printSuccess("Music set to %s", p.Music)
		}
		return nil
	}),
}

func checkpointLabel(cp string) string {
	if cp == "" {
		return "the start"
	}
	return cp
}
