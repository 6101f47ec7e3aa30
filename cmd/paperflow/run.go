package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/paperflow/internal/agents"
	"github.com/mohammad-safakhou/paperflow/internal/tools"
)

func runCMD(cfgPath *string) *cobra.Command {
	var requestFile string
	var workspace string
	var asJSON bool

	var run = &cobra.Command{
		Use:   "run [request]",
		Short: "Run the orchestrator agent on a research request",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request, err := readRequest(args, requestFile)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if workspace == "" {
				workspace = filepath.Join(a.cfg.Workspace.Root, time.Now().Format("20060102-150405"))
			}
			ws, err := tools.NewWorkspace(workspace)
			if err != nil {
				return err
			}
			team, err := a.buildTeam(ctx, ws)
			if err != nil {
				return err
			}

			opts := append(a.runnerOptions(), agents.WithEventHandler(func(ev agents.Event) {
				a.logger.Info("agent event",
					zap.String("agent", ev.Agent),
					zap.String("role", ev.Role),
					zap.String("tool", ev.ToolName),
					zap.Strings("tool_calls", ev.ToolCalls))
			}))
			a.logger.Info("run started", zap.String("workspace", ws.Root()))
			res, err := agents.NewRunner(team, ws, opts...).Run(ctx, request)
			if res == nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				b, merr := sonic.ConfigStd.MarshalIndent(res, "", "  ")
				if merr != nil {
					return merr
				}
				fmt.Fprintln(out, string(b))
				return err
			}
			fmt.Fprintln(out, res.FinalAnswer)
			fmt.Fprintf(out, "\nworkspace: %s\n", ws.Root())
			for _, p := range res.Artifacts {
				fmt.Fprintf(out, "  %s\n", p)
			}
			fmt.Fprintf(out, "sub-agents: %d  tokens: %d  duration: %s\n",
				len(res.Delegations), res.Usage.TotalTokens, res.Duration.Round(time.Second))
			return err
		},
	}
	run.Flags().StringVarP(&requestFile, "file", "f", "", "read the request from a file")
	run.Flags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default is a new directory under workspace.root)")
	run.Flags().BoolVar(&asJSON, "json", false, "print the run result as JSON")

	return run
}

// readRequest takes the request from the single argument or from file.
func readRequest(args []string, file string) (string, error) {
	var request string
	switch {
	case len(args) == 1 && file != "":
		return "", errors.New("give the request as an argument or with --file, not both")
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read request: %w", err)
		}
		request = string(b)
	case len(args) == 1:
		request = args[0]
	}
	request = strings.TrimSpace(request)
	if request == "" {
		return "", errors.New("research request is empty")
	}
	return request, nil
}
