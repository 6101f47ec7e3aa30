package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/paperflow/internal/workflow"
)

func workflowCMD(cfgPath *string) *cobra.Command {
	var req workflow.Request
	var requestFile string
	var root string

	var wf = &cobra.Command{
		Use:   "workflow [request]",
		Short: "Generate a paper through the fixed idea, method, results and paper stages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request, err := readRequest(args, requestFile)
			if err != nil {
				return err
			}
			req.Request = request

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if root == "" {
				root = a.cfg.Workspace.Root
			}
			w, err := a.workflow(ctx, root)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			state, err := w.Run(ctx, req, func(st workflow.Stage, s *workflow.State) {
				verb := "done"
				for _, sk := range s.Skipped {
					if sk == st {
						verb = "skipped"
					}
				}
				fmt.Fprintf(out, "[%s] %s\n", st, verb)
				for _, p := range s.Artifacts[st] {
					fmt.Fprintf(out, "    %s\n", p)
				}
			})
			if state != nil && state.ProjectDir != "" {
				fmt.Fprintf(out, "project: %s\n", state.ProjectDir)
			}
			return err
		},
	}
	wf.Flags().StringVarP(&requestFile, "file", "f", "", "read the request from a file")
	wf.Flags().StringVar(&req.Name, "name", "", "project name (default is derived from the request)")
	wf.Flags().StringVar(&req.DataDescription, "data", "", "description of the available data")
	wf.Flags().StringVar(&req.DataDescriptionFile, "data-file", "", "read the data description from a file")
	wf.Flags().StringVar(&req.OutlineFile, "outline", "", "outline JSON the paper should follow")
	wf.Flags().BoolVar(&req.Resume, "resume", false, "skip stages whose artifacts already exist")
	wf.Flags().StringVar(&root, "root", "", "projects directory (default is workspace.root)")

	return wf
}
