package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/paperflow/internal/document"
	"github.com/mohammad-safakhou/paperflow/internal/outline"
)

func outlineCMD() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "outline",
		Short: "Work with paper outlines",
	}
	cmd.AddCommand(outlineValidateCMD(), outlineAssembleCMD())
	return cmd
}

func outlineValidateCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check an outline file against the outline schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			o, err := outline.Load(args[0])
			if err != nil {
				var verrs outline.ValidationErrors
				if errors.As(err, &verrs) {
					for _, e := range verrs {
						path := e.Path
						if path == "" {
							path = "/"
						}
						fmt.Fprintf(out, "%s: %s\n", path, e.Message)
					}
					return fmt.Errorf("%s: %d validation error(s)", args[0], len(verrs))
				}
				return err
			}
			fmt.Fprintf(out, "%s: valid\n", args[0])
			fmt.Fprintf(out, "title: %s\n", o.Title)
			for _, s := range o.Sections {
				fmt.Fprintf(out, "  %2d. %s", s.Order, s.Title)
				if s.TargetWords > 0 {
					fmt.Fprintf(out, " (%d words)", s.TargetWords)
				}
				fmt.Fprintln(out)
			}
			if total := o.TotalTargetWords(); total > 0 {
				fmt.Fprintf(out, "target: %d words\n", total)
			}
			return nil
		},
	}
}

func outlineAssembleCMD() *cobra.Command {
	var output string
	var cmd = &cobra.Command{
		Use:   "assemble <outline> <sections-dir>",
		Short: "Concatenate written sections into one Markdown document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := outline.Load(args[0])
			if err != nil {
				return err
			}
			doc, err := document.Assemble(o, args[1])
			if err != nil {
				return err
			}
			for _, m := range doc.Missing {
				fmt.Fprintf(cmd.ErrOrStderr(), "missing section: %s\n", m)
			}
			if output == "" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), doc.Markdown)
				return err
			}
			return os.WriteFile(output, []byte(doc.Markdown), 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the document to a file instead of stdout")
	return cmd
}
