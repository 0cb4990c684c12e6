package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pario-ai/rephrase/pkg/diff"
	"github.com/pario-ai/rephrase/pkg/models"
)

func newDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff ORIGINAL_FILE MODIFIED_FILE",
		Short: "Show a word-level diff between two text files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			b, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}

			segs := diff.Compute(string(a), string(b))
			fmt.Println(renderDiff(segs))
			deleted, inserted := diff.Stats(segs)
			fmt.Fprintf(os.Stderr, "%d word(s) deleted, %d inserted\n", deleted, inserted)
			return nil
		},
	}
}

func renderDiff(segs []models.DiffSegment) string {
	var b strings.Builder
	for _, s := range segs {
		switch s.Kind {
		case models.DiffDelete:
			b.WriteString("[-" + s.Text + "-]")
		case models.DiffInsert:
			b.WriteString("{+" + s.Text + "+}")
		default:
			b.WriteString(s.Text)
		}
	}
	return b.String()
}
