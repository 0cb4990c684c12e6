package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pario-ai/rephrase/pkg/pii"
)

func newMaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mask [TEXT]",
		Short: "Preview PII masking of text (reads stdin without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var text string
			if len(args) == 1 {
				text = args[0]
			} else {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				text = string(data)
			}
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("no text to mask")
			}

			res := pii.New().Mask(text)
			fmt.Println(res.Text)
			counts := pii.Categories(res.Concealed())
			for _, c := range pii.Order {
				if n := counts[c]; n > 0 {
					fmt.Fprintf(os.Stderr, "%-10s %d\n", c, n)
				}
			}
			return nil
		},
	}
}
