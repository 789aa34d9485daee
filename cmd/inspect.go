package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/zeit-on-tolino/internal/epub"
	"github.com/JakeFAU/zeit-on-tolino/internal/hash/sha256"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the metadata of an EPUB file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := epub.Read(args[0])
			if err != nil {
				return fmt.Errorf("inspect %s: %w", args[0], err)
			}
			sum, size, err := sha256.New().HashFile(args[0])
			if err != nil {
				return fmt.Errorf("inspect %s: %w", args[0], err)
			}
			rows := [][]string{
				{"title", meta.Title},
				{"creators", strings.Join(meta.Creators, ", ")},
				{"language", meta.Language},
				{"identifier", meta.Identifier},
				{"publisher", meta.Publisher},
				{"date", meta.Date},
				{"size", strconv.FormatInt(size, 10)},
				{"sha256", sum},
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"field", "value"}, rows, nil))
			return err
		},
	}
}
