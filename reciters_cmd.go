package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tilawa/recite/internal/verse"
)

var recitersCmd = &cobra.Command{
	Use:     "reciters [NAME]",
	Short:   "List the available reciters",
	Long:    paragraph(fmt.Sprintf("\n%s the built-in reciters, or show which one a name resolves to.", keyword("List"))),
	Example: paragraph("recite reciters\nrecite reciters husary"),
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		current, _ := verse.FindReciter(cfg.Reciter)

		list := verse.Reciters
		if len(args) == 1 {
			r, err := verse.FindReciter(args[0])
			if err != nil {
				return err
			}
			list = list[:0:0]
			list = append(list, r)
		}

		rows := make([][]string, 0, len(list))
		for _, r := range list {
			mark := ""
			if r == current {
				mark = "*"
			}
			rows = append(rows, []string{mark, r.Name, r.Folder})
		}
		printTable(cmd.OutOrStdout(), []string{"", "Name", "Folder"}, rows)
		return nil
	},
}
