package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rodaine/table"
	"github.com/spf13/cobra"

	"github.com/jbweber/marionette/internal/action"
	"github.com/jbweber/marionette/internal/keyboard"
)

var layoutsCmd = &cobra.Command{
	Use:   "layouts",
	Short: "List keyboard layouts and actions",
	Long: `List the keyboard layouts that translate key codes and text into
scancodes, and the action names a batch may use.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tbl := table.New("LAYOUT", "DESCRIPTION", "KEYS", "CHARACTERS").WithWriter(os.Stdout).WithPadding(2)
		for _, name := range keyboard.Names() {
			l, err := keyboard.Lookup(name)
			if err != nil {
				return err
			}
			tbl.AddRow(l.Name, l.Description, l.KeyCount(), l.CharCount())
		}
		tbl.Print()

		fmt.Printf("\nActions: %s\n", strings.Join(action.Names(), ", "))
		return nil
	},
}
