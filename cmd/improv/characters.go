package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chadiek/improv/internal/characters"
)

var charactersCmd = &cobra.Command{
	Use:   "characters",
	Short: "List the characters found in the characters directory",
	Args:  cobra.NoArgs,
	RunE:  runCharacters,
}

func init() {
	rootCmd.AddCommand(charactersCmd)
}

func runCharacters(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig(cmd)
	chars, err := characters.Load(cfg.CharactersDir, nil)
	if err != nil {
		return err
	}
	if len(chars) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no characters in %s\n", cfg.CharactersDir)
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVOICE\tEMOTIONS")
	for i, c := range chars {
		id := c.ID
		if i == 0 {
			id += " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, c.Name, c.Voice, strings.Join(c.Emotions(), ", "))
	}
	return tw.Flush()
}
