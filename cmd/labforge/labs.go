package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/labforge/internal/app"
	"github.com/michaelbrown/labforge/internal/catalog"
)

var labsCmd = &cobra.Command{
	Use:     "labs",
	Aliases: []string{"lab", "l"},
	Short:   "Manage the lab catalog",
}

var labsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List labs",
	RunE:  runLabsList,
}

var labsShowCmd = &cobra.Command{
	Use:   "show <lab-id>",
	Short: "Show lab details",
	Args:  cobra.ExactArgs(1),
	RunE:  runLabsShow,
}

var labsImportCmd = &cobra.Command{
	Use:   "import <catalog.yaml>",
	Short: "Create or update labs from a YAML catalog",
	Long: `Create or update labs from a YAML catalog file:

  labs:
    - id: 1
      title: Hello World
      prompt: Print a greeting.
      max_score: 100
      starter_bundle: hello/starter.zip
      test_bundle: hello/tests.zip

Relative bundle paths are resolved against the catalog's directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runLabsImport,
}

func init() {
	rootCmd.AddCommand(labsCmd)
	labsCmd.AddCommand(labsListCmd, labsShowCmd, labsImportCmd)
}

func runLabsList(cmd *cobra.Command, args []string) error {
	a, err := app.Load(configFlag)
	if err != nil {
		return err
	}
	defer a.Close()

	labs, err := a.Store.ListLabs(context.Background())
	if err != nil {
		return err
	}

	if len(labs) == 0 {
		fmt.Println("No labs found. Import some with: labforge labs import <catalog.yaml>")
		return nil
	}

	// Header
	fmt.Printf("%-6s %-40s %-6s %s\n", "ID", "TITLE", "MAX", "BUNDLES")
	fmt.Println(strings.Repeat("─", 70))

	for _, l := range labs {
		title := l.Title
		if len(title) > 38 {
			title = title[:38] + ".."
		}
		if title == "" {
			title = "(untitled)"
		}

		var bundles []string
		if l.StarterBundle != "" {
			bundles = append(bundles, "starter")
		}
		if l.TestBundle != "" {
			bundles = append(bundles, "tests")
		}

		fmt.Printf("%-6d %-40s %-6d %s\n", l.ID, title, l.MaxScore, strings.Join(bundles, ","))
	}

	return nil
}

func runLabsShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid lab id %q", args[0])
	}

	a, err := app.Load(configFlag)
	if err != nil {
		return err
	}
	defer a.Close()

	l, err := a.Store.GetLab(context.Background(), id)
	if err != nil {
		return err
	}

	fmt.Printf("Lab:       %d\n", l.ID)
	fmt.Printf("Title:     %s\n", l.Title)
	fmt.Printf("Max score: %d\n", l.MaxScore)
	if l.StarterBundle != "" {
		fmt.Printf("Starter:   %s\n", l.StarterBundle)
	}
	if l.TestBundle != "" {
		fmt.Printf("Tests:     %s\n", l.TestBundle)
	}
	fmt.Printf("Created:   %s\n", l.CreatedAt.Format(time.RFC3339))
	if l.Prompt != "" {
		fmt.Println(strings.Repeat("─", 60))
		fmt.Println(l.Prompt)
	}
	return nil
}

func runLabsImport(cmd *cobra.Command, args []string) error {
	a, err := app.Load(configFlag)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := catalog.Import(context.Background(), a.Store, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d labs from %s\n", n, args[0])
	return nil
}
