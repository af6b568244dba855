package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetflow/broker-comms/internal/seed"
	"github.com/fleetflow/broker-comms/internal/service"
)

func newTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Message template commands",
	}

	cmd.AddCommand(newTemplatesListCmd())
	cmd.AddCommand(newTemplatesRenderCmd())
	return cmd
}

func newTemplatesListCmd() *cobra.Command {
	var seedFile, category string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			templates, err := loadTemplates(seedFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, tmpl := range templates.List(category) {
				fmt.Fprintf(out, "%-24s %-8s %-14s usage=%d\n", tmpl.ID, tmpl.Type, tmpl.Category, tmpl.Usage)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&seedFile, "seed", "", "seed file (default: embedded)")
	cmd.Flags().StringVar(&category, "category", "", "only list templates in this category")
	return cmd
}

func newTemplatesRenderCmd() *cobra.Command {
	var (
		seedFile string
		vars     map[string]string
	)

	cmd := &cobra.Command{
		Use:   "render <template-id>",
		Short: "Render a template with variables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			templates, err := loadTemplates(seedFile)
			if err != nil {
				return err
			}
			rendered, err := templates.Process(args[0], vars)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rendered.Subject != nil {
				fmt.Fprintf(out, "Subject: %s\n\n", *rendered.Subject)
			}
			fmt.Fprintln(out, rendered.Content)
			return nil
		},
	}

	cmd.Flags().StringVar(&seedFile, "seed", "", "seed file (default: embedded)")
	cmd.Flags().StringToStringVar(&vars, "var", nil, "variable as NAME=value, repeatable")
	return cmd
}

func loadTemplates(path string) (*service.TemplateStore, error) {
	data, err := seed.Load(path)
	if err != nil {
		return nil, err
	}
	store := service.NewTemplateStore(nil, nil)
	for i := range data.Templates {
		store.Add(&data.Templates[i])
	}
	return store, nil
}
