package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/ledgerline/internal/db"
	"github.com/zulandar/ledgerline/internal/models"
)

func newCompanyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "company",
		Short: "Company (tenant) commands",
	}
	cmd.AddCommand(newCompanyListCmd())
	return cmd
}

func newCompanyListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List companies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompanyList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Ledgerline config file")
	return cmd
}

func runCompanyList(cmd *cobra.Command, configPath string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	var companies []models.Company
	if err := gormDB.Order("id ASC").Find(&companies).Error; err != nil {
		return fmt.Errorf("list companies: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(companies) == 0 {
		fmt.Fprintln(out, "No companies. Add them under companies: and run `ledgerline db init`.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTAX ID")
	for _, c := range companies {
		fmt.Fprintf(w, "%d\t%s\t%s\n", c.ID, c.Name, c.TaxID)
	}
	return w.Flush()
}
