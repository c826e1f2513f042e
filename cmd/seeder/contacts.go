package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/unclebandit/newsletter-backend/internal/service"
)

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Import contacts into an existing company's newsletter",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		companyArg, _ := f.GetString("company")
		newsletterArg, _ := f.GetString("newsletter")
		path, _ := f.GetString("csv")

		companyID, err := uuid.Parse(companyArg)
		if err != nil {
			return fmt.Errorf("invalid company id %q", companyArg)
		}
		newsletterID, err := uuid.Parse(newsletterArg)
		if err != nil {
			return fmt.Errorf("invalid newsletter id %q", newsletterArg)
		}

		file, err := openCSV(path)
		if err != nil {
			return err
		}
		defer file.Close()

		svc := &service.OnboardingService{DB: sqlDB, Cache: store, Log: log}
		res, err := svc.ImportContacts(cmd.Context(), companyID, newsletterID, file)
		if err != nil {
			return err
		}
		for _, r := range res.Rejected {
			fmt.Printf("line %d skipped: %s\n", r.Line, r.Reason)
		}
		return printJSON(res)
	},
}

func init() {
	contactsCmd.Flags().String("company", "", "company id (required)")
	contactsCmd.Flags().String("newsletter", "", "newsletter id (required)")
	contactsCmd.Flags().String("csv", "", "CSV file of contacts (required)")

	_ = contactsCmd.MarkFlagRequired("company")
	_ = contactsCmd.MarkFlagRequired("newsletter")
	_ = contactsCmd.MarkFlagRequired("csv")
}
