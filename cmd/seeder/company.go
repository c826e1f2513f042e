package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/unclebandit/newsletter-backend/internal/csvimport"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/service"
)

var companyCmd = &cobra.Command{
	Use:   "company",
	Short: "Create a company with its draft newsletter and contact list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		name, _ := f.GetString("name")
		industry, _ := f.GetString("industry")
		contactEmail, _ := f.GetString("email")
		website, _ := f.GetString("website")
		phone, _ := f.GetString("phone")
		audience, _ := f.GetString("audience")
		audienceDesc, _ := f.GetString("audience-description")
		objectives, _ := f.GetString("objectives")
		cta, _ := f.GetString("cta")
		contactsPath, _ := f.GetString("contacts")

		in := service.OnboardInput{
			Company: model.Company{
				CompanyName:         name,
				Industry:            industry,
				ContactEmail:        contactEmail,
				WebsiteURL:          website,
				PhoneNumber:         phone,
				TargetAudience:      audience,
				AudienceDescription: audienceDesc,
			},
			Objectives: objectives,
			CTA:        cta,
		}
		if contactsPath != "" {
			file, err := openCSV(contactsPath)
			if err != nil {
				return err
			}
			defer file.Close()
			in.Contacts = file
		}

		svc := &service.OnboardingService{DB: sqlDB, Cache: store, Log: log}
		res, err := svc.Onboard(cmd.Context(), in)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

func init() {
	companyCmd.Flags().String("name", "", "company name (required)")
	companyCmd.Flags().String("industry", "", "industry (required)")
	companyCmd.Flags().String("email", "", "company contact email (required)")
	companyCmd.Flags().String("website", "", "website URL")
	companyCmd.Flags().String("phone", "", "phone number")
	companyCmd.Flags().String("audience", "", "target audience")
	companyCmd.Flags().String("audience-description", "", "audience description")
	companyCmd.Flags().String("objectives", "", "newsletter objectives")
	companyCmd.Flags().String("cta", "", "primary call to action")
	companyCmd.Flags().String("contacts", "", "CSV file of contacts")

	_ = companyCmd.MarkFlagRequired("name")
	_ = companyCmd.MarkFlagRequired("industry")
	_ = companyCmd.MarkFlagRequired("email")
}

// openCSV opens a contacts file, refusing anything over the import size limit.
func openCSV(path string) (io.ReadCloser, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("contacts file: %w", err)
	}
	if info.Size() > csvimport.MaxFileSize {
		return nil, fmt.Errorf("contacts file %s is larger than %d bytes", path, csvimport.MaxFileSize)
	}
	return os.Open(path)
}
