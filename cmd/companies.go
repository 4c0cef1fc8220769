package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-ingest/internal/db"
	"github.com/sells-group/portfolio-ingest/internal/model"
	"github.com/sells-group/portfolio-ingest/internal/resolve"
	"github.com/sells-group/portfolio-ingest/internal/store"
)

var (
	companiesCSVPath string
	companiesReplace bool
)

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "Manage the canonical company directory",
}

var companiesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import companies from CSV into the directory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		companies, err := readCompaniesCSV(companiesCSVPath)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if companiesReplace {
			pg, ok := st.(*store.PostgresStore)
			if !ok {
				return eris.New("companies: --replace requires the postgres driver")
			}
			n, err := replaceCompanies(cmd, pg, companies)
			if err != nil {
				return err
			}
			zap.L().Info("directory replaced",
				zap.Int64("loaded", n),
				zap.String("csv", companiesCSVPath),
			)
			return nil
		}

		n, err := st.UpsertCompanies(ctx, companies)
		if err != nil {
			return err
		}
		zap.L().Info("import complete",
			zap.Int64("upserted", n),
			zap.String("csv", companiesCSVPath),
		)
		return nil
	},
}

var companiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the company directory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		companies, err := st.Companies(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLEGAL NAME\tAKA\tWEBSITE\tSTATUS")
		for _, c := range companies {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.LegalName, c.AKA, c.Website, c.Status)
		}
		return w.Flush()
	},
}

func init() {
	companiesImportCmd.Flags().StringVar(&companiesCSVPath, "csv", "", "path to CSV file (required)")
	_ = companiesImportCmd.MarkFlagRequired("csv")
	companiesImportCmd.Flags().BoolVar(&companiesReplace, "replace", false, "truncate and reload instead of upserting (postgres only)")
	companiesCmd.AddCommand(companiesImportCmd)
	companiesCmd.AddCommand(companiesListCmd)
	rootCmd.AddCommand(companiesCmd)
}

// companyRow is the directory CSV schema. ID is optional; a missing id
// is slugged from the legal name.
type companyRow struct {
	ID        string `csv:"id,omitempty"`
	LegalName string `csv:"legal_name"`
	AKA       string `csv:"aka,omitempty"`
	Website   string `csv:"website,omitempty"`
	Status    string `csv:"status,omitempty"`
}

func readCompaniesCSV(path string) ([]model.Company, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "companies: read %s", path)
	}

	var rows []companyRow
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, eris.Wrapf(err, "companies: parse %s", path)
	}

	companies := make([]model.Company, 0, len(rows))
	for i, row := range rows {
		if row.LegalName == "" {
			return nil, eris.Errorf("companies: row %d has no legal_name", i+2)
		}
		id := row.ID
		if id == "" {
			id = resolve.Slug(row.LegalName)
		}
		status := row.Status
		if status == "" {
			status = "active"
		}
		companies = append(companies, model.Company{
			ID:        id,
			LegalName: row.LegalName,
			AKA:       row.AKA,
			Website:   row.Website,
			Status:    status,
		})
	}
	return companies, nil
}

// replaceCompanies truncates the directory and bulk-loads it with COPY.
// Used for the initial load from the master tracking sheet export.
func replaceCompanies(cmd *cobra.Command, pg *store.PostgresStore, companies []model.Company) (int64, error) {
	ctx := cmd.Context()
	pool := pg.Pool()

	if _, err := pool.Exec(ctx, "TRUNCATE companies CASCADE"); err != nil {
		return 0, eris.Wrap(err, "companies: truncate")
	}

	rows := make([][]any, 0, len(companies))
	for _, c := range companies {
		rows = append(rows, []any{c.ID, c.LegalName, c.AKA, c.Website, c.Status})
	}
	return db.CopyFrom(ctx, pool, "companies",
		[]string{"id", "legal_name", "aka", "website", "status"}, rows)
}
