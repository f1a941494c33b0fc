package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/gentlechase/api/internal/auth"
	"github.com/gentlechase/api/internal/db"
	"github.com/gentlechase/api/internal/store"
)

var databaseURL string

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "admin",
		Short:         "Operational commands for the GentleChase API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection string")

	root.AddCommand(migrateCmd(), seedCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			return db.Migrate(cmd.Context(), databaseURL, direction)
		},
	}
}

func seedCmd() *cobra.Command {
	var email, password, fullName string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo account with clients and invoices",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := seed(ctx, email, password, fullName); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seed completed. user=%s password=%s\n", email, password)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", envOrDefault("SEED_EMAIL", "demo@gentlechase.local"), "demo account email")
	cmd.Flags().StringVar(&password, "password", envOrDefault("SEED_PASSWORD", "Demo12345!"), "demo account password")
	cmd.Flags().StringVar(&fullName, "name", envOrDefault("SEED_NAME", "Demo Owner"), "demo account name")
	return cmd
}

type seedInvoice struct {
	number  string
	client  int
	amount  string
	dueDays int
	status  string
}

func seed(ctx context.Context, email, password, fullName string) error {
	pool, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	st := store.New(pool)

	if err := auth.CheckPasswordPolicy(password); err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return st.WithTx(ctx, func(tx *store.Store) error {
		u, err := tx.CreateUser(ctx, store.CreateUserParams{Email: email, FullName: fullName, PasswordHash: hash})
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("user %s already exists", email)
		}
		if err != nil {
			return err
		}

		if _, err := tx.UpdateBusiness(ctx, u.ID, store.BusinessParams{Name: "Demo Studio", Email: email}); err != nil {
			return fmt.Errorf("update business: %w", err)
		}
		if _, err := tx.UpdateReminderSettings(ctx, u.ID, store.ReminderPolite, "7days"); err != nil {
			return fmt.Errorf("update reminders: %w", err)
		}
		if _, err := tx.CompleteOnboarding(ctx, u.ID); err != nil {
			return fmt.Errorf("complete onboarding: %w", err)
		}

		clients := []store.ClientParams{
			{Name: "Acme Corp", Email: "billing@acme.test", Phone: "555-0100"},
			{Name: "Globex", Email: "ap@globex.test"},
			{Name: "Initech", Status: store.ClientInactive},
		}
		created := make([]store.Client, 0, len(clients))
		for _, p := range clients {
			c, err := tx.CreateClient(ctx, u.ID, p)
			if err != nil {
				return err
			}
			created = append(created, c)
		}

		today := time.Now().UTC().Truncate(24 * time.Hour)
		invoices := []seedInvoice{
			{"INV-1001", 0, "1200.00", -20, "overdue"},
			{"INV-1002", 0, "450.50", 10, "pending"},
			{"INV-1003", 1, "3000.00", -5, "paid"},
			{"INV-1004", 1, "89.99", 25, "pending"},
			{"INV-1005", 2, "640.00", -40, "paid"},
		}
		for _, si := range invoices {
			c := created[si.client]
			_, err := tx.CreateInvoice(ctx, u.ID, store.InvoiceParams{
				InvoiceNumber: si.number,
				ClientID:      &c.ID,
				ClientName:    c.Name,
				ClientEmail:   c.Email,
				ClientPhone:   c.Phone,
				Amount:        decimal.RequireFromString(si.amount),
				DueDate:       today.AddDate(0, 0, si.dueDays),
				Status:        si.status,
			})
			if err != nil {
				return fmt.Errorf("insert invoice %s: %w", si.number, err)
			}
		}
		return nil
	})
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
