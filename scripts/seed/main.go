package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"wabroadcast/internal/config"
	"wabroadcast/internal/models"
	"wabroadcast/internal/repository"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// Generated contacts use +254700010NNN so they never collide with SQL seeds
const phonePattern = "+254700010%03d"

var (
	contactsCount = flag.Int("contacts", 12, "Number of contacts to create")
	campaignName  = flag.String("campaign", "Demo broadcast", "Name of the demo campaign (empty to skip)")
	clearData     = flag.Bool("clear", false, "Clear existing generated data before inserting")
	showHelp      = flag.Bool("help", false, "Show usage information")
)

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}

	// Load .env file (ignore error if not present)
	_ = godotenv.Load()

	printInfo("=== WhatsApp Broadcast Seeder ===\n")

	cfg, err := config.Load()
	if err != nil {
		fatal("Failed to load configuration", err)
	}

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		fatal("Failed to open database connection", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fatal("Failed to ping database", err)
	}
	printSuccess("✓ Connected to database\n")

	ctx := context.Background()

	if *clearData {
		if err := clearSeedData(ctx, db); err != nil {
			fatal("Failed to clear seed data", err)
		}
	}

	contacts := repository.NewContactRepository(db)
	templates := repository.NewTemplateRepository(db)
	campaigns := repository.NewCampaignRepository(db)

	ids, created, err := seedContacts(ctx, contacts, *contactsCount)
	if err != nil {
		fatal("Failed to seed contacts", err)
	}
	printSuccess(fmt.Sprintf("✓ Contacts created: %d (skipped %d existing)", created, *contactsCount-created))

	template, err := seedTemplate(ctx, templates)
	if err != nil {
		fatal("Failed to seed template", err)
	}
	printSuccess(fmt.Sprintf("✓ Template ready: %s (id %d)", template.Name, template.ID))

	if *campaignName != "" {
		campaign := &models.Campaign{
			Name:       *campaignName,
			TemplateID: template.ID,
			Status:     models.CampaignStatusDraft,
			DryRun:     true,
		}
		if err := campaigns.Create(ctx, campaign); err != nil {
			fatal("Failed to create campaign", err)
		}
		added, err := campaigns.AddContacts(ctx, campaign.ID, ids)
		if err != nil {
			fatal("Failed to add campaign contacts", err)
		}
		printSuccess(fmt.Sprintf("✓ Dry-run campaign %q created (id %d, %d contacts)", campaign.Name, campaign.ID, added))
	}

	printInfo("\nSeeding completed successfully!")
}

func clearSeedData(ctx context.Context, db *sql.DB) error {
	printWarning("Clearing generated seed data...")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM campaigns WHERE name = $1`, *campaignName); err != nil {
		return fmt.Errorf("failed to delete campaigns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM outbound_messages WHERE phone LIKE '+254700010%'`); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM contacts WHERE phone LIKE '+254700010%'`); err != nil {
		return fmt.Errorf("failed to delete contacts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	printSuccess("✓ Seed data cleared\n")
	return nil
}

// seedContacts inserts generated contacts and returns the ids of the ones
// it created. Existing phones are skipped.
func seedContacts(ctx context.Context, repo repository.ContactRepository, count int) ([]int, int, error) {
	firstNames := []string{"Michael", "Sophia", "James", "Olivia", "Daniel", "Emma", "Benjamin", "Ava", "Lucas", "Mia"}
	lastNames := []string{"Kamau", "Wanjiku", "Ochieng", "Atieno", "Mwangi", "Akinyi", "Kipchoge", "Chebet", "Mutua", "Omondi"}

	var ids []int
	for i := 1; i <= count; i++ {
		contact := &models.Contact{
			Phone: fmt.Sprintf(phonePattern, i),
			// every seventh contact has opted out
			Subscribed: i%7 != 0,
		}
		if i%10 != 1 {
			contact.FirstName = stringPtr(firstNames[i%len(firstNames)])
		}
		if i%3 != 0 {
			contact.LastName = stringPtr(lastNames[i%len(lastNames)])
		}

		err := repo.Create(ctx, contact)
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return ids, len(ids), fmt.Errorf("contact %s: %w", contact.Phone, err)
		}
		ids = append(ids, contact.ID)
	}

	return ids, len(ids), nil
}

func seedTemplate(ctx context.Context, repo repository.TemplateRepository) (*models.Template, error) {
	const name = "demo_greeting"

	template, err := repo.GetByName(ctx, name)
	if err == nil {
		return template, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	template = &models.Template{
		Name:     name,
		Category: "marketing",
		Body:     "Hi {first_name}, thanks for being with us. Reply STOP to opt out.",
	}
	if err := repo.Create(ctx, template); err != nil {
		return nil, err
	}
	return template, nil
}

func stringPtr(s string) *string {
	return &s
}

func fatal(msg string, err error) {
	printError(fmt.Sprintf("%s: %v", msg, err))
	os.Exit(1)
}

func printSuccess(msg string) {
	fmt.Printf("%s%s%s\n", colorGreen, msg, colorReset)
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colorRed, msg, colorReset)
}

func printInfo(msg string) {
	fmt.Printf("%s%s%s\n", colorCyan, msg, colorReset)
}

func printWarning(msg string) {
	fmt.Printf("%s%s%s\n", colorYellow, msg, colorReset)
}

func printUsage() {
	printInfo("=== WhatsApp Broadcast Seeder ===\n")
	fmt.Println("Usage: go run ./scripts/seed [flags]")
	fmt.Println("\nFlags:")
	flag.PrintDefaults()
	fmt.Println("\nExamples:")
	fmt.Println("  go run ./scripts/seed")
	fmt.Println("  go run ./scripts/seed -contacts=50 -campaign=\"Launch\"")
	fmt.Println("  go run ./scripts/seed -clear")
}
