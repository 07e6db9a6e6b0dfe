package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"wabroadcast/internal/config"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// rollbacks lists the tables each schema version owns, dropped in order
var rollbacks = map[int][]string{
	1: {"contacts"},
	2: {"templates"},
	3: {"campaign_contacts", "campaigns"},
	4: {"message_status_history", "outbound_messages"},
}

var migrationPattern = regexp.MustCompile(`^(\d{3})_(.+)\.sql$`)

// Migration represents a database migration file
type Migration struct {
	Version   int
	Name      string
	FilePath  string
	AppliedAt *time.Time
}

func main() {
	dir := flag.String("dir", "migrations", "directory containing NNN_name.sql files")
	flag.Usage = printUsage
	flag.Parse()

	// Load .env file (ignore error if not present)
	_ = godotenv.Load()

	command := flag.Arg(0)
	switch command {
	case "up", "down", "status", "reset", "seed":
	case "", "help":
		printUsage()
		return
	default:
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("Failed to load configuration", err)
	}

	printInfo("Connecting to database...")
	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		fatal("Failed to open database connection", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fatal("Failed to ping database", err)
	}
	printSuccess("✓ Connected to database\n")

	if err := createMigrationTable(db); err != nil {
		fatal("Failed to create migration table", err)
	}

	switch command {
	case "up":
		err = runUp(db, *dir)
	case "down":
		err = runDown(db)
	case "status":
		err = showStatus(db, *dir)
	case "reset":
		err = runReset(db, *dir)
	case "seed":
		err = runSeeds(db, filepath.Join(*dir, "seed"))
	}
	if err != nil {
		fatal(fmt.Sprintf("%s failed", command), err)
	}

	printInfo("\nDone.")
}

func createMigrationTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

func appliedMigrations(db *sql.DB) (map[int]Migration, error) {
	rows, err := db.Query(`SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]Migration)
	for rows.Next() {
		var m Migration
		if err := rows.Scan(&m.Version, &m.Name, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[m.Version] = m
	}
	return applied, rows.Err()
}

// migrationFiles returns the NNN_name.sql files in dir sorted by version
func migrationFiles(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := migrationPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		version, _ := strconv.Atoi(m[1])
		migrations = append(migrations, Migration{
			Version:  version,
			Name:     m[2],
			FilePath: filepath.Join(dir, entry.Name()),
		})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func runUp(db *sql.DB, dir string) error {
	applied, err := appliedMigrations(db)
	if err != nil {
		return err
	}
	migrations, err := migrationFiles(dir)
	if err != nil {
		return err
	}

	count := 0
	for _, m := range migrations {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		if err := apply(db, m); err != nil {
			return fmt.Errorf("migration %03d_%s: %w", m.Version, m.Name, err)
		}
		count++
	}

	if count == 0 {
		printSuccess("✓ All migrations are up to date")
		return nil
	}
	printSuccess(fmt.Sprintf("\n✓ Applied %d migration(s)", count))
	return nil
}

// apply runs one migration file and records it in a single transaction
func apply(db *sql.DB, m Migration) error {
	printInfo(fmt.Sprintf("Applying %03d_%s...", m.Version, m.Name))

	content, err := os.ReadFile(m.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	printSuccess(fmt.Sprintf("  ✓ %03d applied", m.Version))
	return nil
}

func runDown(db *sql.DB) error {
	applied, err := appliedMigrations(db)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		printWarning("No migrations to roll back")
		return nil
	}

	last := 0
	for version := range applied {
		last = max(last, version)
	}
	return rollback(db, last)
}

func rollback(db *sql.DB, version int) error {
	tables, ok := rollbacks[version]
	if !ok {
		return fmt.Errorf("no rollback defined for migration %03d", version)
	}

	printInfo(fmt.Sprintf("Rolling back %03d...", version))

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range tables {
		if _, err := tx.Exec(`DROP TABLE IF EXISTS ` + table + ` CASCADE`); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM schema_migrations WHERE version = $1`, version); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	printSuccess(fmt.Sprintf("  ✓ %03d rolled back", version))
	return nil
}

func runReset(db *sql.DB, dir string) error {
	printWarning("Resetting database...\n")

	applied, err := appliedMigrations(db)
	if err != nil {
		return err
	}

	versions := make([]int, 0, len(applied))
	for version := range applied {
		versions = append(versions, version)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(versions)))

	for _, version := range versions {
		if err := rollback(db, version); err != nil {
			return err
		}
	}

	return runUp(db, dir)
}

func showStatus(db *sql.DB, dir string) error {
	applied, err := appliedMigrations(db)
	if err != nil {
		return err
	}
	migrations, err := migrationFiles(dir)
	if err != nil {
		return err
	}
	if len(migrations) == 0 {
		printWarning(fmt.Sprintf("No migration files found in %s", dir))
		return nil
	}

	fmt.Printf("%s%-10s %-40s %-12s %-20s%s\n", colorBold, "VERSION", "NAME", "STATUS", "APPLIED AT", colorReset)
	fmt.Println(strings.Repeat("-", 85))

	count := 0
	for _, m := range migrations {
		status, color, at := "pending", colorYellow, "-"
		if a, ok := applied[m.Version]; ok {
			status, color = "applied", colorGreen
			if a.AppliedAt != nil {
				at = a.AppliedAt.Format("2006-01-02 15:04:05")
			}
			count++
		}
		fmt.Printf("%03d        %-40s %s%-12s%s %-20s\n", m.Version, m.Name, color, status, colorReset, at)
	}

	fmt.Println(strings.Repeat("-", 85))
	printInfo(fmt.Sprintf("%d/%d migrations applied", count, len(migrations)))
	return nil
}

// runSeeds executes every seed file; seeds are idempotent and untracked
func runSeeds(db *sql.DB, dir string) error {
	seeds, err := migrationFiles(dir)
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		printWarning(fmt.Sprintf("No seed files found in %s", dir))
		return nil
	}

	for _, s := range seeds {
		content, err := os.ReadFile(s.FilePath)
		if err != nil {
			return fmt.Errorf("failed to read seed file: %w", err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("seed %03d_%s: %w", s.Version, s.Name, err)
		}
		printSuccess(fmt.Sprintf("  ✓ seed %03d_%s", s.Version, s.Name))
	}
	return nil
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
	printInfo("=== WhatsApp Broadcast Migration Runner ===\n")
	fmt.Println("Usage: go run ./scripts/migrate [-dir migrations] <command>")
	fmt.Println("\nCommands:")
	fmt.Println("  up       - Apply all pending migrations")
	fmt.Println("  down     - Roll back the last applied migration")
	fmt.Println("  status   - Show current migration status")
	fmt.Println("  reset    - Roll back all migrations and reapply them")
	fmt.Println("  seed     - Run <dir>/seed/*.sql")
	fmt.Println("  help     - Show this help message")
}
