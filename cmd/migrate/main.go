package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"popup-runtime/pkg/database"
)

const usage = "Usage: go run ./cmd/migrate [drop|up|seed|reset|check]"

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	command := os.Args[1]

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	switch command {
	case "drop":
		if err := database.DropSchema(ctx, conn); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		fmt.Println("✅ All tables dropped successfully")

	case "up":
		if err := database.CreateSchema(ctx, conn); err != nil {
			log.Fatalf("Failed to create tables: %v", err)
		}
		fmt.Println("✅ All tables created successfully")

	case "seed":
		if err := database.SeedDemo(ctx, conn); err != nil {
			log.Fatalf("Failed to seed data: %v", err)
		}
		fmt.Printf("✅ Seeded site %q\n", database.DemoSiteID)

	case "reset":
		if err := reset(ctx, conn); err != nil {
			log.Fatalf("Failed to reset database: %v", err)
		}
		fmt.Println("✅ Database reset and seeded")

	case "check":
		var present int
		err := conn.QueryRow(ctx,
			`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ANY($1)`,
			database.Tables).Scan(&present)
		if err != nil {
			log.Fatalf("Failed to check schema: %v", err)
		}
		if present != len(database.Tables) {
			log.Fatalf("Schema incomplete: %d of %d tables present", present, len(database.Tables))
		}
		fmt.Println("✅ Schema is up to date")

	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println(usage)
		os.Exit(1)
	}
}

// reset drops, recreates and seeds inside one transaction
func reset(ctx context.Context, conn *pgx.Conn) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, step := range []func(context.Context, database.Execer) error{
		database.DropSchema,
		database.CreateSchema,
		database.SeedDemo,
	} {
		if err := step(ctx, tx); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
