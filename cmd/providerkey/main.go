package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"upscaler/internal/infra"
	"upscaler/internal/infra/credentials"
)

func main() {
	var (
		keyFlag    string
		deleteFlag bool
		noteFlag   string
	)
	flag.StringVar(&keyFlag, "key", "", "Replicate API token (fallbacks to REPLICATE_API_TOKEN)")
	flag.BoolVar(&deleteFlag, "delete", false, "remove the stored token instead of setting it")
	flag.StringVar(&noteFlag, "note", "", "free-form note stored alongside the token")
	flag.Parse()

	_ = godotenv.Load()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("REPLICATE_API_TOKEN"))
	}
	if key == "" && !deleteFlag {
		fmt.Fprintln(os.Stderr, "Replicate API token is required via -key or REPLICATE_API_TOKEN")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "providerkey").Str("provider", credentials.ProviderReplicate).Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	ctxExec, cancelExec := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelExec()

	if deleteFlag {
		if err := store.Delete(ctxExec, credentials.ProviderReplicate); err != nil {
			fmt.Fprintf(os.Stderr, "failed to delete replicate token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Replicate token deleted")
		return
	}

	props := map[string]any{"updated_by": "providerkey", "updated_at": time.Now().UTC().Format(time.RFC3339)}
	if note := strings.TrimSpace(noteFlag); note != "" {
		props["note"] = note
	}
	if err := store.SetReplicateToken(ctxExec, key, props); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist replicate token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Replicate token stored successfully")
}
