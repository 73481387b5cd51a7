package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"upscaler/internal/adapter/repo"
	"upscaler/internal/history"
	"upscaler/internal/infra"
	"upscaler/internal/storage"
)

func main() {
	var (
		userFlag   string
		listFlag   bool
		deleteFlag string
		limitFlag  int
	)

	flag.StringVar(&userFlag, "user", "", "user ID (Supabase subject) to operate on")
	flag.BoolVar(&listFlag, "list", false, "list the user's upscale history")
	flag.StringVar(&deleteFlag, "delete", "", "job ID to delete for the user")
	flag.IntVar(&limitFlag, "limit", 20, "max rows to list")
	flag.Parse()

	_ = godotenv.Load()

	userID := strings.TrimSpace(userFlag)
	jobID := strings.TrimSpace(deleteFlag)
	if userID == "" {
		exitWithError(errors.New("-user is required"))
	}
	if !listFlag && jobID == "" {
		exitWithError(errors.New("one of -list or -delete must be provided"))
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	if !cfg.HistoryEnabled() {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "jobctl").Logger()
	blobs, _, err := storage.Open(ctx, cfg)
	if err != nil {
		exitWithError(fmt.Errorf("failed to configure storage: %w", err))
	}
	svc := history.NewService(history.Options{
		Repo:   repo.NewJobRepository(infra.NewSQLRunner(pool, logger)),
		Blobs:  blobs,
		Logger: logger,
	})

	if jobID != "" {
		if err := svc.Delete(ctx, userID, jobID); err != nil {
			exitWithError(fmt.Errorf("failed to delete job %s: %w", jobID, err))
		}
		fmt.Printf("Job %s deleted for user %s\n", jobID, userID)
	}

	if listFlag {
		page, err := svc.List(ctx, userID, limitFlag)
		if err != nil {
			exitWithError(fmt.Errorf("failed to list jobs: %w", err))
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tOPTIONS\tMIRROR\tCREATED\tURL")
		for _, item := range page.Items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", item.ID, item.Label, item.MirrorStatus, humanize.Time(item.CreatedAt), item.ResultURL)
		}
		_ = tw.Flush()
		fmt.Printf("total=%d this_month=%d plan=%s\n", page.Stats.Total, page.Stats.ThisMonth, page.Stats.Plan)
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
