package main

import (
	"fmt"
	"time"

	"asticker2vid/internal/cache"
	"asticker2vid/internal/config"
	"asticker2vid/internal/download"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune the delivery cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List cached files, least recently used first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("Cache is empty.")
				return nil
			}

			var total int64
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				total += e.Size
				rows = append(rows, []string{
					e.Key,
					e.FileID,
					humanize.Bytes(uint64(e.Size)),
					humanize.Time(e.LastAccess),
				})
			}
			fmt.Println(renderTable(
				[]string{"Key", "File ID", "Size", "Last access"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			))
			fmt.Printf("%d files, %s of %s\n", len(entries),
				humanize.Bytes(uint64(total)), humanize.Bytes(uint64(cfg.Cache.MaxBytes)))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Evict expired entries and enforce the size limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := store.Prune(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d files, freed %s\n", res.Removed, humanize.Bytes(uint64(res.Freed)))
			return nil
		},
	})

	return cmd
}

func openCache(cfg *config.Config) (*cache.Store, error) {
	return cache.New(cache.Config{
		Dir:      cfg.Cache.Dir,
		DBPath:   cfg.Cache.DBPath,
		MaxBytes: cfg.Cache.MaxBytes,
		MaxAge:   time.Duration(cfg.Cache.MaxAgeHours) * time.Hour,
		Fetcher:  download.New(download.Config{Logger: logger}),
		Logger:   logger,
	})
}
