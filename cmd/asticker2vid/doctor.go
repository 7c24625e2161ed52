package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"asticker2vid/internal/browser"
	"asticker2vid/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your asticker2vid installation",
		Long: `Verifies that the configuration, Chrome, ffmpeg, data directories and the
HTTP port are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("asticker2vid doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			// 2. Config loads and validates
			cfg, err := loadConfig()
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Bot token
			if err := config.ValidateServe(cfg); err != nil {
				printFail("Telegram token", err.Error())
				failed++
			} else {
				printPass("Telegram token", "set")
				passed++
			}

			// 4. Writable directories
			for _, d := range []struct{ name, path string }{
				{"Data directory", cfg.DataDir},
				{"Scratch directory", scratchDir(cfg)},
			} {
				if err := checkWritable(d.path); err != nil {
					printFail(d.name, err.Error())
					failed++
				} else {
					printPass(d.name, d.path)
					passed++
				}
			}

			// 5. Cache index
			if cfg.Cache.Enabled {
				dbPath := cfg.Cache.DBPath
				if dbPath == "" {
					dbPath = filepath.Join(cfg.Cache.Dir, "index.db")
				}
				if err := checkDatabase(dbPath); err != nil {
					printFail("Cache index", err.Error())
					failed++
				} else {
					printPass("Cache index", dbPath)
					passed++
				}
			} else {
				printWarn("Cache", "disabled, every download hits Telegram")
				warned++
			}

			// 6. Renderer binaries
			bridge := browser.NewBridge(browser.BridgeConfig{ExecPath: cfg.Render.ChromePath, Logger: logger})
			if p := bridge.Locate(); p == "" {
				printFail("Chrome", "no Chrome or Chromium binary found (set render.chromePath)")
				failed++
			} else {
				printPass("Chrome", p)
				passed++
			}
			if p, err := exec.LookPath(cfg.Render.FFmpegPath); err != nil {
				printFail("ffmpeg", fmt.Sprintf("%s not found", cfg.Render.FFmpegPath))
				failed++
			} else {
				printPass("ffmpeg", p)
				passed++
			}

			if _, err := os.Stat(cfg.Render.LottieScriptPath); err == nil {
				printPass("Lottie player", cfg.Render.LottieScriptPath)
				passed++
			} else {
				printWarn("Lottie player", "not cached yet, first render downloads "+cfg.Render.LottieScriptURL)
				warned++
			}

			// 7. HTTP port
			if err := checkPort(cfg.HTTP.Addr()); err != nil {
				printWarn("HTTP port", fmt.Sprintf("%s may be in use: %v", cfg.HTTP.Addr(), err))
				warned++
			} else {
				printPass("HTTP port", cfg.HTTP.Addr()+" available")
				passed++
			}

			// 8. Optional integrations
			if cfg.Archive.Enabled {
				printPass("Archive", fmt.Sprintf("s3://%s/%s", cfg.Archive.Bucket, cfg.Archive.Prefix))
				passed++
			}
			if cfg.ErrorReporting.DSN == "" {
				printWarn("Error reporting", "no DSN configured")
				warned++
			} else {
				printPass("Error reporting", cfg.ErrorReporting.Environment)
				passed++
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running asticker2vid.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nasticker2vid should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! asticker2vid is ready to run.\n")
			}
			return nil
		},
	}
}

func scratchDir(cfg *config.Config) string {
	if cfg.Scratch.Dir != "" {
		return cfg.Scratch.Dir
	}
	return filepath.Join(os.TempDir(), "asticker2vid")
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create: %w", err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
