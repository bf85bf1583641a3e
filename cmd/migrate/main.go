package main

import (
	"bufio"
	"database/sql"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"agentdesk/internal/config"
	"agentdesk/internal/db"
	"agentdesk/internal/logging"
)

const downMarker = "-- +migrate Down"

func main() {
	dir := flag.String("dir", "migrations", "directory holding NNNN_name.sql files")
	down := flag.Bool("down", false, "roll back the most recently applied migration")
	flag.Parse()

	cfg := config.Load()
	logger := logging.Setup(cfg.AppEnv, cfg.LogLevel)
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		fatal(logger, "failed to connect database", err)
	}
	defer database.Close()

	if _, err := database.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (filename text primary key, applied_at timestamptz default now())`); err != nil {
		fatal(logger, "failed to ensure schema_migrations", err)
	}

	if *down {
		var filename string
		if err := database.Get(&filename, `SELECT filename FROM schema_migrations ORDER BY filename DESC LIMIT 1`); err != nil {
			if err == sql.ErrNoRows {
				logger.Info("nothing to roll back")
				return
			}
			fatal(logger, "failed to read migration state", err)
		}
		if err := applyFile(database, filepath.Join(*dir, filename), false); err != nil {
			fatal(logger, "failed to roll back "+filename, err)
		}
		if _, err := database.Exec(`DELETE FROM schema_migrations WHERE filename = $1`, filename); err != nil {
			fatal(logger, "failed to record rollback of "+filename, err)
		}
		logger.Info("rolled back", "migration", filename)
		return
	}

	files, err := filepath.Glob(filepath.Join(*dir, "*.sql"))
	if err != nil {
		fatal(logger, "failed to read migrations", err)
	}
	sort.Strings(files)

	applied := 0
	for _, file := range files {
		filename := filepath.Base(file)
		var exists bool
		if err := database.Get(&exists, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, filename); err != nil {
			fatal(logger, "failed to read migration state", err)
		}
		if exists {
			continue
		}
		if err := applyFile(database, file, true); err != nil {
			fatal(logger, "failed to apply "+filename, err)
		}
		if _, err := database.Exec(`INSERT INTO schema_migrations (filename) VALUES ($1)`, filename); err != nil {
			fatal(logger, "failed to record migration "+filename, err)
		}
		logger.Info("applied", "migration", filename)
		applied++
	}
	logger.Info("migrations complete", "applied", applied)
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

// applyFile runs the Up section of a migration, or its Down section when up
// is false.
func applyFile(db execer, path string, up bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	upSection, downSection, _ := strings.Cut(string(content), downMarker)
	section := upSection
	if !up {
		section = downSection
	}
	for _, stmt := range splitSQL(section) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// splitSQL breaks a section into statements at lines containing ';'.
// Comment lines are dropped.
func splitSQL(sqlText string) []string {
	var statements []string
	var current strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(sqlText))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		current.WriteString(line)
		current.WriteRune('\n')
		if strings.Contains(line, ";") {
			statements = append(statements, current.String())
			current.Reset()
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		statements = append(statements, current.String())
	}
	return statements
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}
