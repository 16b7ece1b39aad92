// ABOUTME: Interactive config file generation for pulsar-gateway
// ABOUTME: Prompts for server, database, program and event settings and writes YAML

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/pulsar-gateway/internal/config"
	"github.com/2389/pulsar-gateway/internal/keys"
)

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("pulsar-gateway configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	defaultDbPath := filepath.Join(getDataPath(), "gateway.db")

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", config.DefaultHTTPAddr)

	fmt.Println("\n--- Database Configuration ---")
	driver := prompt(reader, "Driver (sqlite/postgres)", config.DriverSQLite)
	var dbPath, dsn string
	switch driver {
	case config.DriverSQLite:
		dbPath = prompt(reader, "SQLite database path", defaultDbPath)
	case config.DriverPostgres:
		dsn = prompt(reader, "PostgreSQL DSN", "postgres://pulsar@localhost:5432/pulsar?sslmode=disable")
	default:
		return fmt.Errorf("unknown driver %q", driver)
	}

	fmt.Println("\n--- Program Configuration ---")
	programID := prompt(reader, "Program ID (hex, empty for default)", "")
	mint := prompt(reader, "Payment mint (hex)", keys.FromSeed("usdc").String())
	treasury := prompt(reader, "Treasury account (hex, empty to derive from mint)", "")
	adminAPI := isYes(prompt(reader, "Enable token account admin API?", "no"))
	for _, v := range []string{programID, mint, treasury} {
		if v == "" {
			continue
		}
		if _, err := keys.ParsePublicKey(v); err != nil {
			return fmt.Errorf("invalid key %q: %w", v, err)
		}
	}

	fmt.Println("\n--- Events Configuration ---")
	redisAddr := prompt(reader, "Redis address (empty to disable)", "")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# pulsar-gateway configuration\n")
	cfg.WriteString("# Generated by pulsar-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", httpAddr)

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  driver: %q\n", driver)
	if dbPath != "" {
		fmt.Fprintf(&cfg, "  path: %q\n", dbPath)
	}
	if dsn != "" {
		fmt.Fprintf(&cfg, "  dsn: %q\n", dsn)
	}
	cfg.WriteString("\n")

	cfg.WriteString("program:\n")
	if programID != "" {
		fmt.Fprintf(&cfg, "  id: %q\n", programID)
	}
	fmt.Fprintf(&cfg, "  mint: %q\n", mint)
	if treasury != "" {
		fmt.Fprintf(&cfg, "  treasury: %q\n", treasury)
	}
	fmt.Fprintf(&cfg, "  admin_api: %t\n\n", adminAPI)

	cfg.WriteString("auth:\n")
	fmt.Fprintf(&cfg, "  max_age: %q\n\n", config.DefaultMaxAge.String())

	if redisAddr != "" {
		cfg.WriteString("events:\n")
		fmt.Fprintf(&cfg, "  redis_addr: %q\n", redisAddr)
		fmt.Fprintf(&cfg, "  redis_stream: %q\n\n", config.DefaultRedisStream)
	}

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", logFormat)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nNext steps:")
	fmt.Println("  pulsar-gateway keygen")
	fmt.Println("  pulsar-gateway serve")
	fmt.Println("  pulsar-gateway initialize --fee 0.1")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
