// ABOUTME: Entry point for pulsar-gateway, the payment gateway server and its CLI
// ABOUTME: Dispatches serve/init/keygen and the client commands that talk to a running gateway

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/pulsar-gateway/internal/config"
	"github.com/2389/pulsar-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
             _                                _
 _ __  _   _| |___  __ _ _ __       __ _  __ _| |_ _____      ____ _ _   _
| '_ \| | | | / __|/ _' | '__|____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| |_) | |_| | \__ \ (_| | | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
| .__/ \__,_|_|___/\__,_|_|        \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
|_|                                |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: PULSAR_CONFIG env var > XDG_CONFIG_HOME/pulsar/gateway.yaml > ~/.config/pulsar/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PULSAR_CONFIG"); envPath != "" {
		return envPath
	}
	return filepath.Join(configDir(), "gateway.yaml")
}

func configDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		dir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(dir, "pulsar")
}

// getDataPath returns the path to the pulsar data directory.
// Priority: XDG_DATA_HOME/pulsar > ~/.local/share/pulsar
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "pulsar")
}

// getKeyPath returns the signing key used by client commands.
// Priority: PULSAR_KEY env var > <config dir>/id_ed25519
func getKeyPath() string {
	if envPath := os.Getenv("PULSAR_KEY"); envPath != "" {
		return envPath
	}
	return filepath.Join(configDir(), "id_ed25519")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "keygen":
		err = cmdKeygen(args)
	case "initialize":
		err = cmdInitialize(ctx, args)
	case "pay":
		err = cmdPay(ctx, args)
	case "set-fee":
		err = cmdSetFee(ctx, args)
	case "show":
		err = cmdShow(ctx)
	case "quote":
		err = cmdQuote(ctx)
	case "verify":
		err = cmdVerify(ctx, args)
	case "events":
		err = cmdEvents(ctx, args)
	case "accounts":
		err = cmdAccounts(ctx, args)
	case "health":
		err = cmdHealth(ctx)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: pulsar-gateway <command> [args]")
	fmt.Println()
	yellow.Println("Server:")
	fmt.Println("  serve                          Start the gateway server")
	fmt.Println("  init                           Create a new config file interactively")
	fmt.Println()
	yellow.Println("Client:")
	fmt.Println("  keygen [--out PATH]            Create an ed25519 signing key")
	fmt.Println("  initialize --fee AMOUNT        Create the gateway with your key as authority")
	fmt.Println("  pay --source ADDR --amount AMOUNT [--nonce N] [--to ADDR]")
	fmt.Println("                                 Pay the gateway from a token account you own")
	fmt.Println("  set-fee --fee AMOUNT           Change the fee (authority only)")
	fmt.Println("  show                           Show the gateway record")
	fmt.Println("  quote                          Show what a payment costs and where it goes")
	fmt.Println("  verify --event ID|--seq N [--payer KEY] [--amount AMOUNT] [--nonce N]")
	fmt.Println("                                 Redeem a processed payment once")
	fmt.Println("  events [--kind K] [--after N] [--follow [--replay]]")
	fmt.Println("                                 List or follow gateway events")
	fmt.Println("  accounts open [--owner KEY|gateway] [--mint ADDR]")
	fmt.Println("  accounts show ADDR")
	fmt.Println("  accounts mint ADDR --amount AMOUNT")
	fmt.Println("  accounts freeze|thaw ADDR")
	fmt.Println("                                 Manage token accounts (admin API, authority key)")
	fmt.Println("  health                         Check gateway health")
	fmt.Println()
	yellow.Println("Amounts are decimal, e.g. 0.1 is 100000 base units.")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  PULSAR_CONFIG        Config file (default: ~/.config/pulsar/gateway.yaml)")
	fmt.Println("  PULSAR_KEY           Signing key (default: ~/.config/pulsar/id_ed25519)")
	fmt.Println("  PULSAR_GATEWAY_URL   Gateway URL (default: derived from server.http_addr)")
	fmt.Println("  PULSAR_DB_PATH       Overrides database.path")
	fmt.Println()
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s", cfg.Database.Driver)
	if cfg.Database.Driver == config.DriverSQLite {
		gray.Printf(" (%s)", cfg.Database.Path)
	}
	fmt.Println()
	if cfg.Events.RedisAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("Events:    redis://%s ", cfg.Events.RedisAddr)
		cyan.Print(cfg.Events.RedisStream)
		fmt.Println()
	}
	if cfg.Program.AdminAPI {
		yellow.Println("    ! admin API enabled")
	}
	fmt.Println()

	logger.Info("starting pulsar-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"driver", cfg.Database.Driver,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}
