// ABOUTME: Client commands that drive a running gateway over its HTTP API
// ABOUTME: Key generation, payments and their verification, fee updates, events and token account admin

package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/crypto/ssh"

	"github.com/2389/pulsar-gateway/internal/auth"
	"github.com/2389/pulsar-gateway/internal/client"
	"github.com/2389/pulsar-gateway/internal/config"
	"github.com/2389/pulsar-gateway/internal/gateway"
	"github.com/2389/pulsar-gateway/internal/keys"
	"github.com/2389/pulsar-gateway/internal/store"
)

// gatewayURL resolves the gateway base URL.
// Priority: PULSAR_GATEWAY_URL > server.http_addr from the config file > default address
func gatewayURL() string {
	if u := os.Getenv("PULSAR_GATEWAY_URL"); u != "" {
		return u
	}
	if cfg, err := config.Load(getConfigPath()); err == nil {
		return "http://" + cfg.Server.HTTPAddr
	}
	return "http://" + config.DefaultHTTPAddr
}

// loadSigner reads the OpenSSH private key used to sign requests.
func loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no signing key at %s (run pulsar-gateway keygen)", path)
		}
		return nil, fmt.Errorf("reading key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parsing key %s: %w", path, err)
	}
	if signer.PublicKey().Type() != ssh.KeyAlgoED25519 {
		return nil, fmt.Errorf("key %s is %s, only ssh-ed25519 is supported", path, signer.PublicKey().Type())
	}
	return signer, nil
}

func signingClient() (*client.Client, error) {
	signer, err := loadSigner(getKeyPath())
	if err != nil {
		return nil, err
	}
	return client.New(gatewayURL(), client.WithSigner(signer)), nil
}

// writeKeyPair writes an OpenSSH private key to path and its public half to path.pub.
func writeKeyPair(path string, priv ed25519.PrivateKey, comment string) (keys.PublicKey, error) {
	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return keys.PublicKey{}, fmt.Errorf("encoding private key: %w", err)
	}
	sshPub, err := ssh.NewPublicKey(priv.Public())
	if err != nil {
		return keys.PublicKey{}, fmt.Errorf("encoding public key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return keys.PublicKey{}, fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return keys.PublicKey{}, fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(path+".pub", ssh.MarshalAuthorizedKey(sshPub), 0644); err != nil {
		return keys.PublicKey{}, fmt.Errorf("writing public key: %w", err)
	}
	return auth.PublicKeyFromSSH(sshPub)
}

func cmdKeygen(args []string) error {
	a, err := parseArgs(args, []string{"out"}, []string{"force"})
	if err != nil {
		return err
	}
	path := getKeyPath()
	if a.has("out") {
		path = a.values["out"]
	}
	if _, err := os.Stat(path); err == nil && !a.switches["force"] {
		return fmt.Errorf("%s already exists (use --force to replace it)", path)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generating key: %w", err)
	}
	hostname, _ := os.Hostname()
	id, err := writeKeyPair(path, priv, "pulsar@"+hostname)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Wrote %s\n", path)
	fmt.Printf("  Identity: %s\n", id)
	return nil
}

func printGateway(gw *gateway.GatewayResponse) {
	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Gateway")
	cyan.Println("  -------")
	fmt.Printf("  Address:    %s (bump %d)\n", gw.Address, gw.Bump)
	fmt.Printf("  Program:    %s\n", gw.ProgramID)
	fmt.Printf("  Authority:  %s\n", gw.Authority)
	fmt.Printf("  Fee:        %s (%d units)\n", gw.FeeDisplay, gw.Fee)
	if gw.Treasury != "" {
		fmt.Printf("  Treasury:   %s\n", gw.Treasury)
	}
	fmt.Printf("  Updated:    %s\n", gw.UpdatedAt.Local().Format("Jan 02 15:04:05"))
	fmt.Println()
}

func cmdInitialize(ctx context.Context, args []string) error {
	a, err := parseArgs(args, []string{"fee"}, nil)
	if err != nil {
		return err
	}
	fee, err := a.amount("fee")
	if err != nil {
		return err
	}
	c, err := signingClient()
	if err != nil {
		return err
	}

	gw, err := c.Initialize(ctx, fee)
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Println("✓ Gateway initialized")
	printGateway(gw)
	return nil
}

func cmdSetFee(ctx context.Context, args []string) error {
	a, err := parseArgs(args, []string{"fee"}, nil)
	if err != nil {
		return err
	}
	fee, err := a.amount("fee")
	if err != nil {
		return err
	}
	c, err := signingClient()
	if err != nil {
		return err
	}

	gw, err := c.SetFee(ctx, fee)
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("✓ Fee set to %s\n", gw.FeeDisplay)
	return nil
}

// randomNonce picks a nonce when the caller does not supply one.
func randomNonce() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

func cmdPay(ctx context.Context, args []string) error {
	a, err := parseArgs(args, []string{"source", "amount", "nonce", "to"}, nil)
	if err != nil {
		return err
	}
	if _, err := a.required("source"); err != nil {
		return err
	}
	source, err := a.key("source")
	if err != nil {
		return err
	}
	dest, err := a.key("to")
	if err != nil {
		return err
	}
	amount, err := a.amount("amount")
	if err != nil {
		return err
	}
	nonce := randomNonce()
	if a.has("nonce") {
		if nonce, err = a.uint("nonce"); err != nil {
			return err
		}
	}

	c, err := signingClient()
	if err != nil {
		return err
	}
	paid, err := c.Pay(ctx, client.PaymentParams{
		Source:      source,
		Destination: dest,
		Amount:      amount,
		Nonce:       nonce,
	})
	if err != nil {
		return err
	}

	color.New(color.FgGreen).Printf("✓ Paid %s\n", paid.AmountDisplay)
	fmt.Printf("  Event:  %s (seq %d)\n", paid.EventID, paid.Seq)
	fmt.Printf("  Nonce:  %d\n", paid.Nonce)
	fmt.Printf("  Time:   %s\n", time.Unix(paid.Timestamp, 0).Format(time.RFC3339))
	return nil
}

func cmdShow(ctx context.Context) error {
	gw, err := client.New(gatewayURL()).Gateway(ctx)
	if err != nil {
		return err
	}
	printGateway(gw)
	return nil
}

func formatEvent(ev gateway.EventResponse) string {
	switch store.EventKind(ev.Kind) {
	case store.EventPaymentProcessed:
		return fmt.Sprintf("%s paid by %s (nonce %d)", store.FormatAmount(ev.Amount), ev.Actor, ev.Nonce)
	case store.EventFeeUpdated:
		return fmt.Sprintf("fee %s -> %s", store.FormatAmount(ev.OldFee), store.FormatAmount(ev.NewFee))
	case store.EventGatewayInitialized:
		return fmt.Sprintf("authority %s, fee %s", ev.Actor, store.FormatAmount(ev.NewFee))
	default:
		return ev.ID
	}
}

func cmdEvents(ctx context.Context, args []string) error {
	a, err := parseArgs(args, []string{"kind", "actor", "after", "limit"}, []string{"follow", "replay"})
	if err != nil {
		return err
	}
	q := client.EventQuery{Kind: store.EventKind(a.values["kind"]), Replay: a.switches["replay"]}
	if q.Actor, err = a.key("actor"); err != nil {
		return err
	}
	after, err := a.uint("after")
	if err != nil {
		return err
	}
	q.After = int64(after)
	limit, err := a.uint("limit")
	if err != nil {
		return err
	}
	q.Limit = int(limit)

	c := client.New(gatewayURL())
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	printRow := func(ev gateway.EventResponse) {
		fmt.Fprintf(w, "  %d\t%s\t%s\t%s\n", ev.Seq,
			time.Unix(ev.Timestamp, 0).Format("Jan 02 15:04:05"), ev.Kind, formatEvent(ev))
	}

	fmt.Fprintln(w, "  SEQ\tTIME\tKIND\tDETAILS")
	fmt.Fprintln(w, "  ---\t----\t----\t-------")

	if a.switches["follow"] {
		w.Flush()
		err := c.StreamEvents(ctx, q, func(ev gateway.EventResponse) error {
			printRow(ev)
			return w.Flush()
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	list, err := c.Events(ctx, q)
	if err != nil {
		return err
	}
	for _, ev := range list.Events {
		printRow(ev)
	}
	w.Flush()
	if len(list.Events) == 0 {
		fmt.Println("  (no events)")
	}
	return nil
}

func printAccount(acct *gateway.AccountResponse) {
	fmt.Printf("  Address:  %s\n", acct.Address)
	fmt.Printf("  Owner:    %s\n", acct.Owner)
	fmt.Printf("  Mint:     %s\n", acct.Mint)
	fmt.Printf("  Balance:  %s\n", acct.BalanceDisplay)
	if acct.Frozen {
		color.New(color.FgYellow).Println("  Frozen")
	}
}

func cmdAccounts(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: accounts open|show|mint|freeze|thaw")
	}
	if args[0] == "show" {
		if len(args) < 2 {
			return fmt.Errorf("usage: accounts show <address>")
		}
		address, err := keys.ParsePublicKey(args[1])
		if err != nil {
			return err
		}
		acct, err := client.New(gatewayURL()).Account(ctx, address)
		if err != nil {
			return err
		}
		printAccount(acct)
		return nil
	}

	// Everything else is signed by the gateway authority.
	c, err := signingClient()
	if err != nil {
		return err
	}

	switch args[0] {
	case "open":
		a, err := parseArgs(args[1:], []string{"owner", "mint", "address"}, nil)
		if err != nil {
			return err
		}
		req := gateway.OpenAccountRequest{
			Owner:   a.values["owner"],
			Mint:    a.values["mint"],
			Address: a.values["address"],
		}
		if req.Owner == "" {
			owner, err := c.Identity()
			if err != nil {
				return err
			}
			req.Owner = owner.String()
		}
		acct, err := c.OpenAccount(ctx, req)
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Println("✓ Opened token account")
		printAccount(acct)

	case "mint":
		a, err := parseArgs(args[1:], []string{"amount"}, nil)
		if err != nil {
			return err
		}
		if len(a.positional) != 1 {
			return fmt.Errorf("usage: accounts mint <address> --amount AMOUNT")
		}
		address, err := keys.ParsePublicKey(a.positional[0])
		if err != nil {
			return err
		}
		amount, err := a.amount("amount")
		if err != nil {
			return err
		}
		acct, err := c.Mint(ctx, address, amount)
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("✓ Minted %s\n", store.FormatAmount(amount))
		printAccount(acct)

	case "freeze", "thaw":
		if len(args) < 2 {
			return fmt.Errorf("usage: accounts %s <address>", args[0])
		}
		address, err := keys.ParsePublicKey(args[1])
		if err != nil {
			return err
		}
		var acct *gateway.AccountResponse
		if args[0] == "freeze" {
			acct, err = c.Freeze(ctx, address)
		} else {
			acct, err = c.Thaw(ctx, address)
		}
		if err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("✓ Account %sd\n", args[0])
		printAccount(acct)

	default:
		return fmt.Errorf("unknown accounts command: %s", args[0])
	}
	return nil
}

func cmdQuote(ctx context.Context) error {
	q, err := client.New(gatewayURL()).Quote(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("  Amount:     %s (%d units, %d decimals)\n", q.AmountText, q.Amount, q.Decimals)
	fmt.Printf("  Gateway:    %s\n", q.Gateway)
	fmt.Printf("  Program:    %s\n", q.ProgramID)
	if q.Recipient != "" {
		fmt.Printf("  Recipient:  %s\n", q.Recipient)
	}
	if q.Mint != "" {
		fmt.Printf("  Mint:       %s\n", q.Mint)
	}
	return nil
}

func cmdVerify(ctx context.Context, args []string) error {
	a, err := parseArgs(args, []string{"event", "seq", "payer", "amount", "nonce"}, nil)
	if err != nil {
		return err
	}
	req := gateway.VerifyPaymentRequest{EventID: a.values["event"]}
	seq, err := a.uint("seq")
	if err != nil {
		return err
	}
	req.Seq = int64(seq)
	if req.EventID == "" && req.Seq == 0 {
		return fmt.Errorf("usage: verify --event ID|--seq N [--payer KEY] [--amount AMOUNT] [--nonce N]")
	}
	if a.has("payer") {
		payer, err := a.key("payer")
		if err != nil {
			return err
		}
		req.ExpectedPayer = payer.String()
	}
	if a.has("amount") {
		amount, err := a.amount("amount")
		if err != nil {
			return err
		}
		req.ExpectedAmount = &amount
	}
	if a.has("nonce") {
		nonce, err := a.uint("nonce")
		if err != nil {
			return err
		}
		req.ExpectedNonce = &nonce
	}

	resp, err := client.New(gatewayURL()).VerifyPayment(ctx, req)
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("✓ Payment verified\n")
	fmt.Printf("  Event:   %s (seq %d)\n", resp.EventID, resp.Seq)
	fmt.Printf("  Payer:   %s\n", resp.Payer)
	fmt.Printf("  Amount:  %s\n", resp.AmountDisplay)
	fmt.Printf("  Nonce:   %d\n", resp.Nonce)
	return nil
}

func cmdHealth(ctx context.Context) error {
	if err := client.New(gatewayURL()).Health(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	fmt.Println("healthy")
	return nil
}
