// mailgatectl is the operator CLI. Most commands talk to a running gateway
// over its HTTP API with a bearer key; bootstrap-key goes straight to the
// database because the first admin key cannot be created over an API that
// requires one.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"mailgate/internal/config"
	"mailgate/internal/dto"
	"mailgate/internal/observability/metrics"
	impl "mailgate/internal/service/impl"
	"mailgate/internal/store"
	"mailgate/pkg/db"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	metrics.MustRegister("mailgatectl")

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "bootstrap-key":
		err = runBootstrapKey(args)
	case "create-key":
		err = runCreateKey(args)
	case "revoke-key":
		err = runRevokeKey(args)
	case "list-keys":
		err = runListKeys(args)
	case "create-domain":
		err = runCreateDomain(args)
	case "verify-domain":
		err = runVerifyDomain(args)
	case "send-test":
		err = runSendTest(args)
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [options]\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  bootstrap-key   Create the first admin key directly in the database")
	fmt.Fprintln(os.Stderr, "  create-key      Create an API key via the gateway")
	fmt.Fprintln(os.Stderr, "  revoke-key      Revoke an API key")
	fmt.Fprintln(os.Stderr, "  list-keys       List API keys")
	fmt.Fprintln(os.Stderr, "  create-domain   Register a sending domain")
	fmt.Fprintln(os.Stderr, "  verify-domain   Run one verification check for a domain")
	fmt.Fprintln(os.Stderr, "  send-test       Send a test email from a verified domain")
	os.Exit(2)
}

func runBootstrapKey(args []string) error {
	fs := flag.NewFlagSet("bootstrap-key", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	name := fs.String("name", "root", "key name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Load()
	gdb, err := db.OpenGorm(db.Config{DSN: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	ctx := context.Background()
	st := store.New(gdb)
	if err := st.AutoMigrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	audit := impl.NewAuditRecorderImpl(st, logger, 16)
	defer audit.Close()

	keys := impl.NewAPIKeyServiceImpl(st, audit, logger, impl.KeyOptions{})
	resp, err := keys.Create(ctx, nil, dto.CreateAPIKeyRequest{Name: *name, IsAdmin: true}, "")
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, "Store this key now; it is not retrievable again.")
	return printJSON(resp)
}

func runCreateKey(args []string) error {
	fs := flag.NewFlagSet("create-key", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	name := fs.String("name", "", "key name")
	admin := fs.Bool("admin", false, "create an admin key")
	domains := fs.String("domains", "", "comma-separated domain IDs the key may send from")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*name) == "" {
		return fmt.Errorf("name is required")
	}

	req := dto.CreateAPIKeyRequest{Name: *name, IsAdmin: *admin}
	if *domains != "" {
		req.DomainIDs = strings.Split(*domains, ",")
	}

	var resp dto.CreateAPIKeyResponse
	if err := callAPI(http.MethodPost, "/v1/api-keys", req, &resp); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Store this key now; it is not retrievable again.")
	return printJSON(resp)
}

func runRevokeKey(args []string) error {
	fs := flag.NewFlagSet("revoke-key", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.String("id", "", "key ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*id) == "" {
		return fmt.Errorf("key id is required")
	}
	return callAPI(http.MethodDelete, "/v1/api-keys/"+strings.TrimSpace(*id), nil, nil)
}

func runListKeys(args []string) error {
	fs := flag.NewFlagSet("list-keys", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	revoked := fs.Bool("revoked", false, "list revoked keys instead of active ones")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := "/v1/api-keys"
	if *revoked {
		path += "/revoked"
	}
	var resp dto.APIKeyListResponse
	if err := callAPI(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

func runCreateDomain(args []string) error {
	fs := flag.NewFlagSet("create-domain", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	name := fs.String("name", "", "domain name, e.g. mail.example.com")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*name) == "" {
		return fmt.Errorf("domain name is required")
	}

	var resp dto.DomainResponse
	if err := callAPI(http.MethodPost, "/v1/domains", dto.CreateDomainRequest{Name: *name}, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

func runVerifyDomain(args []string) error {
	fs := flag.NewFlagSet("verify-domain", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.String("id", "", "domain ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*id) == "" {
		return fmt.Errorf("domain id is required")
	}

	var resp dto.DomainResponse
	if err := callAPI(http.MethodPost, "/v1/domains/"+strings.TrimSpace(*id)+"/verify", nil, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

func runSendTest(args []string) error {
	fs := flag.NewFlagSet("send-test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.String("id", "", "domain ID")
	to := fs.String("to", "", "recipient address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*id) == "" || strings.TrimSpace(*to) == "" {
		return fmt.Errorf("domain id and recipient are required")
	}

	var resp dto.SendEmailResponse
	path := "/v1/domains/" + strings.TrimSpace(*id) + "/test-email"
	if err := callAPI(http.MethodPost, path, dto.TestEmailRequest{To: *to}, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

// callAPI performs one authenticated request against the gateway. out may be
// nil for status-only endpoints.
func callAPI(method, path string, in, out any) error {
	baseURL := getenv("MAILGATE_BASE_URL", "http://localhost:8080")
	apiKey := os.Getenv("MAILGATE_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("MAILGATE_API_KEY is required")
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, strings.TrimRight(baseURL, "/")+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to close response body: %v\n", cerr)
		}
	}()

	if resp.StatusCode >= 400 {
		var envelope dto.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Code != "" {
			return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
