package main

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jikku/portfolio/internal/auth"
	"github.com/jikku/portfolio/internal/clientjs"
	"github.com/jikku/portfolio/internal/config"
	"github.com/jikku/portfolio/internal/database"
	"github.com/jikku/portfolio/internal/hosting"
	"github.com/jikku/portfolio/internal/spa"
)

// TokenEnv holds the deploy token when --token is not given
const TokenEnv = "PORTFOLIO_TOKEN"

// setCredentialsCommand stores the admin username and a bcrypt hash of
// password, creating the config file if needed
func setCredentialsCommand(username, password, configPath string) error {
	if username == "" || password == "" {
		return errors.New("both username and password are required")
	}
	if len(password) < auth.MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", auth.MinPasswordLength)
	}

	strong, warnings := auth.ValidatePasswordStrength(password)
	for _, w := range warnings {
		fmt.Printf("  ! %s\n", w)
	}
	if !strong {
		fmt.Println("Password strength: weak (accepted)")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	cfg, err := config.LoadFromFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Printf("Creating config at %s\n", configPath)
		cfg = config.CreateDefaultConfig()
	} else if err != nil {
		return err
	}

	cfg.Auth.Username = username
	cfg.Auth.PasswordHash = hash
	if err := config.SaveToFile(cfg, configPath); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("✓ Admin credentials saved")
	fmt.Printf("  Config file: %s\n", configPath)
	fmt.Printf("  Username:    %s\n", username)
	fmt.Println("  Password:    [hashed]")
	return nil
}

// runDeploy zips a directory and uploads it to a running server
func runDeploy(args []string) error {
	set := flag.NewFlagSet("deploy", flag.ContinueOnError)
	serverURL := set.String("server", "http://localhost:4698", "Server URL")
	token := set.String("token", "", "API token (default $"+TokenEnv+" or ~/.portfolio-token)")
	site := set.String("site", "", "Site name (default: the server's site)")
	set.Usage = func() {
		fmt.Println("Usage: portfolio deploy <dir> [options]")
		fmt.Println()
		set.PrintDefaults()
	}
	rest, err := parseArgs(set, args)
	if err != nil {
		return err
	}

	dir := "."
	if len(rest) > 0 {
		dir = rest[0]
	}

	if *token == "" {
		*token = readToken()
	}
	if *token == "" {
		return fmt.Errorf("API token required: use --token, $%s or ~/.portfolio-token", TokenEnv)
	}

	archive, count, err := createDeployZip(dir)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	fmt.Printf("Zipped %d files (%d bytes)\n", count, archive.Len())

	result, err := upload(context.Background(), *serverURL, *token, *site, archive)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("✓ Deployment successful")
	fmt.Printf("  Site:  %s\n", result.Site)
	fmt.Printf("  Files: %d (skipped %d)\n", result.FileCount, result.Skipped)
	fmt.Printf("  Size:  %d bytes\n", result.SizeBytes)
	return nil
}

func readToken() string {
	if t := os.Getenv(TokenEnv); t != "" {
		return t
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(home, ".portfolio-token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

type deployResult struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Site      string `json:"site"`
	FileCount int    `json:"file_count"`
	Skipped   int    `json:"skipped"`
	SizeBytes int64  `json:"size_bytes"`
}

// upload posts archive to the server's deploy endpoint
func upload(ctx context.Context, serverURL, token, site string, archive io.Reader) (*deployResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if site != "" {
		if err := writer.WriteField("site_name", site); err != nil {
			return nil, err
		}
	}
	part, err := writer.CreateFormFile("file", "site.zip")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, archive); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(serverURL, "/")+"/api/deploy", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var result deployResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	if !result.Success {
		return nil, fmt.Errorf("deployment failed (status %d): %s", resp.StatusCode, result.Error)
	}
	return &result, nil
}

// createDeployZip archives every non-hidden file under dir
func createDeployZip(dir string) (*bytes.Buffer, int, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	count := 0

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(w, f); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if err := zw.Close(); err != nil {
		return nil, 0, err
	}
	return buf, count, nil
}

// parseArgs parses flags given before or after the positional arguments
func parseArgs(set *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := set.Parse(args); err != nil {
			return nil, err
		}
		args = set.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

// slashFlag registers the trailing slash policy shared by export and verify
func slashFlag(set *flag.FlagSet) *string {
	return set.String("slash", string(spa.SlashDirectoryIndex), "Trailing slash policy: directory-index or as-is")
}

// runExport prepares a static export for hosts without a server component
func runExport(args []string) error {
	set := flag.NewFlagSet("export", flag.ContinueOnError)
	slash := slashFlag(set)
	out := set.String("out", "", "Write to a copy of the export in this directory")
	set.Usage = func() {
		fmt.Println("Usage: portfolio export <dir> [options]")
		fmt.Println()
		fmt.Println("Injects the redirect script into <dir>/index.html and <dir>/404.html.")
		fmt.Println("A 404.html is created when the export has none.")
		fmt.Println()
		set.PrintDefaults()
	}
	rest, err := parseArgs(set, args)
	if err != nil {
		return err
	}
	if len(rest) < 1 {
		set.Usage()
		return errors.New("export directory required")
	}

	policy, err := spa.ParseSlashPolicy(*slash)
	if err != nil {
		return err
	}
	dir := rest[0]
	if *out != "" {
		if err := copyTree(dir, *out); err != nil {
			return fmt.Errorf("failed to copy export: %w", err)
		}
		dir = *out
	}
	return exportCommand(dir, clientjs.Options{SlashPolicy: policy})
}

// copyTree copies every file under src into dst, which must not lie inside src
func copyTree(src, dst string) error {
	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(srcAbs, dstAbs)
	if err != nil {
		return err
	}
	if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output %s is inside %s", dst, src)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0644)
	})
}

// exportCommand injects the browser handlers into an export directory
func exportCommand(dir string, opts clientjs.Options) error {
	indexPath := filepath.Join(dir, hosting.IndexFile)
	index, err := os.ReadFile(indexPath)
	if err != nil {
		return fmt.Errorf("export has no root document: %w", err)
	}

	notFoundPath := filepath.Join(dir, hosting.NotFoundFile)
	notFound, err := os.ReadFile(notFoundPath)
	if errors.Is(err, os.ErrNotExist) {
		notFound, err = fs.ReadFile(hosting.DefaultSite(), hosting.NotFoundFile)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", hosting.NotFoundFile, err)
	}

	for _, doc := range []struct {
		path string
		html []byte
		role clientjs.Role
	}{
		{indexPath, index, clientjs.RoleRoot},
		{notFoundPath, notFound, clientjs.RoleNotFound},
	} {
		out, err := clientjs.Inject(doc.html, doc.role, opts)
		if err != nil {
			return fmt.Errorf("%s: %w", doc.path, err)
		}
		if err := os.WriteFile(doc.path, out, 0644); err != nil {
			return err
		}
		fmt.Printf("✓ %s (%s)\n", doc.path, doc.role)
	}
	return nil
}

// runVerify checks the browser script against the Go protocol
func runVerify(args []string) error {
	set := flag.NewFlagSet("verify", flag.ContinueOnError)
	slash := slashFlag(set)
	if _, err := parseArgs(set, args); err != nil {
		return err
	}
	policy, err := spa.ParseSlashPolicy(*slash)
	if err != nil {
		return err
	}
	return verifyCommand(context.Background(), os.Stdout, clientjs.Options{SlashPolicy: policy})
}

func verifyCommand(ctx context.Context, out io.Writer, opts clientjs.Options) error {
	runner, err := clientjs.NewRunner(opts, 0)
	if err != nil {
		return err
	}
	protocol := spa.New(spa.WithSlashPolicy(opts.SlashPolicy))

	mismatches, err := clientjs.Verify(ctx, runner, protocol)
	if err != nil {
		return err
	}
	for _, m := range mismatches {
		fmt.Fprintf(out, "✗ %s\n", m)
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("%d of %d scenarios disagree", len(mismatches), len(clientjs.Scenarios()))
	}
	fmt.Fprintf(out, "✓ %d scenarios agree\n", len(clientjs.Scenarios()))
	return nil
}

// runAPIKey manages deploy keys directly in the database
func runAPIKey(args []string) error {
	set := flag.NewFlagSet("apikey", flag.ContinueOnError)
	configPath := set.String("config", config.DefaultConfigPath, "Path to config file")
	dbPath := set.String("db", "", "Database file path (overrides config)")
	set.Usage = func() {
		fmt.Println("Usage: portfolio apikey create <name> | list | delete <id> [options]")
		fmt.Println()
		set.PrintDefaults()
	}
	rest, err := parseArgs(set, args)
	if err != nil {
		return err
	}
	if len(rest) < 1 {
		set.Usage()
		return errors.New("apikey command required")
	}

	cfg, err := config.Load(&config.CLIFlags{ConfigPath: *configPath, DBPath: *dbPath})
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	return apiKeyCommand(context.Background(), os.Stdout, db, rest)
}

func apiKeyCommand(ctx context.Context, out io.Writer, db *sql.DB, args []string) error {
	switch args[0] {
	case "create":
		if len(args) < 2 {
			return errors.New("usage: apikey create <name>")
		}
		token, err := hosting.CreateAPIKey(ctx, db, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ Created key %q\n", args[1])
		fmt.Fprintf(out, "  Token: %s\n", token)
		fmt.Fprintln(out, "  Save it now. It will not be shown again.")
		return nil

	case "list":
		keys, err := hosting.ListAPIKeys(ctx, db)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tCREATED\tLAST USED")
		for _, k := range keys {
			lastUsed := "never"
			if k.LastUsedAt != nil {
				lastUsed = k.LastUsedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", k.ID, k.Name, k.CreatedAt.Format(time.RFC3339), lastUsed)
		}
		return tw.Flush()

	case "delete":
		if len(args) < 2 {
			return errors.New("usage: apikey delete <id>")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid key id %q", args[1])
		}
		if err := hosting.DeleteAPIKey(ctx, db, id); err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ Deleted key %d\n", id)
		return nil
	}
	return fmt.Errorf("unknown apikey command %q", args[0])
}
