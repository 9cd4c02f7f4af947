// Command rfm-server shares a directory over the rfm protocol.
//
// Usage:
//
//	rfm-server [-config rfm-server.yaml] [-root dir] [-host addr] [-port n]
//	rfm-server hash-password
//	rfm-server adduser [-config file] [-database-url url] <username>
//	rfm-server deluser [-config file] [-database-url url] <username>
//
// hash-password prints a bcrypt hash for the users list of the config file.
// adduser and deluser manage accounts in the PostgreSQL credential store.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/opd-ai/rfm/auth"
	"github.com/opd-ai/rfm/config"
	"github.com/opd-ai/rfm/crypto"
	"github.com/opd-ai/rfm/logging"
	"github.com/opd-ai/rfm/server"
	"github.com/opd-ai/rfm/stats"
)

const defaultConfigFile = "rfm-server.yaml"

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "rfm-server:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	if len(args) > 0 {
		switch args[0] {
		case "hash-password":
			return hashPassword(in, out)
		case "adduser":
			return manageUser(ctx, args[1:], in, out, true)
		case "deluser":
			return manageUser(ctx, args[1:], in, out, false)
		}
	}
	return serve(ctx, args)
}

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rfm-server", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigFile, "configuration file")
	root := fs.String("root", "", "directory to share")
	host := fs.String("host", "", "listen address")
	port := fs.Int("port", 0, "listen port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		return err
	}
	if *root != "" {
		cfg.Root = *root
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return fmt.Errorf("create root: %w", err)
	}

	authority, closeAuth, err := buildAuthority(ctx, cfg.Auth)
	if err != nil {
		return err
	}
	defer closeAuth()

	var keys *crypto.KeyPair
	if cfg.Secure.Enabled {
		if keys, err = crypto.LoadOrCreateKeyFile(cfg.Secure.KeyFile); err != nil {
			return err
		}
		defer crypto.WipeKeyPair(keys)
		logrus.WithFields(logrus.Fields{
			"function":    "serve",
			"fingerprint": crypto.Fingerprint(keys.Public),
			"key_file":    cfg.Secure.KeyFile,
		}).Info("Secure channel enabled")
	}

	collector := stats.NewCollector()
	if cfg.MetricsAddr != "" {
		metrics := collector.NewServer(cfg.MetricsAddr)
		go func() {
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.WithError(err).WithField("function", "serve").Error("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metrics.Shutdown(shutdownCtx)
		}()
	}

	srv, err := server.New(serverConfig(cfg, authority, collector, keys))
	if err != nil {
		return err
	}
	if err := srv.Listen(cfg.Addr()); err != nil {
		return err
	}
	return srv.Serve(ctx)
}

func serverConfig(cfg *config.ServerConfig, authority auth.Authority, collector *stats.Collector, keys *crypto.KeyPair) server.Config {
	return server.Config{
		Root:           cfg.Root,
		Authority:      authority,
		Stats:          collector,
		Keys:           keys,
		MaxConnections: cfg.MaxConnections,
		IdleTimeout:    cfg.IdleTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		CompressLevel:  cfg.CompressLevel,
	}
}

// buildAuthority returns nil when authentication is disabled. Accounts come
// from PostgreSQL when a database URL is configured, otherwise from the
// users list.
func buildAuthority(ctx context.Context, cfg config.AuthConfig) (auth.Authority, func(), error) {
	noop := func() {}
	if !cfg.Enabled {
		logrus.WithField("function", "buildAuthority").Warn("Authentication disabled")
		return nil, noop, nil
	}

	issuer, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, noop, err
	}

	if cfg.DatabaseURL != "" {
		store, err := auth.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		return auth.NewService(store, issuer), func() { store.Close() }, nil
	}

	store := auth.NewMemoryStore()
	for _, u := range cfg.Users {
		if err := store.AddHash(u.Username, u.PasswordHash); err != nil {
			return nil, noop, err
		}
	}
	if len(cfg.Users) == 0 {
		logrus.WithField("function", "buildAuthority").Warn("Authentication enabled without users; every login will fail")
	}
	return auth.NewService(store, issuer), noop, nil
}

func hashPassword(in io.Reader, out io.Writer) error {
	pass, err := readPassword(in, out, "Password: ")
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(pass)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hash)
	return nil
}

func manageUser(ctx context.Context, args []string, in io.Reader, out io.Writer, add bool) error {
	name := "deluser"
	if add {
		name = "adduser"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigFile, "configuration file")
	databaseURL := fs.String("database-url", "", "PostgreSQL connection URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: rfm-server %s [flags] <username>", errUsage, name)
	}
	user := fs.Arg(0)

	url := *databaseURL
	if url == "" {
		cfg, err := config.LoadServer(*configPath)
		if err != nil {
			return err
		}
		url = cfg.Auth.DatabaseURL
	}
	if url == "" {
		return errors.New("no database_url configured; add static users with hash-password instead")
	}

	store, err := auth.OpenPostgres(ctx, url)
	if err != nil {
		return err
	}
	defer store.Close()

	if !add {
		if err := store.DeleteUser(ctx, user); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted user %s\n", user)
		return nil
	}

	pass, err := readPassword(in, out, "Password: ")
	if err != nil {
		return err
	}
	if err := store.CreateUser(ctx, user, pass); err != nil {
		return err
	}
	fmt.Fprintf(out, "Created user %s\n", user)
	return nil
}

// readPassword reads without echo from a terminal and a plain line
// otherwise.
func readPassword(in io.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		return string(raw), err
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	pass := strings.TrimRight(line, "\r\n")
	if pass == "" {
		return "", auth.ErrEmptyCredentials
	}
	return pass, nil
}
