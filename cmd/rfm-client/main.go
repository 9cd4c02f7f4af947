// Command rfm-client is the interactive terminal client for an rfm server.
//
// Usage:
//
//	rfm-client [-config rfm-client.yaml] [-host addr] [-port n] [-save]
//
// -save writes the effective host, port and other settings back to the
// config file before connecting.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/rfm/client"
	"github.com/opd-ai/rfm/config"
	"github.com/opd-ai/rfm/crypto"
	"github.com/opd-ai/rfm/logging"
	"github.com/opd-ai/rfm/ui"
)

const defaultConfigFile = "rfm-client.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "rfm-client:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	cfg, configPath, save, err := parseFlags(args)
	if err != nil {
		return err
	}
	if save {
		if err := cfg.Save(configPath); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		return err
	}

	opts, err := clientOptions(cfg)
	if err != nil {
		return err
	}
	if opts.Keys != nil {
		defer crypto.WipeKeyPair(opts.Keys)
	}

	cli := ui.NewCLI(in, out)
	cli.DefaultUser = cfg.Username
	cli.DownloadDir = cfg.DownloadDir

	c, err := client.Dial(ctx, cfg.Addr(), cli, opts)
	if err != nil {
		return err
	}
	return c.Run(ctx)
}

func parseFlags(args []string) (*config.ClientConfig, string, bool, error) {
	fs := flag.NewFlagSet("rfm-client", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigFile, "configuration file")
	host := fs.String("host", "", "server address")
	port := fs.Int("port", 0, "server port")
	save := fs.Bool("save", false, "write the effective settings to the config file")
	if err := fs.Parse(args); err != nil {
		return nil, "", false, err
	}

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		return nil, "", false, err
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return cfg, *configPath, *save, nil
}

// clientOptions maps the settings to client options, loading the static key
// and the pinned server key for the secure channel.
func clientOptions(cfg *config.ClientConfig) (client.Options, error) {
	opts := client.Options{
		CompressLevel: cfg.CompressLevel,
		Secure:        cfg.Secure.Enabled,
		DialTimeout:   cfg.DialTimeout,
	}
	if !cfg.Secure.Enabled {
		return opts, nil
	}

	if cfg.Secure.KeyFile != "" {
		keys, err := crypto.LoadOrCreateKeyFile(cfg.Secure.KeyFile)
		if err != nil {
			return opts, err
		}
		opts.Keys = keys
	}
	if cfg.Secure.ServerKey != "" {
		key, err := crypto.ParseFingerprint(cfg.Secure.ServerKey)
		if err != nil {
			return opts, err
		}
		opts.ServerKey = key[:]
	}
	return opts, nil
}
