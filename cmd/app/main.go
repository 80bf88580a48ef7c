package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/tether/internal"
	pkgconfig "github.com/starford/tether/pkg/config"
)

var version = "dev"

func options(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if v := cmd.String("vault"); v != "" {
		cfg.Vault.Path = v
	}

	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, opts...)
}

func link(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	res, err := internal.Link(ctx, cmd.String("canvas"), cmd.StringSlice("select"), opts...)
	if err != nil {
		return fmt.Errorf("link: %w", err)
	}
	fmt.Printf("created %d edges, re-routed %d\n", res.Created, res.Rerouted)
	return nil
}

func strip(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	n, err := internal.Strip(ctx, cmd.String("canvas"), opts...)
	if err != nil {
		return fmt.Errorf("strip: %w", err)
	}
	fmt.Printf("stripped %d documents\n", n)
	return nil
}

func sweep(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	n, err := internal.Sweep(ctx, opts...)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Printf("stripped %d documents\n", n)
	return nil
}

func main() {
	canvasFlag := &cli.StringFlag{
		Name:     "canvas",
		Usage:    "Vault path of the canvas file",
		Required: true,
	}

	cmd := &cli.Command{
		Name:    "tether",
		Usage:   "Keeps Markdown frontmatter in sync with the connections drawn on canvas boards",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "vault",
				Usage:   "Override the vault directory",
				Sources: cli.EnvVars("TETHER_VAULT"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and the file watcher",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools over stdio",
				Action: serveMCP,
			},
			{
				Name:   "link",
				Usage:  "Connect canvas nodes whose documents link to each other",
				Action: link,
				Flags: []cli.Flag{
					canvasFlag,
					&cli.StringSliceFlag{
						Name:  "select",
						Usage: "Node ids to link (default: every node)",
					},
				},
			},
			{
				Name:   "strip",
				Usage:  "Remove a canvas property from all of its documents",
				Action: strip,
				Flags:  []cli.Flag{canvasFlag},
			},
			{
				Name:   "sweep",
				Usage:  "Remove every canvas property from the vault",
				Action: sweep,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
