package cmd

import (
	"context"
	"encoding/json/jsontext"
	"encoding/json/v2"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/wharflab/stevedore/internal/config"
	"github.com/wharflab/stevedore/internal/imageref"
	"github.com/wharflab/stevedore/internal/pipeline"
	"github.com/wharflab/stevedore/internal/registry"
	"github.com/wharflab/stevedore/internal/verify"
)

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Wait until a published image's digests are visible in a registry",
		ArgsUsage: "IMAGE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (default: auto-discover)",
			},
			&cli.StringFlag{
				Name:  "registry",
				Usage: "Distribution registry to poll instead of the one in IMAGE",
			},
			&cli.BoolFlag{
				Name:  "insecure",
				Usage: "Allow plain HTTP and unverified TLS",
			},
			&cli.StringFlag{
				Name:    "timeout",
				Usage:   "Polling budget, e.g. 20m",
				Sources: cli.EnvVars("STEVEDORE_VERIFY_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "retry-delay",
				Usage:   "Delay between polls, e.g. 30s",
				Sources: cli.EnvVars("STEVEDORE_VERIFY_RETRY_DELAY"),
			},
			&cli.BoolFlag{
				Name:    "prefer-schema1",
				Usage:   "Do not require a schema 2 digest",
				Sources: cli.EnvVars("STEVEDORE_VERIFY_PREFER_SCHEMA1"),
			},
			&cli.BoolFlag{
				Name:  "grouped",
				Usage: "Expect a manifest list (grouped multi-arch publish)",
			},
			&cli.StringSliceFlag{
				Name:    "platform",
				Aliases: []string{"p"},
				Usage:   "Platform the image was built for (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output the found digests as JSON",
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("STEVEDORE_DEBUG"),
			},
		},
		Action: runVerify,
	}
}

func runVerify(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: verify requires exactly one image reference")
		return cli.Exit("", ExitConfigError)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.Exit("", ExitConfigError)
	}
	if cmd.IsSet("timeout") {
		cfg.Verify.Timeout = cmd.String("timeout")
	}
	if cmd.IsSet("retry-delay") {
		cfg.Verify.RetryDelay = cmd.String("retry-delay")
	}
	if cmd.IsSet("prefer-schema1") {
		cfg.Verify.PreferSchema1 = cmd.Bool("prefer-schema1")
	}

	ref, err := imageref.Parse(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.Exit("", ExitConfigError)
	}
	if cmd.IsSet("registry") {
		ref = ref.WithRegistry(pipeline.Registry{URI: cmd.String("registry")}.Host())
	}

	log := newRunLogger(cmd)
	build := &pipeline.Build{
		GroupedManifests: cmd.Bool("grouped"),
		Platforms:        cmd.StringSlice("platform"),
	}
	expect := verify.DeriveExpectations(build, cfg.Verify.PreferSchema1, cfg.Mapping(), log)

	lookup := registry.NewDigestClient(registry.Options{
		Insecure: cmd.Bool("insecure"),
		Logger:   log,
	})
	poller := verify.NewPoller(
		lookup,
		parseConfiguredDuration(cfg, "verify.timeout", cfg.Verify.Timeout),
		parseConfiguredDuration(cfg, "verify.retry-delay", cfg.Verify.RetryDelay),
		log,
	)

	digests, err := poller.Wait(ctx, ref, expect)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var timeoutErr *verify.TimeoutError
		if errors.As(err, &timeoutErr) {
			return cli.Exit("", ExitIncomplete)
		}
		return cli.Exit("", ExitRegistryError)
	}

	if err := writeDigestReport(cmd, ref, digests); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.Exit("", ExitRegistryError)
	}
	return nil
}

// parseConfiguredDuration turns a configured duration string into a
// time.Duration. Bad values get a warning and fall back to zero, which the
// poller replaces with its default.
func parseConfiguredDuration(cfg *config.Config, key, value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		source := "defaults"
		if cfg.ConfigFile != "" {
			source = cfg.ConfigFile
		}
		fmt.Fprintf(os.Stderr, "Warning: ignoring %s %q (%s): %v\n", key, value, source, err)
		return 0
	}
	return d
}

type digestReport struct {
	Image string `json:"image"`
	V1    string `json:"v1,omitempty"`
	V2    string `json:"v2,omitempty"`
	List  string `json:"list,omitempty"`
}

func writeDigestReport(cmd *cli.Command, ref imageref.Ref, ds registry.DigestSet) error {
	report := digestReport{
		Image: ref.String(),
		V1:    string(ds.V1),
		V2:    string(ds.V2),
		List:  string(ds.List),
	}

	if cmd.Bool("json") {
		return json.MarshalWrite(
			os.Stdout,
			report,
			jsontext.EscapeForHTML(true),
			jsontext.WithIndentPrefix(""),
			jsontext.WithIndent("  "),
		)
	}

	fmt.Printf("%s\n", report.Image)
	if ds.Empty() {
		fmt.Println("  no digests found")
		return nil
	}
	if report.V1 != "" {
		fmt.Printf("  schema 1:      %s\n", report.V1)
	}
	if report.V2 != "" {
		fmt.Printf("  schema 2:      %s\n", report.V2)
	}
	if report.List != "" {
		fmt.Printf("  manifest list: %s\n", report.List)
	}
	return nil
}
