package cmd

import (
	"context"
	"encoding/json/jsontext"
	"encoding/json/v2"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/wharflab/stevedore/internal/baseimage"
	"github.com/wharflab/stevedore/internal/imageref"
	"github.com/wharflab/stevedore/internal/registry"
)

// Exit codes
const (
	ExitSuccess       = 0 // Resolution or verification succeeded
	ExitIncomplete    = 1 // Missing architectures or digests not published in time
	ExitConfigError   = 2 // Configuration or argument error
	ExitRegistryError = 3 // Registry unreachable or request rejected
)

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Resolve a base image's manifest list and check platform coverage",
		ArgsUsage: "IMAGE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (default: auto-discover)",
			},
			&cli.StringFlag{
				Name:    "registry",
				Usage:   "Registry applied to references that do not name one",
				Sources: cli.EnvVars("STEVEDORE_SOURCE_REGISTRY_URI"),
			},
			&cli.BoolFlag{
				Name:    "insecure",
				Usage:   "Allow plain HTTP and unverified TLS",
				Sources: cli.EnvVars("STEVEDORE_SOURCE_REGISTRY_INSECURE"),
			},
			&cli.StringSliceFlag{
				Name:    "platform",
				Aliases: []string{"p"},
				Usage:   "Platform the manifest list must cover (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output the resolution report as JSON",
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("STEVEDORE_DEBUG"),
			},
		},
		Action: runResolve,
	}
}

func runResolve(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: resolve requires exactly one image reference")
		return cli.Exit("", ExitConfigError)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.Exit("", ExitConfigError)
	}
	if cmd.IsSet("registry") {
		cfg.SourceRegistry.URI = cmd.String("registry")
	}
	if cmd.IsSet("insecure") {
		cfg.SourceRegistry.Insecure = cmd.Bool("insecure")
	}

	ref, err := imageref.Parse(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.Exit("", ExitConfigError)
	}
	if cfg.SourceRegistry.URI != "" {
		ref, err = ref.EnsureRegistry(cfg.SourceRegistry.Host())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return cli.Exit("", ExitConfigError)
		}
	}

	if registry.NewDefaultClient == nil {
		fmt.Fprintln(os.Stderr, "Error: registry access not available (missing build tags)")
		return cli.Exit("", ExitConfigError)
	}
	log := newRunLogger(cmd)
	client := registry.NewDefaultClient(registry.Options{
		Insecure: cfg.SourceRegistry.Insecure,
		Logger:   log,
	})
	resolver := baseimage.NewResolver(client, log)

	list, err := resolver.Resolve(ctx, ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.Exit("", ExitRegistryError)
	}

	// An absent manifest list is a valid answer for a single-arch image,
	// but a reference the registry does not know at all is not. Digest
	// references already proved existence through the fallback config
	// fetch.
	if list == nil && ref.Digest == "" {
		if _, err := client.Config(ctx, ref); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return cli.Exit("", ExitRegistryError)
		}
	}

	if platforms := cmd.StringSlice("platform"); len(platforms) > 0 {
		// The resolver caches the manifest list, so this does not refetch.
		if err := resolver.ValidateCoverage(ctx, ref, platforms, cfg.Mapping()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return cli.Exit("", ExitIncomplete)
		}
	}

	if err := writeResolveReport(cmd, ref, list); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.Exit("", ExitRegistryError)
	}
	return nil
}

type resolveReport struct {
	Image         string   `json:"image"`
	ManifestList  bool     `json:"manifestList"`
	Digest        string   `json:"digest,omitempty"`
	MediaType     string   `json:"mediaType,omitempty"`
	Architectures []string `json:"architectures,omitempty"`
}

func writeResolveReport(cmd *cli.Command, ref imageref.Ref, list *registry.ManifestList) error {
	return renderResolveReport(os.Stdout, ref, list, cmd.Bool("json"))
}

func renderResolveReport(w io.Writer, ref imageref.Ref, list *registry.ManifestList, asJSON bool) error {
	report := resolveReport{Image: ref.String()}
	if list != nil {
		report.ManifestList = true
		report.Digest = list.Digest.String()
		report.MediaType = list.MediaType
		report.Architectures = list.Architectures()
	}

	if asJSON {
		return json.MarshalWrite(
			w,
			report,
			jsontext.EscapeForHTML(true),
			jsontext.WithIndentPrefix(""),
			jsontext.WithIndent("  "),
		)
	}

	if !report.ManifestList {
		_, err := fmt.Fprintf(w, "%s is not a manifest list\n", report.Image)
		return err
	}
	fmt.Fprintf(w, "%s\n", report.Image)
	fmt.Fprintf(w, "  digest:        %s\n", report.Digest)
	fmt.Fprintf(w, "  media type:    %s\n", report.MediaType)
	_, err := fmt.Fprintf(w, "  architectures: %s\n", strings.Join(report.Architectures, ", "))
	return err
}
