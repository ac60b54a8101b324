package cmd

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/wharflab/stevedore/internal/config"
	"github.com/wharflab/stevedore/internal/version"
)

// NewApp creates the CLI application
func NewApp() *cli.Command {
	return &cli.Command{
		Name:    "stevedore",
		Usage:   "Resolve, pull, and verify container images for build pipelines",
		Version: version.Version(),
		Description: `stevedore prepares the parent images a container build needs and
confirms a just-published image is visible in its distribution registry.

Examples:
  stevedore resolve registry.example.com/ns/app:1.0
  stevedore resolve --platform x86_64 --platform aarch64 registry.example.com/ns/app:1.0
  stevedore verify --grouped crane.example.com/ns/app:unique-1`,
		Commands: []*cli.Command{
			resolveCommand(),
			verifyCommand(),
			versionCommand(),
		},
	}
}

// Execute runs the CLI application
func Execute() error {
	return NewApp().Run(context.Background(), os.Args)
}

// newRunLogger builds the logger for one CLI invocation. Every line carries
// a short run identifier so interleaved pipeline output stays attributable.
func newRunLogger(cmd *cli.Command) *logrus.Entry {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		DisableColors: !isatty.IsTerminal(os.Stderr.Fd()),
		FullTimestamp: true,
	})
	if cmd.Bool("debug") {
		log.SetLevel(logrus.DebugLevel)
	}
	return log.WithField("run", uuid.NewString()[:8])
}

// loadConfig loads configuration honoring the --config flag. Discovery
// starts from the working directory when no explicit path is given.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	if configPath := cmd.String("config"); configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load(".")
}
