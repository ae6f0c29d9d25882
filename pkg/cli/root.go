// Package cli provides the command-line interface for the packer driver
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/poltergeist/packer-driver/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables mirroring the global flags
const EnvPrefix = "PACKER"

// CLI is one command-line invocation context. It holds no globals so that
// tests can run commands side by side.
type CLI struct {
	config  *Config
	viper   *viper.Viper
	rootCmd *cobra.Command
	logger  logger.Logger
	out     io.Writer
	errOut  io.Writer
}

// NewCLI creates a CLI writing to the standard streams
func NewCLI(config *Config) *CLI {
	return NewCLIWithOutput(config, os.Stdout, os.Stderr)
}

// NewCLIWithOutput creates a CLI writing to out and errOut
func NewCLIWithOutput(config *Config, out, errOut io.Writer) *CLI {
	if config == nil {
		config = NewConfig()
	}
	c := &CLI{
		config: config,
		viper:  viper.New(),
		logger: logger.NewNopLogger(),
		out:    out,
		errOut: errOut,
	}
	c.setupCommands()
	return c
}

// Execute runs the command line in args
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the command line in args under ctx
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

// Execute runs the CLI against the process arguments
func Execute(version string) error {
	config := NewConfig()
	config.Version = version
	return NewCLI(config).Execute(os.Args[1:])
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "packer-driver",
		Short: "Incremental script builds for the editor and preview targets",
		Long: `packer-driver keeps the module graphs of the editor and preview targets up
to date. It turns script changes into incremental engine builds, keeps each
target's import map in sync with the mounted asset databases, and answers
dependency queries against the latest successful build.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.initializeConfig,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	c.rootCmd.SetOut(c.out)
	c.rootCmd.SetErr(c.errOut)

	c.setupFlags()

	c.rootCmd.Version = c.config.Version
	c.rootCmd.SetVersionTemplate("packer-driver v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newBuildCmd())
	c.rootCmd.AddCommand(c.newWatchCmd())
	c.rootCmd.AddCommand(c.newDepsCmd())
	c.rootCmd.AddCommand(c.newUsersCmd())
	c.rootCmd.AddCommand(c.newStatusCmd())
	c.rootCmd.AddCommand(c.newWaitCmd())
	c.rootCmd.AddCommand(c.newCleanCmd())
	c.rootCmd.AddCommand(c.newInitCmd())
	c.rootCmd.AddCommand(c.newValidateCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()

	flags.StringVar(&c.config.ConfigFile, "config", c.config.ConfigFile, "config file (default: packer.config.json in the project root)")
	flags.StringVar(&c.config.ProjectRoot, "root", c.config.ProjectRoot, "project root directory")
	flags.StringVarP(&c.config.Verbosity, "verbosity", "v", c.config.Verbosity, "log level (debug, info, warn, error)")
	flags.StringVar(&c.config.Workspace, "workspace", c.config.Workspace, "workspace directory (default: temp/packer-driver)")
}

// initializeConfig layers PACKER_* environment variables under explicit flags
func (c *CLI) initializeConfig(cmd *cobra.Command, args []string) error {
	c.viper.SetEnvPrefix(EnvPrefix)
	c.viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.viper.AutomaticEnv()

	if err := c.viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	c.config.ConfigFile = c.viper.GetString("config")
	c.config.ProjectRoot = c.viper.GetString("root")
	c.config.Verbosity = c.viper.GetString("verbosity")
	c.config.Workspace = c.viper.GetString("workspace")

	c.logger = logger.CreateLoggerWithOutput(c.config.Verbosity, c.errOut)
	return nil
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.out, "packer-driver v%s\n", c.config.Version)
		},
	}
}

// Helper methods for user-facing output

func (c *CLI) printSuccess(message string) {
	fmt.Fprintf(c.out, "%s %s\n", color.GreenString("[packer]"), message)
}

func (c *CLI) printError(message string) {
	fmt.Fprintf(c.errOut, "%s %s\n", color.RedString("[packer]"), message)
}

func (c *CLI) printInfo(message string) {
	fmt.Fprintf(c.out, "%s %s\n", color.CyanString("[packer]"), message)
}

func (c *CLI) printWarning(message string) {
	fmt.Fprintf(c.out, "%s %s\n", color.YellowString("[packer]"), message)
}
