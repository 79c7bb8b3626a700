package setup

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrUnknownCommand is returned for an unrecognised setup command.
var ErrUnknownCommand = errors.New("unknown setup command")

// CLI implements the "setup" subcommand of the server binaries.
type CLI struct {
	ServerType string // "lite" or "full"
	in         *bufio.Reader
	out        io.Writer
}

// NewCLI creates a CLI reading answers from stdin and writing to stderr, so
// it never writes to the stream an MCP client might be reading.
func NewCLI(serverType string) *CLI {
	return NewCLIWithIO(serverType, os.Stdin, os.Stderr)
}

// NewCLIWithIO creates a CLI on the given streams.
func NewCLIWithIO(serverType string, in io.Reader, out io.Writer) *CLI {
	return &CLI{ServerType: serverType, in: bufio.NewReader(in), out: out}
}

// Run executes the setup command named by args[0].
func (c *CLI) Run(args []string) error {
	if len(args) == 0 {
		c.showHelp()
		return nil
	}

	switch args[0] {
	case "claude-desktop":
		return c.configure(args[1:])
	case "status":
		return c.showStatus(args[1:])
	case "validate":
		return c.validate(args[1:])
	case "help", "--help", "-h":
		c.showHelp()
		return nil
	default:
		c.showHelp()
		return fmt.Errorf("%w: %s", ErrUnknownCommand, args[0])
	}
}

func (c *CLI) binary() string {
	return binaryName(c.ServerType)
}

func (c *CLI) showHelp() {
	fmt.Fprintf(c.out, `
Meditrek MCP Server Setup

Usage:
  %[1]s setup <command> [options]

Commands:
  claude-desktop  Register the server with Claude Desktop
  status          Show current setup status
  validate        Validate current registration

Options (claude-desktop):
  --binary PATH   Server binary (default: this executable)
  --data-dir DIR  Data directory passed as MEDITREK_DATA_DIR
  --timezone TZ   Calendar timezone passed as MEDITREK_TIMEZONE
  --config PATH   Client config file (default: platform location)
  --yes           Do not ask for confirmation

Examples:
  %[1]s setup claude-desktop --data-dir ~/.meditrek --timezone Europe/Berlin
  %[1]s setup status
`, c.binary())
}

func (c *CLI) flags(name string) (*flag.FlagSet, *Options, *bool) {
	opts := &Options{ServerType: c.ServerType}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.out)
	fs.StringVar(&opts.BinaryPath, "binary", "", "server binary")
	fs.StringVar(&opts.DataDir, "data-dir", "", "data directory")
	fs.StringVar(&opts.Timezone, "timezone", "", "calendar timezone")
	fs.StringVar(&opts.ConfigPath, "config", "", "client config file")
	yes := fs.Bool("yes", false, "skip confirmation")
	return fs, opts, yes
}

func (c *CLI) configure(args []string) error {
	fs, opts, yes := c.flags("claude-desktop")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if opts.BinaryPath == "" {
		if exe, err := os.Executable(); err == nil {
			opts.BinaryPath = exe
		}
	}
	path, err := resolveConfigPath(opts.ConfigPath)
	if err != nil {
		return err
	}
	opts.ConfigPath = path

	fmt.Fprintln(c.out, "Claude Desktop Configuration")
	fmt.Fprintln(c.out, "============================")
	fmt.Fprintf(c.out, "Config file: %s\n", path)
	fmt.Fprintf(c.out, "Server binary: %s\n", opts.BinaryPath)
	if opts.DataDir != "" {
		fmt.Fprintf(c.out, "Data directory: %s\n", opts.DataDir)
	}
	if opts.Timezone != "" {
		fmt.Fprintf(c.out, "Timezone: %s\n", opts.Timezone)
	}
	fmt.Fprintln(c.out)

	if !*yes && !c.confirm("Proceed with configuration? [Y/n]: ", true) {
		fmt.Fprintln(c.out, "Configuration cancelled.")
		return nil
	}

	if _, err := Configure(*opts); err != nil {
		return fmt.Errorf("failed to configure Claude Desktop: %w", err)
	}
	if err := EnsureDataDir(opts.DataDir); err != nil {
		fmt.Fprintf(c.out, "Warning: %v\n", err)
	}

	fmt.Fprintln(c.out, "Claude Desktop configured.")
	fmt.Fprintln(c.out, "Restart Claude Desktop, then ask it to check a new medicine against your regimen.")
	return nil
}

// confirm reads a yes/no answer; an empty answer means def.
func (c *CLI) confirm(prompt string, def bool) bool {
	fmt.Fprint(c.out, prompt)
	answer, _ := c.in.ReadString('\n')
	switch strings.TrimSpace(strings.ToLower(answer)) {
	case "":
		return def
	case "y", "yes":
		return true
	default:
		return false
	}
}

func (c *CLI) showStatus(args []string) error {
	fs, opts, _ := c.flags("status")
	if err := fs.Parse(args); err != nil {
		return err
	}
	status := GetStatus(opts.ConfigPath)

	fmt.Fprintln(c.out, "Meditrek MCP Server Status")
	fmt.Fprintln(c.out, "==========================")
	fmt.Fprintf(c.out, "Client config: %s\n", status.ConfigPath)
	fmt.Fprintf(c.out, "  Registered: %s\n", mark(status.Configured))
	if status.Configured {
		fmt.Fprintf(c.out, "  Binary: %s (%s)\n", status.BinaryPath, found(status.BinaryFound))
	}
	fmt.Fprintf(c.out, "Data directory: %s (%s)\n", status.DataDir, found(status.DataDirExists))
	fmt.Fprintf(c.out, "  Database: %s\n", found(status.DatabasePresent))

	if len(status.Issues) > 0 {
		fmt.Fprintln(c.out, "Issues:")
		for _, issue := range status.Issues {
			fmt.Fprintf(c.out, "  - %s\n", issue)
		}
	}
	return nil
}

func (c *CLI) validate(args []string) error {
	fs, opts, _ := c.flags("validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ok, issues := Validate(opts.ConfigPath)
	if ok {
		fmt.Fprintln(c.out, "Configuration is valid.")
		return nil
	}
	fmt.Fprintln(c.out, "Configuration has issues:")
	for _, issue := range issues {
		fmt.Fprintf(c.out, "  - %s\n", issue)
	}
	return fmt.Errorf("%d setup issue(s) found", len(issues))
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

func found(ok bool) string {
	if ok {
		return "found"
	}
	return "missing"
}
