// Command nvm inspects and exercises Open-Channel SSDs
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ehrlich-b/go-lightnvm"
	"github.com/ehrlich-b/go-lightnvm/backend"
	"github.com/ehrlich-b/go-lightnvm/internal/logging"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "nvm: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "nvm",
		Usage: "Inspect and exercise Open-Channel SSDs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "be",
				Usage:   "backend name or id (IOCTL, LBD, SPDK, NOCD, SIM)",
				Value:   "ANY",
				EnvVars: []string{"NVM_CLI_BE_ID"},
			},
			&cli.StringFlag{
				Name:    "pmode",
				Usage:   "plane mode: SNGL, DUAL, QUAD or a number",
				EnvVars: []string{"NVM_CLI_PMODE"},
			},
			&cli.StringFlag{
				Name:    "meta-mode",
				Usage:   "out-of-band fill mode: NONE, ALPHA, CONST or a number",
				Value:   "NONE",
				EnvVars: []string{"NVM_CLI_META_MODE"},
			},
			&cli.IntFlag{Name: "erase-naddrs-max", EnvVars: []string{"NVM_CLI_ERASE_NADDRS_MAX"}},
			&cli.IntFlag{Name: "read-naddrs-max", EnvVars: []string{"NVM_CLI_READ_NADDRS_MAX"}},
			&cli.IntFlag{Name: "write-naddrs-max", EnvVars: []string{"NVM_CLI_WRITE_NADDRS_MAX"}},
			&cli.BoolFlag{
				Name:    "noverify",
				Usage:   "skip address bounds checks",
				EnvVars: []string{"NVM_CLI_NOVERIFY"},
			},
			&cli.BoolFlag{Name: "iouring", Usage: "submit file backed I/O through io_uring"},
			&cli.BoolFlag{Name: "json", Usage: "print results as JSON"},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				Value:   "info",
				EnvVars: []string{"NVM_LOG_LEVEL"},
			},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
		},
		Before: func(c *cli.Context) error {
			cfg := logging.DefaultConfig()
			level, err := logging.ParseLevel(c.String("log-level"))
			if err != nil {
				return err
			}
			cfg.Level = level
			if c.Bool("verbose") {
				cfg.Level = logging.LevelDebug
			}
			logging.SetDefault(logging.NewLogger(cfg))
			return nil
		},
		Commands: []*cli.Command{
			devCommand(),
			addrCommand(),
			vblkCommand(),
			bbtCommand(),
			rprtCommand(),
			simCommand(),
		},
	}
}

func parsePMode(s string) (uint16, error) {
	switch strings.ToUpper(s) {
	case "SNGL":
		return lightnvm.FlagPModeSngl, nil
	case "DUAL":
		return lightnvm.FlagPModeDual, nil
	case "QUAD":
		return lightnvm.FlagPModeQuad, nil
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid plane mode %q", s)
	}
	return uint16(v), nil
}

func parseMetaMode(s string) (lightnvm.MetaMode, error) {
	for _, m := range []lightnvm.MetaMode{lightnvm.MetaModeNone, lightnvm.MetaModeAlpha, lightnvm.MetaModeConst} {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid meta mode %q", s)
	}
	return lightnvm.MetaMode(v), nil
}

// deviceConfig maps the global flags onto a device configuration
func deviceConfig(c *cli.Context, writable bool) (lightnvm.Config, error) {
	reg := lightnvm.NewRegistry()
	if err := backend.RegisterAll(reg); err != nil {
		return lightnvm.Config{}, err
	}

	cfg := lightnvm.DefaultConfig(reg)
	cfg.Writable = writable
	cfg.IOUring = c.Bool("iouring")
	cfg.NoBoundsCheck = c.Bool("noverify")
	cfg.EraseNaddrsMax = c.Int("erase-naddrs-max")
	cfg.ReadNaddrsMax = c.Int("read-naddrs-max")
	cfg.WriteNaddrsMax = c.Int("write-naddrs-max")
	cfg.Logger = logging.Default()

	var err error
	if cfg.Backend, err = lightnvm.ParseBackendID(c.String("be")); err != nil {
		return lightnvm.Config{}, err
	}
	if s := c.String("pmode"); s != "" {
		pmode, err := parsePMode(s)
		if err != nil {
			return lightnvm.Config{}, err
		}
		cfg.PMode = &pmode
	}
	if cfg.MetaMode, err = parseMetaMode(c.String("meta-mode")); err != nil {
		return lightnvm.Config{}, err
	}
	return cfg, nil
}

// openDevice opens the device named by the first positional argument
func openDevice(c *cli.Context, writable bool) (*lightnvm.Device, error) {
	if c.NArg() < 1 {
		return nil, fmt.Errorf("missing device path")
	}
	cfg, err := deviceConfig(c, writable)
	if err != nil {
		return nil, err
	}
	return lightnvm.Open(c.Args().First(), cfg)
}

// parseAddrs parses the positional arguments from index first on
func parseAddrs(c *cli.Context, first int) ([]lightnvm.Addr, error) {
	args := c.Args().Slice()
	if len(args) <= first {
		return nil, fmt.Errorf("missing addresses")
	}
	addrs := make([]lightnvm.Addr, 0, len(args)-first)
	for _, s := range args[first:] {
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		addrs = append(addrs, lightnvm.Addr(v))
	}
	return addrs, nil
}
