package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ehrlich-b/go-lightnvm"
	"github.com/ehrlich-b/go-lightnvm/backend"
)

type simRun struct {
	Profile  string                   `json:"profile"`
	Addrs    []lightnvm.Addr          `json:"addrs"`
	NBytes   uint64                   `json:"nbytes"`
	Mismatch int                      `json:"mismatch"`
	Elapsed  float64                  `json:"elapsed_secs"`
	Stats    map[string]interface{}   `json:"stats"`
	Metrics  lightnvm.MetricsSnapshot `json:"metrics"`
}

func simCommand() *cli.Command {
	return &cli.Command{
		Name:  "sim",
		Usage: "Erase, write and read back a virtual block on a simulated device",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "profile",
				Value: "s20",
				Usage: "simulator profile (" + strings.Join(backend.SimProfiles(), ", ") + ")",
			},
			&cli.IntFlag{Name: "naddrs", Value: 4, Usage: "parallel units spanned by the virtual block"},
		},
		Action: simAction,
	}
}

func simAction(c *cli.Context) error {
	profile := c.String("profile")
	cfg, err := deviceConfig(c, true)
	if err != nil {
		return err
	}
	cfg.Backend = lightnvm.BeSim
	if cfg.MetaMode == lightnvm.MetaModeNone {
		cfg.MetaMode = lightnvm.MetaModeAlpha
	}

	bp, err := lightnvm.NewBp(c.Context, backend.SimPrefix+profile, cfg, c.Int("naddrs"))
	if err != nil {
		return err
	}
	defer bp.Close()

	start := time.Now()
	if _, err := bp.Vblk.Erase(); err != nil {
		return err
	}
	if _, err := bp.Vblk.Write(bp.Bufs.Data); err != nil {
		return err
	}
	bp.Bufs.Clear()
	if _, err := bp.Vblk.Read(bp.Bufs.Data); err != nil {
		return err
	}

	run := simRun{
		Profile:  profile,
		Addrs:    bp.Addrs,
		NBytes:   bp.Vblk.NBytes(),
		Mismatch: bp.Bufs.Diff(),
		Elapsed:  time.Since(start).Seconds(),
		Metrics:  bp.Dev.MetricsSnapshot(),
	}
	if s, ok := bp.Dev.Backend().(*backend.Sim); ok {
		run.Stats = s.Stats()
	}

	err = emit(c, run, func(w io.Writer) {
		fmt.Fprintf(w, "sim %s: naddrs(%d) nbytes(%d) elapsed(%.4fs) mismatch(%d)\n",
			run.Profile, len(run.Addrs), run.NBytes, run.Elapsed, run.Mismatch)
		for _, a := range run.Addrs {
			fmt.Fprintf(w, "  - %s\n", bp.Dev.Describe(a))
		}
		fmt.Fprintf(w, "ops: erase(%d) write(%d) read(%d) errors(%.2f%%)\n",
			run.Metrics.Erase.Ops, run.Metrics.Write.Ops, run.Metrics.Read.Ops, run.Metrics.ErrorRate)
	})
	if err == nil && run.Mismatch != 0 {
		err = cli.Exit(fmt.Sprintf("read back %d mismatching bytes", run.Mismatch), 1)
	}
	return err
}
