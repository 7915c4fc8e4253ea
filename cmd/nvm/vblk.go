package main

import (
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ehrlich-b/go-lightnvm"
)

type vblkResult struct {
	Op       string          `json:"op"`
	Addrs    []lightnvm.Addr `json:"addrs"`
	NBytes   int             `json:"nbytes"`
	Elapsed  float64         `json:"elapsed_secs"`
	Mismatch *int            `json:"mismatch,omitempty"`
}

func vblkCommand() *cli.Command {
	sub := func(name, usage string, writable bool, fn func(*lightnvm.Vblk, *vblkResult, bool) error) *cli.Command {
		return &cli.Command{
			Name:      name,
			Usage:     usage,
			ArgsUsage: "DEV BLKADDR...",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "verify", Usage: "compare read data against the write pattern"},
			},
			Action: func(c *cli.Context) error { return vblkAction(c, name, writable, fn) },
		}
	}

	return &cli.Command{
		Name:  "vblk",
		Usage: "Virtual block spanning several blocks or chunks",
		Subcommands: []*cli.Command{
			sub("erase", "Erase every block", true, func(v *lightnvm.Vblk, r *vblkResult, _ bool) error {
				_, err := v.Erase()
				return err
			}),
			sub("write", "Write the alphabet pattern over the whole virtual block", true,
				func(v *lightnvm.Vblk, r *vblkResult, _ bool) error {
					buf, err := lightnvm.BufAlloc(v.Device().Geo(), int(v.NBytes()))
					if err != nil {
						return err
					}
					lightnvm.BufFill(buf)
					r.NBytes, err = v.Write(buf)
					return err
				}),
			sub("read", "Read the whole virtual block", false,
				func(v *lightnvm.Vblk, r *vblkResult, verify bool) error {
					buf, err := lightnvm.BufAlloc(v.Device().Geo(), int(v.NBytes()))
					if err != nil {
						return err
					}
					if r.NBytes, err = v.Read(buf); err != nil {
						return err
					}
					if verify {
						want := make([]byte, len(buf))
						lightnvm.BufFill(want)
						diff := lightnvm.BufDiff(buf, want)
						r.Mismatch = &diff
					}
					return nil
				}),
			sub("pad", "Pad the virtual block to capacity", true, func(v *lightnvm.Vblk, r *vblkResult, _ bool) error {
				var err error
				r.NBytes, err = v.Pad()
				return err
			}),
		},
	}
}

func vblkAction(c *cli.Context, op string, writable bool, fn func(*lightnvm.Vblk, *vblkResult, bool) error) error {
	addrs, err := parseAddrs(c, 1)
	if err != nil {
		return err
	}
	dev, err := openDevice(c, writable)
	if err != nil {
		return err
	}
	defer dev.Close()

	v, err := lightnvm.NewVblk(dev, addrs)
	if err != nil {
		return err
	}
	v = v.WithContext(c.Context)

	res := vblkResult{Op: op, Addrs: addrs}
	start := time.Now()
	if err := fn(v, &res, c.Bool("verify")); err != nil {
		return err
	}
	res.Elapsed = time.Since(start).Seconds()

	return emit(c, res, func(w io.Writer) {
		fmt.Fprintf(w, "vblk %s: naddrs(%d) nbytes(%d) elapsed(%.4fs)\n", op, len(addrs), res.NBytes, res.Elapsed)
		if res.Mismatch != nil {
			fmt.Fprintf(w, "mismatch: %d bytes\n", *res.Mismatch)
		}
	})
}
