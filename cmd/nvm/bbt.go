package main

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/ehrlich-b/go-lightnvm"
)

func bbtCommand() *cli.Command {
	return &cli.Command{
		Name:  "bbt",
		Usage: "1.2 bad block tables",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print the tables of the (ch, lun) of each address",
				ArgsUsage: "DEV ADDR...",
				Action:    bbtGetAction,
			},
			{
				Name:      "mark",
				Usage:     "Set the state of plane-blocks",
				ArgsUsage: "DEV STATE ADDR...",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "cached", Usage: "mark through the table cache and flush on exit"},
				},
				Action: bbtMarkAction,
			},
			{
				Name:      "flush",
				Usage:     "Load the tables of the given addresses into the cache and write them back",
				ArgsUsage: "DEV ADDR...",
				Action:    bbtFlushAction,
			},
		},
	}
}

func bbtGetAction(c *cli.Context) error {
	addrs, err := parseAddrs(c, 1)
	if err != nil {
		return err
	}
	dev, err := openDevice(c, false)
	if err != nil {
		return err
	}
	defer dev.Close()

	bbts := make([]*lightnvm.Bbt, 0, len(addrs))
	for _, a := range addrs {
		bbt, err := dev.GetBbt(a)
		if err != nil {
			return err
		}
		bbts = append(bbts, bbt)
	}

	return emit(c, bbts, func(w io.Writer) {
		for _, bbt := range bbts {
			printBbt(w, dev, bbt)
		}
	})
}

func printBbt(w io.Writer, dev *lightnvm.Device, bbt *lightnvm.Bbt) {
	nplanes := dev.Geo().NPlanes
	fmt.Fprintf(w, "bbt: %s\n  nblks: %d\n  nbad: %d\n  ngbad: %d\n  ndmrk: %d\n  nhmrk: %d\n",
		dev.Describe(bbt.Addr), bbt.NBlks, bbt.NBad, bbt.NGBad, bbt.NDmrk, bbt.NHmrk)
	for i := 0; i < bbt.NBlks; i++ {
		if s := bbt.State(i); s != lightnvm.BbtFree {
			fmt.Fprintf(w, "  - blk(%04d) pl(%d): %s\n", i/nplanes, i%nplanes, s)
		}
	}
}

func bbtMarkAction(c *cli.Context) error {
	if c.NArg() < 3 {
		return fmt.Errorf("usage: bbt mark DEV STATE ADDR...")
	}
	state, err := lightnvm.ParseBbtState(c.Args().Get(1))
	if err != nil {
		return err
	}
	addrs, err := parseAddrs(c, 2)
	if err != nil {
		return err
	}

	dev, err := openDevice(c, true)
	if err != nil {
		return err
	}
	defer dev.Close()

	if c.Bool("cached") {
		if err := dev.SetBbtCached(true); err != nil {
			return err
		}
	}
	if err := dev.MarkBbt(addrs, state); err != nil {
		return err
	}
	if dev.BbtCached() {
		if err := dev.FlushAllBbt(); err != nil {
			return err
		}
	}
	printf(c, "marked %d addresses %s\n", len(addrs), state)
	return nil
}

func bbtFlushAction(c *cli.Context) error {
	addrs, err := parseAddrs(c, 1)
	if err != nil {
		return err
	}
	dev, err := openDevice(c, true)
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := dev.SetBbtCached(true); err != nil {
		return err
	}
	for _, a := range addrs {
		if _, err := dev.GetBbt(a); err != nil {
			return err
		}
	}
	if err := dev.FlushAllBbt(); err != nil {
		return err
	}
	printf(c, "flushed %d tables\n", len(addrs))
	return nil
}
