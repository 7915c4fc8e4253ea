package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/ehrlich-b/go-lightnvm"
)

func rprtCommand() *cli.Command {
	filter := &cli.StringFlag{Name: "filter", Value: "ALL", Usage: "ALL, FREE, FULL, OPEN or BAD"}
	return &cli.Command{
		Name:  "rprt",
		Usage: "2.0 chunk reports",
		Subcommands: []*cli.Command{
			{
				Name:      "all",
				Usage:     "Report every chunk, or those of the parallel unit of ADDR",
				ArgsUsage: "DEV [ADDR]",
				Flags:     []cli.Flag{filter},
				Action:    rprtAllAction,
			},
			{
				Name:      "find",
				Usage:     "Find N chunks matching the filter, spread over parallel units",
				ArgsUsage: "DEV N",
				Flags:     []cli.Flag{filter},
				Action:    rprtFindAction,
			},
		},
	}
}

func rprtAllAction(c *cli.Context) error {
	opt, err := lightnvm.ParseReportOpt(c.String("filter"))
	if err != nil {
		return err
	}

	var addr *lightnvm.Addr
	if c.NArg() > 1 {
		addrs, err := parseAddrs(c, 1)
		if err != nil {
			return err
		}
		addr = &addrs[0]
	}

	dev, err := openDevice(c, false)
	if err != nil {
		return err
	}
	defer dev.Close()

	descrs, err := dev.Report(addr, opt)
	if err != nil {
		return err
	}
	return emit(c, descrs, func(w io.Writer) {
		fmt.Fprintf(w, "rprt: nchunks(%d) filter(%s)\n", len(descrs), opt)
		for i := range descrs {
			d := &descrs[i]
			fmt.Fprintf(w, "  - %s state(%s) type(%s) wi(%d) written(%d/%d)\n",
				d.Addr.FormatS20(), d.State, d.Type, d.WearIndex, d.Written(), d.NAddrs)
		}
	})
}

func rprtFindAction(c *cli.Context) error {
	opt, err := lightnvm.ParseReportOpt(c.String("filter"))
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return fmt.Errorf("invalid chunk count %q", c.Args().Get(1))
	}

	dev, err := openDevice(c, false)
	if err != nil {
		return err
	}
	defer dev.Close()

	addrs, err := dev.ReportFind(opt, n)
	if err != nil {
		return err
	}
	return emit(c, addrs, func(w io.Writer) {
		for _, a := range addrs {
			fmt.Fprintln(w, a.FormatS20())
		}
	})
}
