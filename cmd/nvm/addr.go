package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/ehrlich-b/go-lightnvm"
)

type addrRow struct {
	In    uint64 `json:"in"`
	Out   uint64 `json:"out"`
	Descr string `json:"descr"`
}

// addrConversion converts raw input values of one kind into another. The
// generic address the row describes is returned alongside.
type addrConversion func(dev *lightnvm.Device, in uint64) (out uint64, a lightnvm.Addr)

func addrCommand() *cli.Command {
	conv := func(name, usage string, fn addrConversion) *cli.Command {
		return &cli.Command{
			Name:      name,
			Usage:     usage,
			ArgsUsage: "DEV VALUE...",
			Action:    func(c *cli.Context) error { return addrConvertAction(c, fn) },
		}
	}

	return &cli.Command{
		Name:  "addr",
		Usage: "Address conversions",
		Subcommands: []*cli.Command{
			conv("fmt", "Describe generic addresses",
				func(_ *lightnvm.Device, in uint64) (uint64, lightnvm.Addr) {
					return in, lightnvm.Addr(in)
				}),
			conv("gen2dev", "Generic to device format",
				func(dev *lightnvm.Device, in uint64) (uint64, lightnvm.Addr) {
					return dev.Gen2Dev(lightnvm.Addr(in)), lightnvm.Addr(in)
				}),
			conv("dev2gen", "Device format to generic",
				func(dev *lightnvm.Device, in uint64) (uint64, lightnvm.Addr) {
					a := dev.Dev2Gen(in)
					return uint64(a), a
				}),
			conv("gen2off", "Generic to byte offset",
				func(dev *lightnvm.Device, in uint64) (uint64, lightnvm.Addr) {
					return dev.Gen2Off(lightnvm.Addr(in)), lightnvm.Addr(in)
				}),
			conv("off2gen", "Byte offset to generic",
				func(dev *lightnvm.Device, in uint64) (uint64, lightnvm.Addr) {
					a := dev.Off2Gen(in)
					return uint64(a), a
				}),
			conv("gen2lba", "Generic to 512 byte LBA",
				func(dev *lightnvm.Device, in uint64) (uint64, lightnvm.Addr) {
					return dev.Gen2LBA(lightnvm.Addr(in)), lightnvm.Addr(in)
				}),
			conv("lba2gen", "512 byte LBA to generic",
				func(dev *lightnvm.Device, in uint64) (uint64, lightnvm.Addr) {
					a := dev.LBA2Gen(in)
					return uint64(a), a
				}),
			{
				Name:      "s12",
				Usage:     "Compose a generic address from 1.2 fields",
				ArgsUsage: "CH LUN PL BLK PG SEC",
				Action:    addrComposeAction,
			},
			{
				Name:      "s20",
				Usage:     "Compose a generic address from 2.0 fields",
				ArgsUsage: "PUGRP PUNIT CHUNK SECTR",
				Action:    addrComposeAction,
			},
			{
				Name:      "check",
				Usage:     "Check generic addresses against the geometry",
				ArgsUsage: "DEV ADDR...",
				Action:    addrCheckAction,
			},
		},
	}
}

func parseValues(c *cli.Context) ([]uint64, error) {
	args := c.Args().Slice()
	if len(args) < 2 {
		return nil, fmt.Errorf("missing values")
	}
	vals := make([]uint64, 0, len(args)-1)
	for _, s := range args[1:] {
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", s)
		}
		vals = append(vals, v)
	}
	return vals, nil
}

func addrConvertAction(c *cli.Context, fn addrConversion) error {
	vals, err := parseValues(c)
	if err != nil {
		return err
	}
	dev, err := openDevice(c, false)
	if err != nil {
		return err
	}
	defer dev.Close()

	rows := make([]addrRow, len(vals))
	for i, in := range vals {
		out, a := fn(dev, in)
		rows[i] = addrRow{In: in, Out: out, Descr: dev.Describe(a)}
	}
	return emit(c, rows, func(w io.Writer) {
		for _, r := range rows {
			fmt.Fprintf(w, "0x%016x -> 0x%016x %s\n", r.In, r.Out, r.Descr)
		}
	})
}

type checkRow struct {
	Addr  lightnvm.Addr `json:"addr"`
	Mask  string        `json:"mask"`
	Valid bool          `json:"valid"`
}

func addrCheckAction(c *cli.Context) error {
	addrs, err := parseAddrs(c, 1)
	if err != nil {
		return err
	}
	dev, err := openDevice(c, false)
	if err != nil {
		return err
	}
	defer dev.Close()

	rows := make([]checkRow, len(addrs))
	invalid := 0
	for i, a := range addrs {
		mask := dev.Check(a)
		rows[i] = checkRow{Addr: a, Mask: mask.String(), Valid: mask == 0}
		if mask != 0 {
			invalid++
		}
	}

	err = emit(c, rows, func(w io.Writer) {
		for i, r := range rows {
			fmt.Fprintf(w, "%s bounds(%s)\n", dev.Describe(addrs[i]), r.Mask)
		}
	})
	if err == nil && invalid > 0 {
		err = cli.Exit(fmt.Sprintf("%d of %d addresses out of bounds", invalid, len(addrs)), 2)
	}
	return err
}

// addrComposeAction builds a generic address without opening a device
func addrComposeAction(c *cli.Context) error {
	want := 6
	if c.Command.Name == "s20" {
		want = 4
	}
	if c.NArg() != want {
		return fmt.Errorf("%s takes %d fields, got %d", c.Command.Name, want, c.NArg())
	}

	f := make([]int, want)
	for i, s := range c.Args().Slice() {
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return fmt.Errorf("invalid field %q", s)
		}
		f[i] = int(v)
	}

	var a lightnvm.Addr
	verid := uint8(lightnvm.VeridS12)
	if want == 4 {
		a = lightnvm.AddrS20(f[0], f[1], f[2], f[3])
		verid = lightnvm.VeridS20
	} else {
		a = lightnvm.AddrS12(f[0], f[1], f[2], f[3], f[4], f[5])
	}
	return emit(c, addrRow{In: uint64(a), Out: uint64(a), Descr: a.Describe(verid)}, func(w io.Writer) {
		fmt.Fprintln(w, a.Describe(verid))
	})
}
