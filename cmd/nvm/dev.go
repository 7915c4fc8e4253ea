package main

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/ehrlich-b/go-lightnvm"
)

type devInfo struct {
	Path     string            `json:"path"`
	Backend  string            `json:"backend"`
	Verid    uint8             `json:"verid"`
	PMode    string            `json:"pmode"`
	Quirks   string            `json:"quirks"`
	Format   string            `json:"format"`
	Masks    []uint64          `json:"masks"`
	Geometry lightnvm.Geometry `json:"geometry"`
}

func devCommand() *cli.Command {
	return &cli.Command{
		Name:  "dev",
		Usage: "Device information",
		Subcommands: []*cli.Command{
			{
				Name:      "info",
				Usage:     "Print geometry, address format and quirks",
				ArgsUsage: "DEV",
				Action:    devInfoAction,
			},
		},
	}
}

func devInfoAction(c *cli.Context) error {
	dev, err := openDevice(c, false)
	if err != nil {
		return err
	}
	defer dev.Close()

	info := devInfo{
		Path:     dev.Path(),
		Backend:  dev.BackendID().String(),
		Verid:    dev.Verid(),
		PMode:    lightnvm.PModeString(dev.PMode()),
		Quirks:   dev.Quirks().String(),
		Format:   dev.Format().String(),
		Masks:    dev.Format().Masks(),
		Geometry: *dev.Geo(),
	}
	return emit(c, info, func(w io.Writer) { printDevInfo(w, &info) })
}

func printDevInfo(w io.Writer, info *devInfo) {
	g := &info.Geometry
	fmt.Fprintf(w, "dev:\n  path: %s\n  be: %s\n  verid: 0x%02x\n  pmode: %s\n  quirks: %s\n",
		info.Path, info.Backend, info.Verid, info.PMode, info.Quirks)
	fmt.Fprintf(w, "format: %s\n", info.Format)
	fmt.Fprintf(w, "geo:\n")
	if info.Verid == lightnvm.VeridS20 {
		fmt.Fprintf(w, "  npugrp: %d\n  npunit: %d\n  nchunk: %d\n  nsectr: %d\n  nbytes: %d\n  nbytes_oob: %d\n",
			g.L.NPugrp, g.L.NPunit, g.L.NChunk, g.L.NSectr, g.L.NBytes, g.L.NBytesOOB)
		fmt.Fprintf(w, "  ws_min: %d\n  ws_opt: %d\n  mw_cunits: %d\n", g.L.WsMin, g.L.WsOpt, g.L.MwCunits)
	}
	fmt.Fprintf(w, "  nchannels: %d\n  nluns: %d\n  nplanes: %d\n  nblocks: %d\n  npages: %d\n  nsectors: %d\n",
		g.NChannels, g.NLuns, g.NPlanes, g.NBlocks, g.NPages, g.NSectors)
	fmt.Fprintf(w, "  page_nbytes: %d\n  sector_nbytes: %d\n  meta_nbytes: %d\n",
		g.PageNBytes, g.SectorNBytes, g.MetaNBytes)
	fmt.Fprintf(w, "  tbytes: %d\n  vblk_nbytes: %d\n  vpg_nbytes: %d\n", g.TBytes, g.VblkNBytes, g.VpgNBytes)
}
