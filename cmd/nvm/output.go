package main

import (
	"bufio"
	"fmt"
	"io"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/urfave/cli/v2"
)

// writeJSON encodes obj with tab indentation and a trailing newline
func writeJSON(w io.Writer, obj any) (err error) {
	buffer := bufio.NewWriter(w)
	defer func() {
		if _err := buffer.Flush(); err == nil && _err != nil {
			err = _err
		}
	}()
	return lowmemjson.Encode(&lowmemjson.ReEncoder{
		Out: buffer,

		Indent:                "\t",
		ForceTrailingNewlines: true,
	}, obj)
}

// emit prints obj as JSON when --json is set, otherwise calls text
func emit(c *cli.Context, obj any, text func(w io.Writer)) error {
	if c.Bool("json") {
		return writeJSON(c.App.Writer, obj)
	}
	text(c.App.Writer)
	return nil
}

func printf(c *cli.Context, format string, args ...any) {
	fmt.Fprintf(c.App.Writer, format, args...)
}
