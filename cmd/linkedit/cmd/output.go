package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	"howett.net/plist"
)

var (
	colorAddr  = color.New(color.Faint).SprintfFunc()
	colorName  = color.New(color.Bold).SprintFunc()
	colorKind  = color.New(color.FgHiBlue).SprintFunc()
	colorImage = color.New(color.Bold, color.FgHiMagenta).SprintFunc()
	colorWarn  = color.New(color.FgYellow).SprintFunc()
)

// render writes v in the selected --format, text falls back to the command's own printer
func render(w io.Writer, v any, text func(io.Writer) error) error {
	switch format := viper.GetString("format"); format {
	case "", "text":
		return text(w)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "plist":
		enc := plist.NewEncoderForFormat(w, plist.XMLFormat)
		enc.Indent("\t")
		if err := enc.Encode(v); err != nil {
			return err
		}
		_, err := fmt.Fprintln(w)
		return err
	default:
		return errors.Errorf("unknown format %q (expected text, json, yaml or plist)", format)
	}
}

func hex(v uint64) string { return fmt.Sprintf("%#x", v) }

func parseUint(s, what string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s %q", what, s)
	}
	return v, nil
}

// fileHeader prints the banner shown above each file's text output
func fileHeader(w io.Writer, path string) {
	if fi, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "%s (%s)\n", colorImage(path), humanize.Bytes(uint64(fi.Size())))
		return
	}
	fmt.Fprintln(w, colorImage(path))
}
