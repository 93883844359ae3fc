package cmd

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/appsworld/go-linkedit"
	"github.com/appsworld/go-linkedit/pkg/fixupchains"
)

func init() {
	rootCmd.AddCommand(resolveCmd)
}

type resolveOutput struct {
	Offset  string `json:"offset" yaml:"offset" plist:"offset"`
	Kind    string `json:"kind" yaml:"kind" plist:"kind"`
	Target  string `json:"target,omitempty" yaml:"target,omitempty" plist:"target,omitempty"`
	Address string `json:"address,omitempty" yaml:"address,omitempty" plist:"address,omitempty"`
	Symbol  string `json:"symbol,omitempty" yaml:"symbol,omitempty" plist:"symbol,omitempty"`
	Dylib   string `json:"dylib,omitempty" yaml:"dylib,omitempty" plist:"dylib,omitempty"`
	Addend  int64  `json:"addend,omitempty" yaml:"addend,omitempty" plist:"addend,omitempty"`
}

// resolveCmd represents the resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve <MACHO> <OFFSET>",
	Short: "Resolve the chained fixup stored at a file offset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		off, err := parseUint(args[1], "offset")
		if err != nil {
			return err
		}

		m, err := macho.Open(args[0])
		if err != nil {
			return err
		}
		defer m.Close()

		out := resolveOutput{Offset: hex(off)}

		target, ok, err := m.ResolveOptionalRebase(off)
		switch {
		case err == nil && !ok:
			out.Kind = "null"
		case err == nil:
			out.Kind = "rebase"
			out.Target = hex(target)
			out.Address = hex(m.GetBaseAddress() + target)
		case errors.Is(err, fixupchains.ErrNotRebase):
			imp, addend, err := m.ResolveBind(off)
			if err != nil {
				return err
			}
			out.Kind = "bind"
			out.Symbol = imp.Name
			out.Dylib = m.LibraryOrdinalName(imp.LibOrdinal)
			out.Addend = addend
		default:
			return err
		}

		return render(cmd.OutOrStdout(), out, func(w io.Writer) error {
			fmt.Fprintf(w, "%s  %s", colorAddr("%s", out.Offset), colorKind(out.Kind))
			switch out.Kind {
			case "null":
				fmt.Fprint(w, colorWarn("  (null pointer)"))
			case "rebase":
				fmt.Fprintf(w, "  -> %s (base+%s)", out.Address, out.Target)
			case "bind":
				fmt.Fprintf(w, "  -> %s\t%s", colorName(out.Symbol), out.Dylib)
				if out.Addend != 0 {
					fmt.Fprintf(w, " + %d", out.Addend)
				}
			}
			fmt.Fprintln(w)
			return nil
		})
	},
}
