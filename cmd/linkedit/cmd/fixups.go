package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/apex/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/appsworld/go-linkedit"
	"github.com/appsworld/go-linkedit/pkg/fixupchains"
)

func init() {
	rootCmd.AddCommand(fixupsCmd)
	fixupsCmd.Flags().Bool("imports", false, "Only print the imports table")
	fixupsCmd.Flags().IntP("jobs", "j", 4, "Number of images decoded at once")
	viper.BindPFlag("fixups.imports", fixupsCmd.Flags().Lookup("imports"))
	viper.BindPFlag("fixups.jobs", fixupsCmd.Flags().Lookup("jobs"))
}

type fixupRecord struct {
	Offset  string `json:"offset" yaml:"offset" plist:"offset"`
	Segment int    `json:"segment" yaml:"segment" plist:"segment"`
	Kind    string `json:"kind" yaml:"kind" plist:"kind"`
	Raw     string `json:"raw" yaml:"raw" plist:"raw"`
	Target  string `json:"target,omitempty" yaml:"target,omitempty" plist:"target,omitempty"`
	Symbol  string `json:"symbol,omitempty" yaml:"symbol,omitempty" plist:"symbol,omitempty"`
	Addend  int64  `json:"addend,omitempty" yaml:"addend,omitempty" plist:"addend,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty" plist:"error,omitempty"`
}

type importRecord struct {
	Ordinal int    `json:"ordinal" yaml:"ordinal" plist:"ordinal"`
	Name    string `json:"name" yaml:"name" plist:"name"`
	Dylib   string `json:"dylib" yaml:"dylib" plist:"dylib"`
	Addend  int64  `json:"addend,omitempty" yaml:"addend,omitempty" plist:"addend,omitempty"`
	Weak    bool   `json:"weak,omitempty" yaml:"weak,omitempty" plist:"weak,omitempty"`
}

type fixupsOutput struct {
	Path    string         `json:"path" yaml:"path" plist:"path"`
	Imports []importRecord `json:"imports" yaml:"imports" plist:"imports"`
	Fixups  []fixupRecord  `json:"fixups,omitempty" yaml:"fixups,omitempty" plist:"fixups,omitempty"`
}

func decodeFixups(path string, importsOnly bool) (*fixupsOutput, error) {
	m, err := macho.Open(path)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	dcf, err := m.ChainedFixups()
	if err != nil {
		return nil, err
	}

	out := &fixupsOutput{Path: path}
	for i, imp := range dcf.Imports {
		out.Imports = append(out.Imports, importRecord{
			Ordinal: i,
			Name:    imp.Name,
			Dylib:   m.LibraryOrdinalName(imp.LibOrdinal),
			Addend:  imp.Addend,
			Weak:    imp.WeakImport,
		})
	}
	if importsOnly {
		return out, nil
	}

	ptrs, err := m.ChainedPointers()
	if err != nil {
		return nil, err
	}
	base := m.GetBaseAddress()
	for _, p := range ptrs {
		rec := fixupRecord{
			Offset:  hex(p.Offset),
			Segment: p.SegIndex,
			Kind:    p.Kind(),
			Raw:     fmt.Sprintf("%#016x", p.Raw),
		}
		if bind, ok := p.Content.(fixupchains.Bind); ok && bind.IsBind() {
			imp, err := dcf.Import(bind.Ordinal())
			if err != nil {
				rec.Error = err.Error()
			} else {
				rec.Symbol = imp.Name
				rec.Addend = imp.Addend + bind.Addend()
			}
		} else {
			target, err := fixupchains.RebaseTargetRuntimeOffset(p, base, m)
			if err != nil {
				rec.Error = err.Error()
			} else {
				rec.Target = hex(base + target)
			}
		}
		out.Fixups = append(out.Fixups, rec)
	}

	return out, nil
}

// fixupsCmd represents the fixups command
var fixupsCmd = &cobra.Command{
	Use:   "fixups <MACHO>...",
	Short: "Walk the LC_DYLD_CHAINED_FIXUPS chains",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		importsOnly := viper.GetBool("fixups.imports")

		results := make([]*fixupsOutput, len(args))
		g, ctx := errgroup.WithContext(context.Background())
		g.SetLimit(max(viper.GetInt("fixups.jobs"), 1))
		for i, path := range args {
			i, path := i, path
			g.Go(func() error {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				out, err := decodeFixups(path, importsOnly)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				log.WithFields(log.Fields{
					"path":    path,
					"imports": len(out.Imports),
					"fixups":  len(out.Fixups),
				}).Debug("decoded fixups")
				results[i] = out
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		return render(cmd.OutOrStdout(), results, func(w io.Writer) error {
			for _, out := range results {
				fileHeader(w, out.Path)
				fmt.Fprintf(w, "imports (%d):\n", len(out.Imports))
				for _, imp := range out.Imports {
					fmt.Fprintf(w, "  %4d  %s\t%s", imp.Ordinal, colorName(imp.Name), colorKind(imp.Dylib))
					if imp.Addend != 0 {
						fmt.Fprintf(w, " + %d", imp.Addend)
					}
					if imp.Weak {
						fmt.Fprint(w, colorWarn(" (weak)"))
					}
					fmt.Fprintln(w)
				}
				if importsOnly {
					continue
				}
				fmt.Fprintf(w, "fixups (%d):\n", len(out.Fixups))
				for _, f := range out.Fixups {
					fmt.Fprintf(w, "  %s  seg[%d] %-11s %s", colorAddr("%s", f.Offset), f.Segment, colorKind(f.Kind), f.Raw)
					switch {
					case f.Error != "":
						fmt.Fprintf(w, "  %s", colorWarn(f.Error))
					case f.Symbol != "":
						fmt.Fprintf(w, "  -> %s", colorName(f.Symbol))
						if f.Addend != 0 {
							fmt.Fprintf(w, " + %d", f.Addend)
						}
					default:
						fmt.Fprintf(w, "  -> %s", f.Target)
					}
					fmt.Fprintln(w)
				}
			}
			return nil
		})
	},
}
