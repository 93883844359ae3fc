package cmd

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/appsworld/go-linkedit"
	"github.com/appsworld/go-linkedit/pkg/trie"
)

func init() {
	rootCmd.AddCommand(exportsCmd)
	exportsCmd.Flags().StringP("prefix", "p", "", "Only list exports starting with prefix")
	exportsCmd.Flags().StringP("search", "s", "", "Look up a single exported symbol")
	exportsCmd.Flags().Bool("root-padding", false, "Export trie root reserves 5 bytes per child offset")
	exportsCmd.MarkFlagsMutuallyExclusive("prefix", "search")
	viper.BindPFlag("exports.prefix", exportsCmd.Flags().Lookup("prefix"))
	viper.BindPFlag("exports.search", exportsCmd.Flags().Lookup("search"))
	viper.BindPFlag("exports.root-padding", exportsCmd.Flags().Lookup("root-padding"))
}

type exportRecord struct {
	Name     string `json:"name" yaml:"name" plist:"name"`
	Address  string `json:"address,omitempty" yaml:"address,omitempty" plist:"address,omitempty"`
	Flags    string `json:"flags" yaml:"flags" plist:"flags"`
	Resolver string `json:"resolver,omitempty" yaml:"resolver,omitempty" plist:"resolver,omitempty"`
	ReExport string `json:"reexport,omitempty" yaml:"reexport,omitempty" plist:"reexport,omitempty"`
	Dylib    string `json:"dylib,omitempty" yaml:"dylib,omitempty" plist:"dylib,omitempty"`
}

type exportsOutput struct {
	File    string         `json:"file" yaml:"file" plist:"file"`
	Exports []exportRecord `json:"exports" yaml:"exports" plist:"exports"`
}

func newExportRecord(m *macho.File, e trie.TrieEntry) exportRecord {
	r := exportRecord{Name: e.Name, Flags: e.Flags.String()}
	switch {
	case e.Flags.ReExport():
		r.ReExport = e.ReExport
		if r.ReExport == "" {
			r.ReExport = e.Name
		}
		r.Dylib = m.LibraryOrdinalName(int(e.Ordinal))
	case e.Flags.StubAndResolver():
		r.Address = hex(e.Address)
		r.Resolver = hex(e.Other)
	case e.Flags.StaticResolver():
		r.Address = hex(e.Address)
		r.Resolver = e.Imported
	default:
		r.Address = hex(e.Address)
	}
	return r
}

func lookupExports(path string) (*exportsOutput, error) {
	m, err := macho.Open(path, macho.FileConfig{
		RootPaddedExportTrie: viper.GetBool("exports.root-padding"),
	})
	if err != nil {
		return nil, err
	}
	defer m.Close()

	var entries []trie.TrieEntry
	switch {
	case viper.GetString("exports.search") != "":
		e, err := m.FindExport(viper.GetString("exports.search"))
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	case viper.GetString("exports.prefix") != "":
		entries, err = m.ExportsWithPrefix(viper.GetString("exports.prefix"))
	default:
		entries, err = m.Exports()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read exports of %s", path)
	}

	out := &exportsOutput{File: path}
	for _, e := range entries {
		out.Exports = append(out.Exports, newExportRecord(m, e))
	}
	return out, nil
}

// exportsCmd represents the exports command
var exportsCmd = &cobra.Command{
	Use:   "exports <MACHO>...",
	Short: "List symbols from the export trie",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var all []*exportsOutput
		for _, path := range args {
			out, err := lookupExports(path)
			if err != nil {
				return err
			}
			all = append(all, out)
		}

		return render(cmd.OutOrStdout(), all, func(w io.Writer) error {
			for _, out := range all {
				fileHeader(w, out.File)
				for _, e := range out.Exports {
					switch {
					case e.ReExport != "":
						fmt.Fprintf(w, "%18s  %s -> %s (%s)\n", "", colorName(e.Name), e.ReExport, e.Dylib)
					case e.Resolver != "":
						fmt.Fprintf(w, "%s  %s\t%s %s\n", colorAddr("%s", e.Address), colorName(e.Name), colorKind("resolver"), e.Resolver)
					default:
						fmt.Fprintf(w, "%s  %s\t%s\n", colorAddr("%s", e.Address), colorName(e.Name), colorKind(e.Flags))
					}
				}
			}
			return nil
		})
	},
}
