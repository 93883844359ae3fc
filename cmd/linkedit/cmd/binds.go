package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/appsworld/go-linkedit"
	"github.com/appsworld/go-linkedit/pkg/dyldinfo"
)

func init() {
	rootCmd.AddCommand(bindsCmd)
	bindsCmd.Flags().StringP("kind", "k", "normal", "Bind stream to decode (normal, weak or lazy)")
	bindsCmd.Flags().Bool("ops", false, "Print the raw opcodes instead of the bound slots")
	viper.BindPFlag("binds.kind", bindsCmd.Flags().Lookup("kind"))
	viper.BindPFlag("binds.ops", bindsCmd.Flags().Lookup("ops"))
}

type bindRecord struct {
	Address string `json:"address" yaml:"address" plist:"address"`
	Segment string `json:"segment" yaml:"segment" plist:"segment"`
	Offset  string `json:"offset" yaml:"offset" plist:"offset"`
	Name    string `json:"name" yaml:"name" plist:"name"`
	Dylib   string `json:"dylib" yaml:"dylib" plist:"dylib"`
	Addend  int64  `json:"addend,omitempty" yaml:"addend,omitempty" plist:"addend,omitempty"`
	Weak    bool   `json:"weak,omitempty" yaml:"weak,omitempty" plist:"weak,omitempty"`
}

// slotAddress maps a segment index and offset from an opcode stream to a segment name and VM address
func slotAddress(m *macho.File, segIndex uint8, segOffset uint64) (string, uint64) {
	segs := m.Segments()
	if int(segIndex) >= len(segs) {
		return fmt.Sprintf("seg[%d]", segIndex), segOffset
	}
	return segs[segIndex].Name, segs[segIndex].Addr + segOffset
}

// bindsCmd represents the binds command
var bindsCmd = &cobra.Command{
	Use:   "binds <MACHO>",
	Short: "Decode the LC_DYLD_INFO bind opcodes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := dyldinfo.ParseBindKind(viper.GetString("binds.kind"))
		if err != nil {
			return err
		}

		m, err := macho.Open(args[0])
		if err != nil {
			return err
		}
		defer m.Close()

		if viper.GetBool("binds.ops") {
			ops, err := m.BindOperations(kind)
			if err != nil {
				return err
			}
			var lines []string
			for _, op := range ops {
				lines = append(lines, op.String())
			}
			return render(cmd.OutOrStdout(), lines, func(w io.Writer) error {
				fileHeader(w, args[0])
				for _, op := range ops {
					fmt.Fprintf(w, "%s  %s\n", colorAddr("%#06x", op.Pos), op)
				}
				return nil
			})
		}

		binds, err := m.Bindings(kind)
		if err != nil {
			return err
		}
		var records []bindRecord
		for _, b := range binds {
			seg, addr := slotAddress(m, b.SegIndex, b.SegOffset)
			records = append(records, bindRecord{
				Address: hex(addr),
				Segment: seg,
				Offset:  hex(b.SegOffset),
				Name:    b.Name,
				Dylib:   m.LibraryOrdinalName(int(b.Ordinal)),
				Addend:  b.Addend,
				Weak:    b.WeakImport(),
			})
		}

		return render(cmd.OutOrStdout(), records, func(w io.Writer) error {
			fileHeader(w, args[0])
			for _, r := range records {
				fmt.Fprintf(w, "%s  %-12s %s\t%s", colorAddr("%s", r.Address), r.Segment, colorName(r.Name), colorKind(r.Dylib))
				if r.Addend != 0 {
					fmt.Fprintf(w, " + %d", r.Addend)
				}
				if r.Weak {
					fmt.Fprint(w, colorWarn(" (weak)"))
				}
				fmt.Fprintln(w)
			}
			return nil
		})
	},
}
