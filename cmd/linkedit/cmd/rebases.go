package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/appsworld/go-linkedit"
)

func init() {
	rootCmd.AddCommand(rebasesCmd)
	rebasesCmd.Flags().Bool("ops", false, "Print the raw opcodes instead of the rebased slots")
	viper.BindPFlag("rebases.ops", rebasesCmd.Flags().Lookup("ops"))
}

type rebaseRecord struct {
	Address string `json:"address" yaml:"address" plist:"address"`
	Segment string `json:"segment" yaml:"segment" plist:"segment"`
	Offset  string `json:"offset" yaml:"offset" plist:"offset"`
	Type    uint8  `json:"type" yaml:"type" plist:"type"`
}

// rebasesCmd represents the rebases command
var rebasesCmd = &cobra.Command{
	Use:   "rebases <MACHO>",
	Short: "Decode the LC_DYLD_INFO rebase opcodes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := macho.Open(args[0])
		if err != nil {
			return err
		}
		defer m.Close()

		if viper.GetBool("rebases.ops") {
			ops, err := m.RebaseOperations()
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

		rebases, err := m.Rebases()
		if err != nil {
			return err
		}
		var records []rebaseRecord
		for _, r := range rebases {
			seg, addr := slotAddress(m, r.SegIndex, r.SegOffset)
			records = append(records, rebaseRecord{
				Address: hex(addr),
				Segment: seg,
				Offset:  hex(r.SegOffset),
				Type:    r.Type,
			})
		}

		return render(cmd.OutOrStdout(), records, func(w io.Writer) error {
			fileHeader(w, args[0])
			for _, r := range records {
				fmt.Fprintf(w, "%s  %-12s type %d\n", colorAddr("%s", r.Address), r.Segment, r.Type)
			}
			fmt.Fprintf(w, "%d rebases\n", len(records))
			return nil
		})
	},
}
