package cmd

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/appsworld/go-linkedit/pkg/slide"
	"github.com/appsworld/go-linkedit/types"
)

func init() {
	rootCmd.AddCommand(slideCmd)
	slideCmd.Flags().Uint32("version", 0, "Slide info version of the mapping (0-5)")
	slideCmd.Flags().String("shared-region-start", "0x180000000", "Unslid load address of the shared cache")
	slideCmd.Flags().String("value-add", "0", "value_add of v2/v4 slide info")
	slideCmd.Flags().String("slide-info", "", "File offset of a slide info header to read instead of --version/--value-add")
	slideCmd.Flags().Bool("32", false, "Mapping holds 32-bit pointers (version 0 only)")
	viper.BindPFlag("slide.version", slideCmd.Flags().Lookup("version"))
	viper.BindPFlag("slide.shared-region-start", slideCmd.Flags().Lookup("shared-region-start"))
	viper.BindPFlag("slide.value-add", slideCmd.Flags().Lookup("value-add"))
	viper.BindPFlag("slide.slide-info", slideCmd.Flags().Lookup("slide-info"))
	viper.BindPFlag("slide.32", slideCmd.Flags().Lookup("32"))
}

// slideMapping builds the single mapping covering the whole blob
func slideMapping(src types.Source, start uint64) (slide.Mapping, error) {
	m := slide.Mapping{
		Address: start,
		Size:    uint64(src.Size()),
	}

	if off := viper.GetString("slide.slide-info"); off != "" {
		infoOff, err := parseUint(off, "slide info offset")
		if err != nil {
			return m, err
		}
		info, err := slide.Parse(src, int64(infoOff), binary.LittleEndian)
		if err != nil {
			return m, err
		}
		m.Version = slide.Version(info.GetVersion())
		m.Info = info
		log.WithFields(log.Fields{
			"version":  m.Version,
			"pagesize": info.GetPageSize(),
		}).Debug("read slide info")
		return m, nil
	}

	m.Version = slide.Version(viper.GetUint32("slide.version"))
	if !m.Version.Known() {
		return m, errors.Wrapf(slide.ErrUnknownVersion, "--version %d", uint32(m.Version))
	}
	add, err := parseUint(viper.GetString("slide.value-add"), "value add")
	if err != nil {
		return m, err
	}
	switch m.Version {
	case slide.V2:
		m.Info = slide.SlideInfoV2{Version: uint32(slide.V2), ValueAdd: add}
	case slide.V4:
		m.Info = slide.SlideInfoV4{Version: uint32(slide.V4), ValueAdd: add}
	}
	return m, nil
}

type slideOutput struct {
	Offset  string `json:"offset" yaml:"offset" plist:"offset"`
	Version string `json:"version" yaml:"version" plist:"version"`
	Value   string `json:"value,omitempty" yaml:"value,omitempty" plist:"value,omitempty"`
	Null    bool   `json:"null,omitempty" yaml:"null,omitempty" plist:"null,omitempty"`
}

// slideCmd represents the slide command
var slideCmd = &cobra.Command{
	Use:   "slide <BLOB> <OFFSET>...",
	Short: "Resolve rebased shared cache slots in a mapping blob",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := parseUint(viper.GetString("slide.shared-region-start"), "shared region start")
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return errors.Wrapf(err, "failed to open %s", args[0])
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			return errors.Wrapf(err, "failed to stat %s", args[0])
		}
		src := io.NewSectionReader(f, 0, fi.Size())

		mapping, err := slideMapping(src, start)
		if err != nil {
			return err
		}
		r := &slide.Resolver{
			Source:            src,
			SharedRegionStart: start,
			Is64:              !viper.GetBool("slide.32"),
			Mappings:          []slide.Mapping{mapping},
		}

		var results []slideOutput
		for _, arg := range args[1:] {
			off, err := parseUint(arg, "offset")
			if err != nil {
				return err
			}
			value, ok, err := r.ResolveOptionalRebase(off)
			if err != nil {
				return err
			}
			out := slideOutput{Offset: hex(off), Version: mapping.Version.String(), Null: !ok}
			if ok {
				out.Value = hex(value)
			}
			results = append(results, out)
		}

		return render(cmd.OutOrStdout(), results, func(w io.Writer) error {
			fileHeader(w, args[0])
			for _, out := range results {
				if out.Null {
					fmt.Fprintf(w, "%s  %s  %s\n", colorAddr("%s", out.Offset), colorKind(out.Version), colorWarn("(null pointer)"))
					continue
				}
				fmt.Fprintf(w, "%s  %s  -> %s\n", colorAddr("%s", out.Offset), colorKind(out.Version), out.Value)
			}
			return nil
		})
	},
}
