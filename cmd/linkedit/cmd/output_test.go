package cmd

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type sample struct {
	Name    string `json:"name" yaml:"name" plist:"name"`
	Address string `json:"address" yaml:"address" plist:"address"`
}

func TestRender(t *testing.T) {
	v := sample{Name: "_main", Address: "0x100003f50"}
	text := func(w io.Writer) error {
		_, err := io.WriteString(w, "_main at 0x100003f50\n")
		return err
	}

	tests := []struct {
		format  string
		want    string
		wantErr bool
	}{
		{format: "", want: "_main at 0x100003f50\n"},
		{format: "text", want: "_main at 0x100003f50\n"},
		{format: "json", want: "{\n  \"name\": \"_main\",\n  \"address\": \"0x100003f50\"\n}\n"},
		{format: "yaml", want: "name: _main\naddress: \"0x100003f50\"\n"},
		{format: "toml", wantErr: true},
	}
	t.Cleanup(func() { rootCmd.PersistentFlags().Set("format", "text") })

	for _, tt := range tests {
		t.Run("format="+tt.format, func(t *testing.T) {
			rootCmd.PersistentFlags().Set("format", tt.format)
			var buf bytes.Buffer
			err := render(&buf, v, text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("render() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want, buf.String()); diff != "" {
				t.Errorf("render() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRenderPlist(t *testing.T) {
	rootCmd.PersistentFlags().Set("format", "plist")
	t.Cleanup(func() { rootCmd.PersistentFlags().Set("format", "text") })

	var buf bytes.Buffer
	if err := render(&buf, sample{Name: "_main", Address: "0x10"}, nil); err != nil {
		t.Fatalf("render() error = %v", err)
	}
	for _, want := range []string{"<plist", "<key>name</key>", "<string>_main</string>", "<key>address</key>"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("render() = %q, missing %q", buf.String(), want)
		}
	}
}

func TestParseUint(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "0x4018", want: 0x4018},
		{in: "16", want: 16},
		{in: "0o20", want: 16},
		{in: "0xffffffffffffffff", want: 1<<64 - 1},
		{in: "-1", wantErr: true},
		{in: "0x", wantErr: true},
		{in: "slot", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseUint(tt.in, "offset")
		if (err != nil) != tt.wantErr {
			t.Errorf("parseUint(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseUint(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}
