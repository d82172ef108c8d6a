package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/spf13/cobra"

	"github.com/aurora-unicycler/unicycler/core/document"
	"github.com/aurora-unicycler/unicycler/core/protocol"
	"github.com/aurora-unicycler/unicycler/formats/battinfo"
	"github.com/aurora-unicycler/unicycler/formats/biologic"
	"github.com/aurora-unicycler/unicycler/formats/export"
	"github.com/aurora-unicycler/unicycler/formats/neware"
	"github.com/aurora-unicycler/unicycler/formats/pybamm"
	"github.com/aurora-unicycler/unicycler/formats/tomato"
)

// renderers maps format names to their exporters. Overrides are applied
// by the exporters themselves, so the protocol passed in is the stored
// document as-is.
var renderers = map[string]func(p *protocol.Protocol, o export.Options) ([]byte, error){
	"neware": neware.Export,
	"biologic": func(p *protocol.Protocol, o export.Options) ([]byte, error) {
		s, err := biologic.Export(p, o)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	},
	"tomato": func(p *protocol.Protocol, o export.Options) ([]byte, error) {
		return tomato.Export(p, o, tomato.DefaultOutputPath)
	},
	"pybamm": func(p *protocol.Protocol, o export.Options) ([]byte, error) {
		steps, err := pybamm.Export(p, o)
		if err != nil {
			return nil, err
		}
		return append([]byte(strings.Join(steps, "\n")), '\n'), nil
	},
	"battinfo": func(p *protocol.Protocol, o export.Options) ([]byte, error) {
		doc, err := battinfo.Export(p, o, true)
		if err != nil {
			return nil, err
		}
		out, err := json.MarshalIndent(doc, "", "    ")
		if err != nil {
			return nil, err
		}
		return append(out, '\n'), nil
	},
}

func newConvertCmd() *cobra.Command {
	var (
		file        string
		format      string
		output      string
		sampleName  string
		capacityMAh float64
	)

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a protocol file to an instrument format",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := convert(file, format, export.Options{
				SampleName:  sampleName,
				CapacityMAh: capacityMAh,
			})
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
				return err
			}
			return os.WriteFile(output, out, 0o644)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the protocol file (.json, .yaml)")
	cmd.Flags().StringVar(&format, "format", "", "Target format: "+joinFormats())
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file path (default stdout)")
	cmd.Flags().StringVar(&sampleName, "sample-name", "", "Override the protocol sample name")
	cmd.Flags().Float64Var(&capacityMAh, "capacity-mah", 0, "Override the sample capacity in mAh")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("format")

	return cmd
}

func convert(file, format string, o export.Options) ([]byte, error) {
	render, ok := renderers[format]
	if !ok {
		return nil, unknownFormatError(format)
	}
	p, err := document.Load(file, nil)
	if err != nil {
		return nil, err
	}
	return render(p, o)
}

func formatNames() []string {
	names := make([]string, 0, len(renderers))
	for name := range renderers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func joinFormats() string {
	return strings.Join(formatNames(), ", ")
}

// unknownFormatError suggests close matches so a typo like "newar"
// points at "neware" instead of a bare list.
func unknownFormatError(format string) error {
	ranks := fuzzy.RankFindNormalizedFold(format, formatNames())
	sort.Sort(ranks)
	if len(ranks) > 0 {
		suggestions := make([]string, len(ranks))
		for i, r := range ranks {
			suggestions[i] = r.Target
		}
		return fmt.Errorf("unknown format %q (did you mean %s?)",
			format, strings.Join(suggestions, " or "))
	}
	return fmt.Errorf("unknown format %q, supported formats: %s", format, joinFormats())
}
