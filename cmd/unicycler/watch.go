package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/aurora-unicycler/unicycler/formats/export"
)

func newWatchCmd() *cobra.Command {
	var (
		file        string
		format      string
		output      string
		sampleName  string
		capacityMAh float64
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-convert a protocol file whenever it changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := renderers[format]; !ok {
				return unknownFormatError(format)
			}
			o := export.Options{SampleName: sampleName, CapacityMAh: capacityMAh}

			reconvert := func() {
				out, err := convert(file, format, o)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", file, err)
					return
				}
				if err := os.WriteFile(output, out, 0o644); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", output, err)
					return
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()

			// Watch the directory, not the file: editors replace files
			// on save, which drops a watch on the file itself.
			if err := watcher.Add(filepath.Dir(file)); err != nil {
				return err
			}

			reconvert()
			target, err := filepath.Abs(file)
			if err != nil {
				return err
			}
			for {
				select {
				case ev, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					name, err := filepath.Abs(ev.Name)
					if err != nil || name != target {
						continue
					}
					if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
						reconvert()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "watch: %v\n", err)
				}
			}
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the protocol file (.json, .yaml)")
	cmd.Flags().StringVar(&format, "format", "", "Target format: "+joinFormats())
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file path")
	cmd.Flags().StringVar(&sampleName, "sample-name", "", "Override the protocol sample name")
	cmd.Flags().Float64Var(&capacityMAh, "capacity-mah", 0, "Override the sample capacity in mAh")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("format")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}
