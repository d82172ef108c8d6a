package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aurora-unicycler/unicycler/core/document"
	"github.com/aurora-unicycler/unicycler/core/protofmt"
	"github.com/aurora-unicycler/unicycler/core/resolve"
)

func newValidateCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a protocol file against the schema and structural rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := document.Load(file, nil)
			if err != nil {
				return err
			}
			resolved, err := resolve.Tags(p.Method)
			if err != nil {
				return err
			}
			if err := resolve.CheckNesting(resolved); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d steps, %d after tag resolution)\n",
				file, len(p.Method), len(resolved))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the protocol file (.json, .yaml)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newFingerprintCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the canonical fingerprint of a protocol file",
		Long: "Print the canonical fingerprint of a protocol file.\n\n" +
			"The fingerprint is computed over the resolved step sequence, so two\n" +
			"documents that differ only in tag names or formatting share one\n" +
			"fingerprint.",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := document.Load(file, nil)
			if err != nil {
				return err
			}
			fp, err := protofmt.Fingerprint(p)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), fp)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the protocol file (.json, .yaml)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
