package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mixbridge/internal/codec"
	"mixbridge/internal/domain"
	"mixbridge/internal/repository/sqlite"
)

var (
	exportFormat string
	importFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export the saved project",
	Long: `Export the project saved in the database, or the one the config file
seeds if nothing was saved yet. Writes to stdout unless a file is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer repo.Close()

		p, err := initialProject(cmd.Context(), repo, cfg)
		if err != nil {
			return err
		}

		var (
			w io.Writer = cmd.OutOrStdout()
			c codec.Exporter
		)
		if len(args) == 1 {
			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("create %s: %w", args[0], err)
			}
			defer f.Close()
			w = f
			c = codec.ForPath(args[0])
		}
		if exportFormat != "" {
			if c, err = codec.ForFormat(exportFormat); err != nil {
				return err
			}
		}
		if c == nil {
			c = codec.NewYAMLCodec()
		}
		return c.Export(p, w)
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the saved project with one read from a file",
	Long: `Parse a project file and replace the project saved in the database.
The next run restores it. Use "-" to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			r io.Reader = cmd.InOrStdin()
			c codec.Importer
		)
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()
			r = f
			c = codec.ForPath(args[0])
		}
		if importFormat != "" {
			var err error
			if c, err = codec.ForFormat(importFormat); err != nil {
				return err
			}
		}
		if c == nil {
			c = codec.NewYAMLCodec()
		}

		p, err := c.Parse(r)
		if err != nil {
			return err
		}
		if err := checkImport(p); err != nil {
			return err
		}

		repo, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.SaveProject(cmd.Context(), p); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d entities, %d protocols, mode %s\n",
			len(p.Entities), len(p.Protocols), p.Topology.Mode)
		return nil
	},
}

// checkImport rejects mute lists for protocols the project does not declare
func checkImport(p *domain.Project) error {
	declared := make(map[domain.ProtocolID]bool, len(p.Protocols))
	for _, spec := range p.Protocols {
		declared[spec.ID] = true
	}
	for id := range p.Mutes {
		if !declared[id] {
			return fmt.Errorf("mutes of %s: %w", id, domain.ErrUnknownProtocol)
		}
	}
	return nil
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "output format: yaml or json (default from file extension, else yaml)")
	importCmd.Flags().StringVarP(&importFormat, "format", "f", "", "input format: yaml or json (default from file extension, else yaml)")
}
