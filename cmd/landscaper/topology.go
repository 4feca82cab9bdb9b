package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"landscaper/internal/codec"
	"landscaper/internal/topology"
)

func newTopologyCmd(a *app) *cobra.Command {
	var (
		format  string
		cpuinfo string
		host    string
		filter  []string
	)
	cmd := &cobra.Command{
		Use:   "topology HWLOC_FILE",
		Short: "Build one host's topology graph and print it without touching the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if host == "" {
				host = hostFromFile(path)
			}
			if !cmd.Flags().Changed("filter") {
				filter = a.cfg.PhysicalLayer.TypesToFilter
			}

			exp, err := codec.ForFormat(format)
			if err != nil {
				return err
			}

			hwloc, err := os.Open(path)
			if err != nil {
				return err
			}
			defer hwloc.Close()

			var procs io.Reader
			if cpuinfo != "" {
				f, err := os.Open(cpuinfo)
				if err != nil {
					return err
				}
				defer f.Close()
				procs = f
			}

			b := topology.NewBuilder(a.logger.Named("topology"), topology.WithFilter(filter...))
			g, err := b.Build(host, hwloc, procs)
			if err != nil {
				return err
			}
			out, err := g.ToDomain(time.Now().Unix())
			if err != nil {
				return fmt.Errorf("convert %s: %w", host, err)
			}
			return exp.Export(out, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or yaml")
	cmd.Flags().StringVar(&cpuinfo, "cpuinfo", "", "/proc/cpuinfo dump used to enrich processing units")
	cmd.Flags().StringVar(&host, "host", "", "host name (default: derived from {host}_hwloc.xml)")
	cmd.Flags().StringSliceVar(&filter, "filter", nil, "component types to bypass (default: physical_layer.types_to_filter)")
	return cmd
}

func hostFromFile(path string) string {
	if host, ok := topology.MachineFromPath(path); ok {
		return host
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
