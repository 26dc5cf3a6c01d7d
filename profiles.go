package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/jacobedelsonuw/visionboard-ai/imagegen"

	"github.com/spf13/cobra"
)

func newProfilesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "Show the generation parameters per backend and quality",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			table, err := imagegen.LoadProfiles(cfg.QualityProfilesFile)
			if err != nil {
				return err
			}
			printProfiles(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

func printProfiles(out io.Writer, t imagegen.ProfileTable) {
	backends := make([]string, 0, len(t))
	for name := range t {
		backends = append(backends, name)
	}
	sort.Strings(backends)

	var rows [][]string
	for _, name := range backends {
		levels := make([]imagegen.Quality, 0, len(t[name]))
		for q := range t[name] {
			levels = append(levels, q)
		}
		sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

		for _, q := range levels {
			p := t[name][q]
			rows = append(rows, []string{
				name,
				q.String(),
				fmt.Sprintf("%dx%d", p.Width, p.Height),
				strconv.Itoa(p.Steps),
				strconv.FormatFloat(p.Guidance, 'f', -1, 64),
				p.Sampler,
				p.ImageQuality,
			})
		}
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Backend", "Quality", "Size", "Steps", "Guidance", "Sampler", "Image Quality"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
	))
}
