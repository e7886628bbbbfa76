package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"admission-gateway/internal/config"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type policyRow struct {
	Name   string   `json:"name" yaml:"name"`
	Limit  int      `json:"limit" yaml:"limit"`
	Window string   `json:"window" yaml:"window"`
	Routes []string `json:"routes,omitempty" yaml:"routes,omitempty"`
}

func newPoliciesCmd(opts *rootOptions) *cobra.Command {
	var output string

	c := &cobra.Command{
		Use:   "policies",
		Short: "Mostra as políticas efetivas e as rotas que usam cada uma",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			rows, err := policyRows(cfg)
			if err != nil {
				return err
			}
			return renderPolicies(cmd.OutOrStdout(), rows, output)
		},
	}
	c.Flags().StringVarP(&output, "output", "o", "table", "formato de saída: table ou yaml")
	return c
}

func policyRows(cfg config.Config) ([]policyRow, error) {
	policies, err := cfg.EffectivePolicies()
	if err != nil {
		return nil, err
	}
	routes, err := cfg.EffectiveRoutes()
	if err != nil {
		return nil, err
	}

	byPolicy := map[string][]string{}
	for _, rt := range routes {
		byPolicy[rt.Policy] = append(byPolicy[rt.Policy], rt.Prefix)
	}

	rows := make([]policyRow, 0, len(policies))
	for _, name := range policies.Names() {
		p := policies[name]
		prefixes := byPolicy[name]
		sort.Strings(prefixes)
		rows = append(rows, policyRow{
			Name:   name,
			Limit:  p.Limit,
			Window: p.Window.String(),
			Routes: prefixes,
		})
	}
	return rows, nil
}

func renderPolicies(w io.Writer, rows []policyRow, format string) error {
	switch strings.ToLower(format) {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(map[string][]policyRow{"policies": rows}); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case "", "table":
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Policy", "Limit", "Window", "Routes"})
		for _, r := range rows {
			t.AppendRow(table.Row{r.Name, r.Limit, r.Window, strings.Join(r.Routes, ", ")})
		}
		t.Render()
		return nil
	default:
		return fmt.Errorf("unknown output format %q (expected table or yaml)", format)
	}
}
