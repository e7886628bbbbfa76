// Package cmd contém os comandos do binário gateway.
package cmd

import (
	"admission-gateway/internal/config"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
	envFiles   []string
}

// NewRootCmd monta a árvore de comandos. Cada chamada devolve uma árvore nova,
// sem estado global entre execuções (útil nos testes).
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "gateway",
		Short:         "Reverse proxy com rate limit de janela fixa por rota",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "arquivo YAML de configuração")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "arquivos .env carregados antes do ambiente")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newPoliciesCmd(opts))
	return root
}

// Execute é chamado pelo main.
func Execute() error {
	return NewRootCmd().Execute()
}

func (o *rootOptions) load() (config.Config, error) {
	if err := config.LoadDotEnv(o.envFiles...); err != nil {
		return config.Config{}, err
	}
	return config.Load(o.configFile)
}
