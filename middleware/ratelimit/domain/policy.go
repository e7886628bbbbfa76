package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Nomes das políticas padrão usadas pelas rotas da aplicação.
const (
	PolicyChat       = "chat"
	PolicyAIHeavy    = "aiHeavy"
	PolicyContact    = "contact"
	PolicyLeadMagnet = "leadMagnet"
	PolicyAPI        = "api"
)

// Policies mapeia nome simbólico -> configuração da janela.
type Policies map[string]Config

// DefaultPolicies devolve uma cópia nova dos valores padrão a cada chamada,
// então quem recebe pode alterar sem afetar outros donos.
func DefaultPolicies() Policies {
	return Policies{
		PolicyChat:       {Limit: 20, Window: time.Minute},
		PolicyAIHeavy:    {Limit: 10, Window: time.Minute},
		PolicyContact:    {Limit: 5, Window: time.Hour},
		PolicyLeadMagnet: {Limit: 10, Window: time.Hour},
		PolicyAPI:        {Limit: 100, Window: time.Minute},
	}
}

func (p Policies) Lookup(name string) (Policy, error) {
	cfg, ok := p[name]
	if !ok {
		return Policy{}, fmt.Errorf("%q: %w", name, ErrUnknownPolicy)
	}
	return Policy{Name: name, Config: cfg}, nil
}

// Merge devolve uma cópia de p com os overrides aplicados por cima.
func (p Policies) Merge(overrides Policies) Policies {
	out := make(Policies, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func (p Policies) Validate() error {
	for _, name := range p.Names() {
		if err := p[name].Validate(); err != nil {
			return fmt.Errorf("policy %q: %w", name, err)
		}
	}
	return nil
}

// Names devolve os nomes em ordem alfabética (saída estável para logs e CLI).
func (p Policies) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Policy é uma configuração nomeada.
type Policy struct {
	Name string
	Config
}

// ParsePolicy interpreta "<limit>/<window>", ex: "20/1m", "5/1h", "100/60s".
func ParsePolicy(s string) (Config, error) {
	limitStr, windowStr, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Config{}, fmt.Errorf("policy %q: expected <limit>/<window>: %w", s, ErrInvalidConfig)
	}
	limit, err := strconv.Atoi(strings.TrimSpace(limitStr))
	if err != nil {
		return Config{}, fmt.Errorf("policy %q: limit: %w", s, ErrInvalidConfig)
	}
	window, err := time.ParseDuration(strings.TrimSpace(windowStr))
	if err != nil {
		return Config{}, fmt.Errorf("policy %q: window: %w", s, ErrInvalidConfig)
	}
	cfg := Config{Limit: limit, Window: window}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("policy %q: %w", s, err)
	}
	return cfg, nil
}

// ParsePolicies interpreta uma lista "nome=limit/window" separada por vírgula,
// ex: "chat=30/1m,contact=3/1h". String vazia devolve um mapa vazio.
func ParsePolicies(s string) (Policies, error) {
	out := Policies{}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, def, ok := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("policy entry %q: expected name=<limit>/<window>: %w", item, ErrInvalidConfig)
		}
		cfg, err := ParsePolicy(def)
		if err != nil {
			return nil, err
		}
		out[name] = cfg
	}
	return out, nil
}
