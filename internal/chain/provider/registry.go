package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"CoSign-Chain/internal/chain"
	"CoSign-Chain/internal/chain/aptos"
	"CoSign-Chain/internal/config"
)

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]chain.Client
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(cfg config.ChainConfig) (*Registry, error) {
	defs, err := chain.LoadDefinitions(cfg.DefinitionsFile)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]chain.Client)
	for name, def := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(def.Type))
		if chainType == "" {
			chainType = "aptos"
		}
		switch chainType {
		case "aptos":
			client, err := aptos.NewClient(aptos.Config{
				Name:    name,
				RESTURL: def.RESTURL,
				ChainID: def.ChainID,
				Timeout: def.Timeout(),
				Notes:   def.Description,
			})
			if err != nil {
				return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
			}
			clients[name] = client
		default:
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, def.Type)
		}
	}

	if len(clients) == 0 && strings.TrimSpace(cfg.RESTURL) != "" {
		client, err := aptos.NewClient(aptos.Config{Name: "default", RESTURL: cfg.RESTURL})
		if err != nil {
			return nil, err
		}
		clients["default"] = client
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "default"
		}
	}

	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 REST 端点")
	}

	return newRegistry(cfg.DefaultChain, clients)
}

// NewStaticRegistry wraps already constructed clients.
func NewStaticRegistry(defaultChain string, clients map[string]chain.Client) (*Registry, error) {
	if len(clients) == 0 {
		return nil, errors.New("未提供任何链客户端")
	}
	copied := make(map[string]chain.Client, len(clients))
	for name, c := range clients {
		copied[name] = c
	}
	return newRegistry(defaultChain, copied)
}

func newRegistry(defaultChain string, clients map[string]chain.Client) (*Registry, error) {
	if defaultChain == "" {
		names := make([]string, 0, len(clients))
		for name := range clients {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	return &Registry{defaultChain: defaultChain, clients: clients}, nil
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (chain.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// DefaultChain returns the name of the default chain.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (chain.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
