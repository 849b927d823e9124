package chain

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Definitions models the structure of configs/chains.yaml.
type Definitions struct {
	Chains map[string]Definition `yaml:"chains"`
}

// Definition describes a single node endpoint.
type Definition struct {
	Type        string `yaml:"type"`
	RESTURL     string `yaml:"rest_url"`
	ChainID     uint8  `yaml:"chain_id"`
	TimeoutSecs int    `yaml:"timeout_seconds"`
	Description string `yaml:"description"`
}

// Timeout returns the per-request HTTP timeout, or zero for the client
// default.
func (d Definition) Timeout() time.Duration {
	if d.TimeoutSecs <= 0 {
		return 0
	}
	return time.Duration(d.TimeoutSecs) * time.Second
}

// LoadDefinitions parses the YAML file containing chain metadata. An empty
// path yields an empty set.
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{Chains: map[string]Definition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]Definition{}
	}
	return defs, nil
}
