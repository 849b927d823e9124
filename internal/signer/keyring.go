package signer

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
)

// Keyring 按账户地址保存服务可用于联署的托管签名器。
type Keyring struct {
	mu      sync.RWMutex
	signers map[codec.AccountAddress]Signer
}

// NewKeyring 创建包含 signers 的密钥环。
func NewKeyring(signers ...Signer) *Keyring {
	k := &Keyring{signers: make(map[codec.AccountAddress]Signer, len(signers))}
	for _, s := range signers {
		k.Add(s)
	}
	return k
}

// Add 注册 s，覆盖同地址的已有签名器。
func (k *Keyring) Add(s Signer) {
	if s == nil {
		return
	}
	k.mu.Lock()
	k.signers[s.Address()] = s
	k.mu.Unlock()
}

// Lookup 返回 addr 对应的签名器。
func (k *Keyring) Lookup(addr codec.AccountAddress) (Signer, bool) {
	if k == nil {
		return nil, false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.signers[addr]
	return s, ok
}

// Addresses 按规范十六进制顺序列出地址。
func (k *Keyring) Addresses() []codec.AccountAddress {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]codec.AccountAddress, 0, len(k.signers))
	for addr := range k.signers {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

// LoadKeyring 读取 JSON 对象，键为账户地址，值为保存私钥的环境变量名。
// 文件本身不含密钥，path 为空时返回空密钥环。
func LoadKeyring(path string, getenv func(string) string) (*Keyring, error) {
	k := NewKeyring()
	if strings.TrimSpace(path) == "" {
		return k, nil
	}
	if getenv == nil {
		getenv = os.Getenv
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取密钥清单失败: %w", err)
	}
	var entries map[string]string
	if err := json.Unmarshal(content, &entries); err != nil {
		return nil, fmt.Errorf("解析密钥清单失败: %w", err)
	}

	for rawAddr, envName := range entries {
		addr, err := codec.ParseAddress(rawAddr)
		if err != nil {
			return nil, err
		}
		keyHex := strings.TrimSpace(getenv(envName))
		if keyHex == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("环境变量 %s 未设置账户 %s 的私钥", envName, addr))
		}
		s, err := FromHex(keyHex)
		if err != nil {
			return nil, err
		}
		if s.Address() != addr {
			// 轮换过密钥的账户保留原地址。
			s, err = NewEd25519(s.key, &addr)
			if err != nil {
				return nil, err
			}
		}
		k.Add(s)
	}
	return k, nil
}
