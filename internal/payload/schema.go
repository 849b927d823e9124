package payload

import (
	"fmt"
	"sort"

	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
)

// 支持的调用名。
const (
	CallRegisterToken        = "registerToken"
	CallTransferCoinMultiple = "transferCoinMultiple"
	CallMintBadge            = "mintBadge"
	CallUpgradeBadge         = "upgradeBadge"
)

// Param 是 schema 中带名称和类型的参数位。
type Param struct {
	Name string
	Kind codec.Kind
}

// Schema 是调用的期望签名。
type Schema struct {
	Name       string
	TypeParams int
	Params     []Param
}

// Kinds 按顺序返回参数类型。
func (s Schema) Kinds() []codec.Kind {
	kinds := make([]codec.Kind, len(s.Params))
	for i, p := range s.Params {
		kinds[i] = p.Kind
	}
	return kinds
}

// Schemas 是以调用名为键的静态签名表。
var Schemas = map[string]Schema{
	CallRegisterToken: {
		Name:       CallRegisterToken,
		TypeParams: 1,
		Params: []Param{
			{Name: "memo", Kind: codec.String},
		},
	},
	CallTransferCoinMultiple: {
		Name:       CallTransferCoinMultiple,
		TypeParams: 1,
		Params: []Param{
			{Name: "receivers", Kind: codec.VectorOf(codec.Address)},
			{Name: "amounts", Kind: codec.VectorOf(codec.U64)},
			{Name: "commissions", Kind: codec.VectorOf(codec.U64)},
			{Name: "memo", Kind: codec.String},
		},
	},
	CallMintBadge: {
		Name: CallMintBadge,
		Params: []Param{
			{Name: "recipient", Kind: codec.Address},
			{Name: "name", Kind: codec.String},
			{Name: "uri", Kind: codec.String},
			{Name: "level", Kind: codec.U8},
		},
	},
	CallUpgradeBadge: {
		Name: CallUpgradeBadge,
		Params: []Param{
			{Name: "owner", Kind: codec.Address},
			{Name: "name", Kind: codec.String},
			{Name: "level", Kind: codec.U8},
		},
	},
}

// DefaultFunctions 把调用名映射到部署地址下的 module::function。
var DefaultFunctions = map[string]string{
	CallRegisterToken:        "gari::register",
	CallTransferCoinMultiple: "gari::transfer_coin_multiple",
	CallMintBadge:            "badge::mint",
	CallUpgradeBadge:         "badge::upgrade",
}

// Catalog 把调用名绑定到具体函数标识，从链上读出的负载据此找回 schema。
type Catalog struct {
	byCall     map[string]FunctionID
	byFunction map[FunctionID]Schema
}

// NewCatalog 由调用名到函数标识的映射创建目录，每个调用都须在 Schemas 中有定义。
func NewCatalog(functions map[string]FunctionID) (*Catalog, error) {
	c := &Catalog{
		byCall:     make(map[string]FunctionID, len(functions)),
		byFunction: make(map[FunctionID]Schema, len(functions)),
	}
	for call, fn := range functions {
		schema, ok := Schemas[call]
		if !ok {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("no schema for call %q", call))
		}
		addr, module, function, err := fn.split()
		if err != nil {
			return nil, err
		}
		fn = FunctionID(addr.Hex() + "::" + module + "::" + function)
		if _, dup := c.byFunction[fn]; dup {
			return nil, xerrors.New(xerrors.CodeConflict, fmt.Sprintf("function %s bound twice", fn))
		}
		c.byCall[call] = fn
		c.byFunction[fn] = schema
	}
	return c, nil
}

// DefaultCatalog 在 moduleAddress 下绑定 DefaultFunctions。
func DefaultCatalog(moduleAddress codec.AccountAddress) *Catalog {
	functions := make(map[string]FunctionID, len(DefaultFunctions))
	for call, suffix := range DefaultFunctions {
		functions[call] = FunctionID(moduleAddress.Hex() + "::" + suffix)
	}
	c, err := NewCatalog(functions)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Function(call string) (FunctionID, bool) {
	fn, ok := c.byCall[call]
	return fn, ok
}

// SchemaOf 返回已绑定函数的 schema。
func (c *Catalog) SchemaOf(fn FunctionID) (Schema, bool) {
	s, ok := c.byFunction[fn]
	return s, ok
}

// Calls 列出已绑定的调用名。
func (c *Catalog) Calls() []string {
	calls := make([]string, 0, len(c.byCall))
	for call := range c.byCall {
		calls = append(calls, call)
	}
	sort.Strings(calls)
	return calls
}

// Build 为指定调用组装并校验负载。
func (c *Catalog) Build(call string, typeArgs []string, args ...codec.Argument) (Payload, error) {
	fn, ok := c.byCall[call]
	if !ok {
		return Payload{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("call %q is not bound", call))
	}
	p := New(fn, typeArgs, args...)
	if err := p.Validate(c.byFunction[fn]); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// DecodeArgs 按 fn 的 schema 解码原始参数字节。
func (c *Catalog) DecodeArgs(fn FunctionID, typeArgs []string, raw [][]byte) (Payload, error) {
	schema, ok := c.byFunction[fn]
	if !ok {
		return Payload{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("no schema bound for %s", fn))
	}
	args, err := codec.DecodeAll(raw, schema.Kinds())
	if err != nil {
		return Payload{}, err
	}
	p := New(fn, typeArgs, args...)
	if err := p.Validate(schema); err != nil {
		return Payload{}, err
	}
	return p, nil
}
