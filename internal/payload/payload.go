// Package payload 描述入口函数调用负载：函数标识、可选的类型参数，以及按静态 schema 校验的有序参数。
package payload

import (
	"fmt"
	"strings"

	"CoSign-Chain/internal/codec"
	xerrors "CoSign-Chain/internal/errors"
)

// CodeSchemaMismatch 表示参数与调用的 schema 不符。
const CodeSchemaMismatch xerrors.Code = "SCHEMA_MISMATCH"

func init() {
	xerrors.Register(CodeSchemaMismatch, xerrors.Attributes{
		Message:  "payload does not match call schema",
		Severity: xerrors.SeverityInfo,
	})
}

// FunctionID 是不透明的 "address::module::function" 标识，只有链上信封会拆分它。
type FunctionID string

func (f FunctionID) String() string { return string(f) }

// split 为信封拆出三个组成部分。
func (f FunctionID) split() (codec.AccountAddress, string, string, error) {
	parts := strings.Split(string(f), "::")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return codec.AccountAddress{}, "", "", xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("function id %q is not address::module::function", f))
	}
	addr, err := codec.ParseAddress(parts[0])
	if err != nil {
		return codec.AccountAddress{}, "", "", err
	}
	return addr, parts[1], parts[2], nil
}

// Payload 是一次入口函数调用，参数顺序与个数在构造时确定。
type Payload struct {
	Function FunctionID
	TypeArgs []string
	Args     []codec.Argument
}

// New 用已带类型的参数创建负载。
func New(fn FunctionID, typeArgs []string, args ...codec.Argument) Payload {
	return Payload{
		Function: fn,
		TypeArgs: append([]string(nil), typeArgs...),
		Args:     append([]codec.Argument(nil), args...),
	}
}

// Validate 按 schema 校验负载：参数个数、逐个类型以及类型参数个数都须一致。
func (p Payload) Validate(schema Schema) error {
	if len(p.TypeArgs) != schema.TypeParams {
		return xerrors.New(CodeSchemaMismatch,
			fmt.Sprintf("%s expects %d type arguments, got %d", schema.Name, schema.TypeParams, len(p.TypeArgs)))
	}
	if len(p.Args) != len(schema.Params) {
		return xerrors.New(codec.CodeArgumentArityMismatch,
			fmt.Sprintf("%s expects %d arguments, got %d", schema.Name, len(schema.Params), len(p.Args)))
	}
	for i, arg := range p.Args {
		if !arg.Kind().Equal(schema.Params[i].Kind) {
			return xerrors.New(CodeSchemaMismatch,
				fmt.Sprintf("%s argument %d (%s) must be %s, got %s",
					schema.Name, i, schema.Params[i].Name, schema.Params[i].Kind, arg.Kind()))
		}
	}
	return nil
}

// EncodedArgs 用参数编解码器编码全部参数。
func (p Payload) EncodedArgs() ([][]byte, error) {
	return codec.EncodeAll(p.Args)
}

// Equal 按值比较两个负载。
func (p Payload) Equal(o Payload) bool {
	if p.Function != o.Function || len(p.TypeArgs) != len(o.TypeArgs) || len(p.Args) != len(o.Args) {
		return false
	}
	for i := range p.TypeArgs {
		if p.TypeArgs[i] != o.TypeArgs[i] {
			return false
		}
	}
	for i := range p.Args {
		if !p.Args[i].Equal(o.Args[i]) {
			return false
		}
	}
	return true
}
