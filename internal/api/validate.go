package api

import (
	"reflect"

	"github.com/go-playground/validator/v10"

	"CoSign-Chain/internal/codec"
	"CoSign-Chain/internal/transfer"
)

// newValidator 注册账户地址校验规则 aptos_addr。
func newValidator() (*validator.Validate, error) {
	v := validator.New()
	err := v.RegisterValidation("aptos_addr", func(fl validator.FieldLevel) bool {
		if fl.Field().Kind() != reflect.String {
			return false
		}
		addr, err := codec.ParseAddress(fl.Field().String())
		return err == nil && !addr.IsZero()
	})
	return v, err
}

type transferItem struct {
	Receiver   string `json:"receiver" validate:"required,aptos_addr"`
	Amount     uint64 `json:"amount,string" validate:"gt=0"`
	Commission uint64 `json:"commission,string" validate:"ltefield=Amount"`
}

type transferBody struct {
	Sender    string            `json:"sender" validate:"required,aptos_addr"`
	Transfers []transferItem    `json:"transfers" validate:"required,min=1,max=255,dive"`
	Memo      string            `json:"memo" validate:"max=256"`
	Metadata  map[string]string `json:"metadata"`
}

type registrationBody struct {
	Sender   string            `json:"sender" validate:"required,aptos_addr"`
	Memo     string            `json:"memo" validate:"max=256"`
	Metadata map[string]string `json:"metadata"`
}

type badgeBody struct {
	Sender   string            `json:"sender" validate:"required,aptos_addr"`
	Name     string            `json:"name" validate:"required,max=128"`
	URI      string            `json:"uri" validate:"omitempty,uri"`
	Level    uint8             `json:"level"`
	Metadata map[string]string `json:"metadata"`
}

type tokenBody struct {
	GrantType    string `json:"grant_type" validate:"omitempty,oneof=password refresh_token"`
	Username     string `json:"username" validate:"required_without=RefreshToken,max=128"`
	Password     string `json:"password" validate:"required_with=Username,max=256"`
	RefreshToken string `json:"refresh_token"`
}

type inspectBody struct {
	Raw string `json:"raw" validate:"required,hexadecimal"`
}

func (b transferBody) request() transfer.Request {
	req := transfer.Request{
		Action: transfer.ActionTransfer,
		Sender: mustAddress(b.Sender),
		Memo:   b.Memo,
	}
	for _, item := range b.Transfers {
		req.Transfers = append(req.Transfers, codec.TransferRecord{
			Receiver:   mustAddress(item.Receiver),
			Amount:     item.Amount,
			Commission: item.Commission,
		})
	}
	return req
}

func (b registrationBody) request() transfer.Request {
	return transfer.Request{Action: transfer.ActionRegister, Sender: mustAddress(b.Sender), Memo: b.Memo}
}

func (b badgeBody) request(action transfer.Action) transfer.Request {
	return transfer.Request{
		Action:    action,
		Sender:    mustAddress(b.Sender),
		BadgeName: b.Name,
		BadgeURI:  b.URI,
		Level:     b.Level,
	}
}

// mustAddress 仅用于已通过 aptos_addr 校验的字段。
func mustAddress(s string) codec.AccountAddress {
	addr, _ := codec.ParseAddress(s)
	return addr
}
