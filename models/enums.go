package models

import (
	"encoding/json"
	"errors"
)

type PaymentType string

const (
	PaymentTypeCashFull        PaymentType = "cashFull"
	PaymentTypeCashInstallment PaymentType = "cashInstallment"
	PaymentTypeCreditCard      PaymentType = "creditCard"
	PaymentTypeMixed           PaymentType = "mixed"
)

func (t PaymentType) IsValid() bool {
	switch t {
	case PaymentTypeCashFull, PaymentTypeCashInstallment, PaymentTypeCreditCard, PaymentTypeMixed:
		return true
	}
	return false
}

func (t *PaymentType) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("payment type must be string")
	}
	v := PaymentType(str)
	if !v.IsValid() {
		return errors.New("invalid payment type")
	}
	*t = v
	return nil
}

// PaymentMethod is how a single Payment was collected.
type PaymentMethod string

const (
	PaymentMethodCash       PaymentMethod = "cash"
	PaymentMethodCreditCard PaymentMethod = "creditCard"
)

func (m PaymentMethod) IsValid() bool {
	return m == PaymentMethodCash || m == PaymentMethodCreditCard
}

func (m *PaymentMethod) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("payment method must be string")
	}
	v := PaymentMethod(str)
	if !v.IsValid() {
		return errors.New("invalid payment method")
	}
	*m = v
	return nil
}

type DiscountType string

const (
	DiscountTypeNone        DiscountType = "none"
	DiscountTypePercentage  DiscountType = "percentage"
	DiscountTypeFixed       DiscountType = "fixed"
	DiscountTypeScholarship DiscountType = "scholarship"
)

func (t DiscountType) IsValid() bool {
	switch t {
	case "", DiscountTypeNone, DiscountTypePercentage, DiscountTypeFixed, DiscountTypeScholarship:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

type ExpenseCategory string

const (
	ExpenseCategoryCommission ExpenseCategory = "commission"
	ExpenseCategoryVat        ExpenseCategory = "vat"
	ExpenseCategoryRefund     ExpenseCategory = "refund"
)

// OverpaymentHandling selects how the excess of an overpaid installment reshapes the schedule.
type OverpaymentHandling string

const (
	OverpaymentNone       OverpaymentHandling = ""
	OverpaymentNext       OverpaymentHandling = "next"
	OverpaymentDistribute OverpaymentHandling = "distribute"
)

func (h OverpaymentHandling) IsValid() bool {
	return h == OverpaymentNone || h == OverpaymentNext || h == OverpaymentDistribute
}
