package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/copydesk/pkg/money"
)

// SchemaVersion is written into every checkout session and checked on read.
const SchemaVersion = "1"

type PaymentType string

const (
	TypeOrderPayment PaymentType = "order_payment"
	TypeAccountTopUp PaymentType = "account_top_up"
)

var (
	ErrInvalidMetadata = errors.New("invalid_checkout_metadata")
	ErrMissingIdentity = errors.New("missing_checkout_identity")
)

const (
	keySchemaVersion    = "schemaVersion"
	keyUserID           = "userId"
	keyType             = "type"
	keyOrderID          = "orderId"
	keyCurrency         = "currency"
	keyExchangeRate     = "exchangeRate"
	keyTotalPrice       = "totalPrice"
	keyAppliedDiscount  = "appliedDiscount"
	keyMissingAmount    = "missingAmount"
	keyBalanceAmountPLN = "balanceAmountPln"
	keyCorrelationID    = "correlationId"
)

// Metadata is everything the reconciler needs to settle a checkout session.
// It travels through the gateway as opaque strings, so the confirmation
// never depends on state that may have moved since the session was created.
type Metadata struct {
	SchemaVersion   string
	UserID          snowflake.ID
	Type            PaymentType
	OrderID         *snowflake.ID
	Currency        string
	ExchangeRate    decimal.Decimal
	TotalPrice      money.Money
	AppliedDiscount decimal.Decimal
	// MissingAmount is the gateway-funded part of an order, in Currency.
	MissingAmount *money.Money
	// BalanceAmountPLN is the balance-funded part of an order.
	BalanceAmountPLN *money.Money
	CorrelationID    string
}

// Encode renders the metadata as gateway key/value pairs. Amounts are major
// units with two decimals.
func (m Metadata) Encode() map[string]string {
	out := map[string]string{
		keySchemaVersion:   m.SchemaVersion,
		keyUserID:          m.UserID.String(),
		keyType:            string(m.Type),
		keyCurrency:        money.NormalizeCurrency(m.Currency),
		keyExchangeRate:    m.ExchangeRate.String(),
		keyTotalPrice:      m.TotalPrice.FormatMajor(),
		keyAppliedDiscount: m.AppliedDiscount.StringFixed(2),
	}
	if m.OrderID != nil {
		out[keyOrderID] = m.OrderID.String()
	}
	if m.MissingAmount != nil {
		out[keyMissingAmount] = m.MissingAmount.FormatMajor()
	}
	if m.BalanceAmountPLN != nil {
		out[keyBalanceAmountPLN] = m.BalanceAmountPLN.FormatMajor()
	}
	if m.CorrelationID != "" {
		out[keyCorrelationID] = m.CorrelationID
	}
	return out
}

// Validate rejects metadata the reconciler could not settle.
func (m Metadata) Validate() error {
	if m.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: unsupported schema version %q", ErrInvalidMetadata, m.SchemaVersion)
	}
	if m.UserID == 0 {
		return fmt.Errorf("%w: %s", ErrMissingIdentity, keyUserID)
	}
	if !money.Supported(m.Currency) {
		return fmt.Errorf("%w: %s", ErrInvalidMetadata, keyCurrency)
	}
	if !m.ExchangeRate.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidMetadata, keyExchangeRate)
	}
	if m.TotalPrice.Amount < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidMetadata, keyTotalPrice)
	}

	switch m.Type {
	case TypeOrderPayment:
		if m.OrderID == nil || *m.OrderID == 0 {
			return fmt.Errorf("%w: %s", ErrMissingIdentity, keyOrderID)
		}
		if m.MissingAmount == nil || !m.MissingAmount.IsPositive() {
			return fmt.Errorf("%w: %s", ErrInvalidMetadata, keyMissingAmount)
		}
	case TypeAccountTopUp:
		if !m.TotalPrice.IsPositive() {
			return fmt.Errorf("%w: %s", ErrInvalidMetadata, keyTotalPrice)
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidMetadata, keyType)
	}
	return nil
}

// DecodeMetadata parses and validates gateway metadata. Unknown versions and
// missing required fields fail; nothing is defaulted.
func DecodeMetadata(raw map[string]string) (Metadata, error) {
	get := func(key string) string { return strings.TrimSpace(raw[key]) }

	m := Metadata{
		SchemaVersion: get(keySchemaVersion),
		Type:          PaymentType(get(keyType)),
		Currency:      money.NormalizeCurrency(get(keyCurrency)),
		CorrelationID: get(keyCorrelationID),
	}
	if m.SchemaVersion != SchemaVersion {
		return Metadata{}, fmt.Errorf("%w: unsupported schema version %q", ErrInvalidMetadata, m.SchemaVersion)
	}

	userID, err := snowflake.ParseString(get(keyUserID))
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %s", ErrMissingIdentity, keyUserID)
	}
	m.UserID = userID

	if v := get(keyOrderID); v != "" {
		orderID, err := snowflake.ParseString(v)
		if err != nil {
			return Metadata{}, fmt.Errorf("%w: %s", ErrInvalidMetadata, keyOrderID)
		}
		m.OrderID = &orderID
	}

	if m.ExchangeRate, err = decimal.NewFromString(get(keyExchangeRate)); err != nil {
		return Metadata{}, fmt.Errorf("%w: %s", ErrInvalidMetadata, keyExchangeRate)
	}
	if m.TotalPrice, err = money.ParseMajor(get(keyTotalPrice), m.Currency); err != nil {
		return Metadata{}, fmt.Errorf("%w: %s", ErrInvalidMetadata, keyTotalPrice)
	}
	if m.AppliedDiscount, err = decimal.NewFromString(get(keyAppliedDiscount)); err != nil {
		return Metadata{}, fmt.Errorf("%w: %s", ErrInvalidMetadata, keyAppliedDiscount)
	}
	if v := get(keyMissingAmount); v != "" {
		missing, err := money.ParseMajor(v, m.Currency)
		if err != nil {
			return Metadata{}, fmt.Errorf("%w: %s", ErrInvalidMetadata, keyMissingAmount)
		}
		m.MissingAmount = &missing
	}
	if v := get(keyBalanceAmountPLN); v != "" {
		portion, err := money.ParseMajor(v, money.PLN)
		if err != nil {
			return Metadata{}, fmt.Errorf("%w: %s", ErrInvalidMetadata, keyBalanceAmountPLN)
		}
		m.BalanceAmountPLN = &portion
	}

	if err := m.Validate(); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// MetadataInput is what checkout knows when it opens a session.
type MetadataInput struct {
	UserID           snowflake.ID
	Type             PaymentType
	OrderID          *snowflake.ID
	Currency         string
	ExchangeRate     decimal.Decimal
	TotalPrice       money.Money
	AppliedDiscount  decimal.Decimal
	MissingAmount    *money.Money
	BalanceAmountPLN *money.Money
	CorrelationID    string
}

// BuildMetadata fails closed: a session that could not be reconciled is
// never created.
func BuildMetadata(in MetadataInput) (Metadata, error) {
	m := Metadata{
		SchemaVersion:    SchemaVersion,
		UserID:           in.UserID,
		Type:             in.Type,
		OrderID:          in.OrderID,
		Currency:         money.NormalizeCurrency(in.Currency),
		ExchangeRate:     in.ExchangeRate,
		TotalPrice:       in.TotalPrice,
		AppliedDiscount:  in.AppliedDiscount,
		MissingAmount:    in.MissingAmount,
		BalanceAmountPLN: in.BalanceAmountPLN,
		CorrelationID:    strings.TrimSpace(in.CorrelationID),
	}
	if err := m.Validate(); err != nil {
		return Metadata{}, err
	}
	return m, nil
}
