package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CardKind string

const (
	CardVirtual  CardKind = "virtual"
	CardPhysical CardKind = "physical"
)

type CardStatus string

const (
	CardActive   CardStatus = "active"
	CardInactive CardStatus = "inactive"
	CardFrozen   CardStatus = "frozen"
)

type CardSettings struct {
	OnlinePayments        bool `json:"onlinePayments"`
	InternationalPayments bool `json:"internationalPayments"`
	ContactlessPayments   bool `json:"contactlessPayments"`
	ATMWithdrawals        bool `json:"atmWithdrawals"`
}

// DefaultCardSettings enables everything but international payments.
func DefaultCardSettings() CardSettings {
	return CardSettings{
		OnlinePayments:      true,
		ContactlessPayments: true,
		ATMWithdrawals:      true,
	}
}

// SettingsPatch is a partial update of CardSettings; nil fields are left unchanged.
type SettingsPatch struct {
	OnlinePayments        *bool `json:"onlinePayments,omitempty"`
	InternationalPayments *bool `json:"internationalPayments,omitempty"`
	ContactlessPayments   *bool `json:"contactlessPayments,omitempty"`
	ATMWithdrawals        *bool `json:"atmWithdrawals,omitempty"`
}

func (p SettingsPatch) IsEmpty() bool {
	return p.OnlinePayments == nil && p.InternationalPayments == nil &&
		p.ContactlessPayments == nil && p.ATMWithdrawals == nil
}

func (s CardSettings) Apply(p SettingsPatch) CardSettings {
	if p.OnlinePayments != nil {
		s.OnlinePayments = *p.OnlinePayments
	}
	if p.InternationalPayments != nil {
		s.InternationalPayments = *p.InternationalPayments
	}
	if p.ContactlessPayments != nil {
		s.ContactlessPayments = *p.ContactlessPayments
	}
	if p.ATMWithdrawals != nil {
		s.ATMWithdrawals = *p.ATMWithdrawals
	}
	return s
}

type Card struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"accountId"`
	Kind         CardKind        `json:"kind"`
	MaskedNumber string          `json:"maskedNumber"`
	FullNumber   string          `json:"fullNumber,omitempty"`
	HolderName   string          `json:"holderName"`
	Expiry       string          `json:"expiry"`
	CVV          string          `json:"cvv"`
	FullCVV      string          `json:"fullCvv,omitempty"`
	Balance      decimal.Decimal `json:"balance"`
	Limit        decimal.Decimal `json:"limit"`
	Status       CardStatus      `json:"status"`
	Settings     CardSettings    `json:"settings"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Redacted returns the card without its sensitive PAN and CVV.
func (c Card) Redacted() Card {
	c.FullNumber = ""
	c.FullCVV = ""
	return c
}

// Reveal is the sensitive part of a card returned by an explicit reveal.
type Reveal struct {
	CardID     string `json:"cardId"`
	FullNumber string `json:"fullNumber"`
	FullCVV    string `json:"fullCvv"`
	Expiry     string `json:"expiry"`
	HolderName string `json:"holderName"`
}
