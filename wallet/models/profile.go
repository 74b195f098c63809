package models

import "time"

type Preferences struct {
	Currency             string `json:"currency"`
	Language             string `json:"language"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
	TwoFactorEnabled     bool   `json:"twoFactorEnabled"`
}

type PreferencesPatch struct {
	Currency             *string `json:"currency,omitempty"`
	Language             *string `json:"language,omitempty"`
	NotificationsEnabled *bool   `json:"notificationsEnabled,omitempty"`
	TwoFactorEnabled     *bool   `json:"twoFactorEnabled,omitempty"`
}

func (p Preferences) Apply(patch PreferencesPatch) Preferences {
	if patch.Currency != nil {
		p.Currency = *patch.Currency
	}
	if patch.Language != nil {
		p.Language = *patch.Language
	}
	if patch.NotificationsEnabled != nil {
		p.NotificationsEnabled = *patch.NotificationsEnabled
	}
	if patch.TwoFactorEnabled != nil {
		p.TwoFactorEnabled = *patch.TwoFactorEnabled
	}
	return p
}

// Profile is the wallet owner. PasswordHash is persisted but stripped by Public.
type Profile struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Email        string      `json:"email"`
	Phone        string      `json:"phone,omitempty"`
	PasswordHash string      `json:"passwordHash,omitempty"`
	Preferences  Preferences `json:"preferences"`
	CreatedAt    time.Time   `json:"createdAt"`
}

func (p Profile) Public() Profile {
	p.PasswordHash = ""
	return p
}

type ProfilePatch struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password"`
}
