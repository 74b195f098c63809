package wallet

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Request body schemas. Amounts may be JSON numbers or numeric strings.
const (
	amountProp = `{"type": ["number", "string"], "pattern": "^-?[0-9]+(\\.[0-9]+)?$"}`

	amountSchema = `{
  "type": "object",
  "required": ["amount"],
  "properties": {"amount": ` + amountProp + `}
}`
	sendSchema = `{
  "type": "object",
  "required": ["amount", "recipient"],
  "properties": {
    "amount": ` + amountProp + `,
    "recipient": {"type": "string", "minLength": 1},
    "note": {"type": "string"}
  }
}`
	receiveSchema = `{
  "type": "object",
  "required": ["amount"],
  "properties": {
    "amount": ` + amountProp + `,
    "sender": {"type": "string"},
    "note": {"type": "string"}
  }
}`
	convertSchema = `{
  "type": "object",
  "required": ["amount", "from", "to"],
  "properties": {
    "amount": ` + amountProp + `,
    "from": {"type": "string", "minLength": 3},
    "to": {"type": "string", "minLength": 3}
  }
}`
	paymentSchema = `{
  "type": "object",
  "required": ["amount", "merchant"],
  "properties": {
    "amount": ` + amountProp + `,
    "merchant": {"type": "string", "minLength": 1},
    "category": {"type": "string"}
  }
}`
	freezeSchema = `{
  "type": "object",
  "required": ["freeze"],
  "properties": {"freeze": {"type": "boolean"}}
}`
	settingsSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "onlinePayments": {"type": "boolean"},
    "internationalPayments": {"type": "boolean"},
    "contactlessPayments": {"type": "boolean"},
    "atmWithdrawals": {"type": "boolean"}
  }
}`
	limitSchema = `{
  "type": "object",
  "required": ["limit"],
  "properties": {"limit": ` + amountProp + `}
}`
	requestSchema = `{
  "type": "object",
  "required": ["amount"],
  "properties": {
    "amount": ` + amountProp + `,
    "description": {"type": "string"},
    "to": {"type": "string"}
  }
}`
	requestStatusSchema = `{
  "type": "object",
  "required": ["status"],
  "properties": {"status": {"type": "string", "enum": ["completed", "cancelled"]}}
}`
	registerSchema = `{
  "type": "object",
  "required": ["name", "email", "password"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "email": {"type": "string", "minLength": 3},
    "phone": {"type": "string"},
    "password": {"type": "string", "minLength": 8}
  }
}`
	loginSchema = `{
  "type": "object",
  "required": ["email", "password"],
  "properties": {
    "email": {"type": "string"},
    "password": {"type": "string"}
  }
}`
	profileSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string"},
    "email": {"type": "string"},
    "phone": {"type": "string"}
  }
}`
	preferencesSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "currency": {"type": "string"},
    "language": {"type": "string"},
    "notificationsEnabled": {"type": "boolean"},
    "twoFactorEnabled": {"type": "boolean"}
  }
}`
	passwordSchema = `{
  "type": "object",
  "required": ["current", "new"],
  "properties": {
    "current": {"type": "string"},
    "new": {"type": "string", "minLength": 8}
  }
}`
)

var schemas = map[string]*gojsonschema.Schema{}

func init() {
	for name, src := range map[string]string{
		"amount":        amountSchema,
		"send":          sendSchema,
		"receive":       receiveSchema,
		"convert":       convertSchema,
		"payment":       paymentSchema,
		"freeze":        freezeSchema,
		"settings":      settingsSchema,
		"limit":         limitSchema,
		"request":       requestSchema,
		"requestStatus": requestStatusSchema,
		"register":      registerSchema,
		"login":         loginSchema,
		"profile":       profileSchema,
		"preferences":   preferencesSchema,
		"password":      passwordSchema,
	} {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			panic(fmt.Sprintf("compiling %s schema: %v", name, err))
		}
		schemas[name] = s
	}
}

// validateBody checks body against the named schema and returns the joined
// violations, or "" when the body is valid.
func validateBody(name string, body []byte) (string, error) {
	s, ok := schemas[name]
	if !ok {
		return "", fmt.Errorf("unknown schema %q", name)
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return "", err
	}
	if res.Valid() {
		return "", nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; "), nil
}
