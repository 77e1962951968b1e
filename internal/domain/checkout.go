package domain

import "strings"

type Step string

const (
	StepInformation Step = "information"
	StepShipping    Step = "shipping"
	StepPayment     Step = "payment"
	StepReview      Step = "review"
)

// Steps is the fixed order a shopper moves through.
var Steps = []Step{StepInformation, StepShipping, StepPayment, StepReview}

// Index returns the position of s in Steps, or -1 for an unknown step.
func (s Step) Index() int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}

func (s Step) Valid() bool {
	return s.Index() >= 0
}

type ShippingMethod string

const (
	ShippingStandard ShippingMethod = "standard"
	ShippingExpress  ShippingMethod = "express"
)

func (m ShippingMethod) Valid() bool {
	return m == ShippingStandard || m == ShippingExpress
}

type PaymentMethod string

const (
	PaymentCard   PaymentMethod = "card"
	PaymentPayPal PaymentMethod = "paypal"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentCard || m == PaymentPayPal
}

type Address struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Address   string `json:"address"`
	Apartment string `json:"apartment,omitempty"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zipCode"`
	Country   string `json:"country"`
	Phone     string `json:"phone,omitempty"`
}

// MissingFields lists the required address fields that are blank.
// Apartment and Phone are optional.
func (a Address) MissingFields() []string {
	required := []struct {
		name  string
		value string
	}{
		{"email", a.Email},
		{"firstName", a.FirstName},
		{"lastName", a.LastName},
		{"address", a.Address},
		{"city", a.City},
		{"state", a.State},
		{"zipCode", a.ZipCode},
		{"country", a.Country},
	}

	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// AddressPatch carries the fields a form step submitted. Nil fields are left
// untouched when applied.
type AddressPatch struct {
	Email     *string `json:"email,omitempty"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Address   *string `json:"address,omitempty"`
	Apartment *string `json:"apartment,omitempty"`
	City      *string `json:"city,omitempty"`
	State     *string `json:"state,omitempty"`
	ZipCode   *string `json:"zipCode,omitempty"`
	Country   *string `json:"country,omitempty"`
	Phone     *string `json:"phone,omitempty"`
}

// Apply merges the patch into a and returns the result.
func (p AddressPatch) Apply(a Address) Address {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&a.Email, p.Email)
	set(&a.FirstName, p.FirstName)
	set(&a.LastName, p.LastName)
	set(&a.Address, p.Address)
	set(&a.Apartment, p.Apartment)
	set(&a.City, p.City)
	set(&a.State, p.State)
	set(&a.ZipCode, p.ZipCode)
	set(&a.Country, p.Country)
	set(&a.Phone, p.Phone)
	return a
}
