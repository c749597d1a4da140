package models

import (
	"carepay/src/types"
)

// User is a paying client.
type User struct {
	ID               uint    `gorm:"primarykey" json:"id"`
	Name             string  `json:"name,omitempty"`
	Email            string  `json:"email,omitempty"`
	Role             string  `json:"role,omitempty"`
	Country          string  `json:"country,omitempty"`
	StripeCustomerId *string `json:"-"`

	Bookings []Booking `gorm:"foreignKey:PayerID" json:"bookings,omitempty"`

	types.Timestamps
}
