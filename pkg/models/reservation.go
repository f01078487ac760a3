package models

import "time"

type Reservation struct {
	ID              string    `json:"id"`
	Name            string    `json:"name" validate:"required,min=2,max=255"`
	Email           string    `json:"email" validate:"required,max=320,email"`
	Phone           string    `json:"phone" validate:"required,min=10,max=32"`
	Date            string    `json:"date" validate:"required,datetime=2006-01-02"`
	Time            string    `json:"time" validate:"required,datetime=15:04"`
	PartySize       int       `json:"partySize" validate:"min=1,max=20"`
	SpecialRequests *string   `json:"specialRequests"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
}
