package domain

import "time"

// Registrant links a chat identity to the key it received.
type Registrant struct {
	RegistrantID   string    `json:"id" dynamodbav:"registrant_id"`
	ExternalUserID string    `json:"external_user_id" dynamodbav:"external_user_id"`
	FirstName      string    `json:"first_name" dynamodbav:"first_name"`
	LastName       string    `json:"last_name" dynamodbav:"last_name"`
	Email          string    `json:"email" dynamodbav:"email"`
	AssignedKey    string    `json:"assigned_key" dynamodbav:"assigned_key"`
	CreatedAt      time.Time `json:"created" dynamodbav:"created_at"`
}

// RegisterRequest carries the fields collected by the dialogue.
// First and last name are free-form and may be anything the user typed.
type RegisterRequest struct {
	ExternalUserID string `json:"external_user_id" validate:"required"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email" validate:"required,emailshape"`
}
