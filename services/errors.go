package services

import "errors"

var (
	ErrQuestionNotFound   = errors.New("question not found")
	ErrChoiceNotFound     = errors.New("choice not found")
	ErrInvalidChoice      = errors.New("invalid choice")
	ErrValidation         = errors.New("validation error")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidToken       = errors.New("invalid token")
)
