package service

import (
	"fmt"
	"unicode/utf8"
)

const minPasswordLength = 6

type passwordPolicyError struct {
	minLength int
}

func (e passwordPolicyError) Error() string {
	return fmt.Sprintf("password must be at least %d characters", e.minLength)
}

func (e passwordPolicyError) Is(target error) bool {
	return target == ErrWeakPassword
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return passwordPolicyError{minLength: minPasswordLength}
	}
	return nil
}
