package filter

import "fmt"

func optionError(key, want string, got any) error {
	return fmt.Errorf("%w: option %q %s, got %T", ErrInvalidOption, key, want, got)
}

func fieldError(key, want string, got any) error {
	return fmt.Errorf("%w: field %q %s, got %T", ErrInvalidField, key, want, got)
}
