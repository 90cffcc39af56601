package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	// ErrInvalidInput indicates the input failed validation
	ErrInvalidInput = errors.New("invalid input")

	// ocid1.<resource type>.<realm>.[region][.future use].<unique id>
	ocidRegex = regexp.MustCompile(`^ocid1\.[a-z0-9]+\.[a-z0-9]+\.[a-z0-9-]*(\.[a-z0-9-]*)?\.[a-zA-Z0-9]+$`)

	poolIDRegex  = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,254}$`)
	subjectRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9@._-]{2,63}$`)
)

// SanitizeString removes potentially dangerous characters and trims whitespace
func SanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")

	var builder strings.Builder
	for _, r := range input {
		if !unicode.IsControl(r) {
			builder.WriteRune(r)
		}
	}

	return builder.String()
}

// IsOCID reports whether id has the shape of an Oracle Cloud identifier.
func IsOCID(id string) bool {
	return ocidRegex.MatchString(id)
}

// ValidateOCID checks that id is an OCID of the given resource type.
func ValidateOCID(resourceType, id string) error {
	if !IsOCID(id) {
		return fmt.Errorf("%w: %q is not an OCID", ErrInvalidInput, id)
	}
	if !strings.HasPrefix(id, "ocid1."+resourceType+".") {
		return fmt.Errorf("%w: %q is not a %s OCID", ErrInvalidInput, id, resourceType)
	}
	return nil
}

// ValidatePoolID accepts node pool OCIDs and the plain identifiers used by
// the simulator.
func ValidatePoolID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: node pool id cannot be empty", ErrInvalidInput)
	}
	if strings.HasPrefix(id, "ocid1.") {
		return ValidateOCID("nodepool", id)
	}
	if !poolIDRegex.MatchString(id) {
		return fmt.Errorf("%w: node pool id must contain only letters, numbers, dots, hyphens and underscores", ErrInvalidInput)
	}
	return nil
}

// ValidateSubject checks the subject an API token is issued to.
func ValidateSubject(subject string) error {
	subject = SanitizeString(subject)

	if len(subject) < 3 {
		return fmt.Errorf("%w: subject must be at least 3 characters", ErrInvalidInput)
	}
	if len(subject) > 64 {
		return fmt.Errorf("%w: subject must not exceed 64 characters", ErrInvalidInput)
	}
	if !subjectRegex.MatchString(subject) {
		return fmt.Errorf("%w: subject contains invalid characters", ErrInvalidInput)
	}
	return nil
}
