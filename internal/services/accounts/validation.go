package accounts

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"school-meals/internal/apperr"
	"school-meals/internal/models"
)

const (
	minLoginLength    = 3
	maxLoginLength    = 50
	minPasswordLength = 6
	// bcrypt ignores everything past 72 bytes
	maxPasswordBytes = 72
	maxNameLength    = 100
)

func validateLogin(login string) error {
	if login == "" {
		return apperr.Invalid("login", "login is required")
	}
	if len(login) < minLoginLength || len(login) > maxLoginLength {
		return apperr.Invalid("login", "login must be between 3 and 50 characters")
	}
	for _, r := range login {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-') {
			return apperr.Invalid("login", "login may contain only letters, digits, '.', '_' and '-'")
		}
	}
	return nil
}

func validatePassword(password string) error {
	if password == "" {
		return apperr.Invalid("password", "password is required")
	}
	if len(password) < minPasswordLength {
		return apperr.Invalid("password", "password must be at least 6 characters")
	}
	if len(password) > maxPasswordBytes {
		return apperr.Invalid("password", "password must be at most 72 bytes")
	}
	return nil
}

func validateName(field, name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.Invalid(field, field+" is required")
	}
	if len(name) > maxNameLength {
		return apperr.Invalid(field, field+" must be less than 100 characters")
	}
	return nil
}

func validateRole(role models.Role) error {
	if !role.Valid() {
		return apperr.Invalid("roleId", "invalid role")
	}
	return nil
}

func validateStatus(status models.AccountStatus) error {
	if !status.Valid() {
		return apperr.Invalid("statusId", "invalid status")
	}
	return nil
}

func validateClassID(id *int64) error {
	if id != nil && *id <= 0 {
		return apperr.Invalid("classId", "must be a positive integer")
	}
	return nil
}

func validateBalance(amount decimal.Decimal) error {
	if !amount.Equal(amount.Round(2)) {
		return apperr.Invalid("balance", "balance must have at most two decimal places")
	}
	return nil
}

// ValidateRegistration checks a self-registration request
func ValidateRegistration(req *RegisterRequest) error {
	req.Login = strings.TrimSpace(req.Login)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)

	if err := validateLogin(req.Login); err != nil {
		return err
	}
	if err := validatePassword(req.Password); err != nil {
		return err
	}
	if err := validateName("firstName", req.FirstName); err != nil {
		return err
	}
	if err := validateName("lastName", req.LastName); err != nil {
		return err
	}
	return validateClassID(req.ClassID)
}

// ValidatePatch checks every field the patch sets
func ValidatePatch(p *models.UserPatch) error {
	if p.Empty() {
		return apperr.Invalid("body", "no fields to update")
	}
	if p.Login != nil {
		trimmed := strings.TrimSpace(*p.Login)
		p.Login = &trimmed
		if err := validateLogin(trimmed); err != nil {
			return err
		}
	}
	if p.Password != nil {
		if err := validatePassword(*p.Password); err != nil {
			return err
		}
	}
	if p.FirstName != nil {
		if err := validateName("firstName", *p.FirstName); err != nil {
			return err
		}
	}
	if p.LastName != nil {
		if err := validateName("lastName", *p.LastName); err != nil {
			return err
		}
	}
	if err := validateClassID(p.ClassID); err != nil {
		return err
	}
	if p.Role != nil {
		if err := validateRole(*p.Role); err != nil {
			return err
		}
	}
	if p.Status != nil {
		if err := validateStatus(*p.Status); err != nil {
			return err
		}
	}
	if p.Balance != nil {
		if err := validateBalance(*p.Balance); err != nil {
			return err
		}
	}
	return nil
}
