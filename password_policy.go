package accounts

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// PasswordPolicy is the password quality collaborator consulted before a
// password credential is stored.
type PasswordPolicy interface {
	// Validate returns FieldErrors keyed "password" when the password is rejected.
	Validate(password string, account *Account) error
}

// PasswordPolicyFunc adapts a function to PasswordPolicy
type PasswordPolicyFunc func(password string, account *Account) error

func (f PasswordPolicyFunc) Validate(password string, account *Account) error {
	if f == nil {
		return nil
	}
	return f(password, account)
}

// DefaultPasswordPolicy rejects short, numeric-only, common passwords and
// passwords too similar to the account email.
type DefaultPasswordPolicy struct {
	MinLength           int
	MaxSimilarity       float64
	CommonPasswords     map[string]struct{}
	AllowNumericOnly    bool
	DisableSimilarCheck bool
}

// NewDefaultPasswordPolicy returns min length 8 and 0.7 similarity
func NewDefaultPasswordPolicy() *DefaultPasswordPolicy {
	common := make(map[string]struct{}, len(commonPasswords))
	for _, p := range commonPasswords {
		common[p] = struct{}{}
	}
	return &DefaultPasswordPolicy{
		MinLength:       8,
		MaxSimilarity:   0.7,
		CommonPasswords: common,
	}
}

func (p *DefaultPasswordPolicy) Validate(password string, account *Account) error {
	var problems []string

	if utf8.RuneCountInString(password) < p.MinLength {
		problems = append(problems, "This password is too short.")
	}

	if _, ok := p.CommonPasswords[strings.ToLower(strings.TrimSpace(password))]; ok {
		problems = append(problems, "This password is too common.")
	}

	if !p.AllowNumericOnly && password != "" && isNumeric(password) {
		problems = append(problems, "This password is entirely numeric.")
	}

	if !p.DisableSimilarCheck && account != nil && p.tooSimilar(password, account.Email) {
		problems = append(problems, "The password is too similar to the email.")
	}

	if len(problems) == 0 {
		return nil
	}
	return NewFieldError("password", strings.Join(problems, " "))
}

var nonWord = regexp.MustCompile(`\W+`)

func (p *DefaultPasswordPolicy) tooSimilar(password, email string) bool {
	email = strings.ToLower(email)
	if email == "" {
		return false
	}
	password = strings.ToLower(password)

	candidates := append([]string{email}, nonWord.Split(email, -1)...)
	for _, c := range candidates {
		if len(c) < 3 {
			continue
		}
		if similarity(password, c) >= p.MaxSimilarity {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// similarity is 2*M/T where M is the length of the longest common substring
// and T the total length of both strings.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	best := 0
	for i := 1; i <= len(ra); i++ {
		cur := make([]int, len(rb)+1)
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > best {
					best = cur[j]
				}
			}
		}
		prev = cur
	}
	return 2 * float64(best) / float64(len(ra)+len(rb))
}

var commonPasswords = []string{
	"password", "password1", "password123", "passw0rd", "123456", "12345678",
	"123456789", "1234567890", "qwerty", "qwerty123", "qwertyuiop", "abc123",
	"111111", "1q2w3e4r", "iloveyou", "admin", "admin123", "welcome",
	"welcome1", "letmein", "monkey", "dragon", "football", "baseball",
	"sunshine", "princess", "master", "trustno1", "superman", "starwars",
	"changeme", "secret", "whatever", "zaq12wsx", "987654321", "asdfghjkl",
}
