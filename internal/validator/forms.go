package validator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"agentdesk/internal/apperr"
	"agentdesk/internal/models"
)

// FormFunc checks the decoded formData of one category.
type FormFunc func(form map[string]any) error

type formSpec struct {
	validate      FormFunc
	resultBearing bool
}

// FormRegistry maps a service category to its formData check. Categories
// without an entry only need a JSON object.
type FormRegistry struct {
	mu    sync.RWMutex
	specs map[string]formSpec
}

func NewFormRegistry() *FormRegistry {
	return &FormRegistry{specs: make(map[string]formSpec)}
}

// DefaultForms returns a registry with the built-in categories.
func DefaultForms() *FormRegistry {
	r := NewFormRegistry()
	r.Register("identity_verification", validateIdentity, true)
	r.Register("business_registration", validateBusinessRegistration, true)
	r.Register("exam_pin", validateExamPin, true)
	r.Register("airtime", validateAirtime, false)
	r.Register("data", validateData, false)
	return r
}

func (r *FormRegistry) Register(category string, fn FormFunc, resultBearing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[category] = formSpec{validate: fn, resultBearing: resultBearing}
}

// ResultBearing reports whether COMPLETED requests of the category carry a
// result payload.
func (r *FormRegistry) ResultBearing(category string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.specs[category].resultBearing
}

func (r *FormRegistry) Validate(category string, form models.Payload) error {
	const op = "validator.Validate"
	if form.Empty() {
		return apperr.E(apperr.ValidationError, op, "form_data is required")
	}
	obj, err := form.Object()
	if err != nil {
		return apperr.E(apperr.ValidationError, op, "form_data must be a JSON object")
	}
	r.mu.RLock()
	spec, ok := r.specs[category]
	r.mu.RUnlock()
	if !ok || spec.validate == nil {
		return nil
	}
	if err := spec.validate(obj); err != nil {
		return &apperr.Error{Kind: apperr.ValidationError, Op: op, Message: err.Error()}
	}
	return nil
}

var (
	idNumberRegex = regexp.MustCompile(`^\d{11}$`)
	rcNumberRegex = regexp.MustCompile(`^(RC|BN|IT)?\d{4,8}$`)
	phoneRegex    = regexp.MustCompile(`^(\+234|234|0)[789][01]\d{8}$`)
	planCodeRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,40}$`)
)

var (
	examBodies   = map[string]bool{"WAEC": true, "NECO": true, "NABTEB": true}
	networks     = map[string]bool{"MTN": true, "GLO": true, "AIRTEL": true, "9MOBILE": true}
	companyTypes = map[string]bool{"BN": true, "RC": true, "IT": true, "LLC": true, "PLC": true}
)

func validateIdentity(form map[string]any) error {
	id, err := requiredString(form, "id_number")
	if err != nil {
		return err
	}
	if !idNumberRegex.MatchString(id) {
		return fmt.Errorf("id_number must be 11 digits")
	}
	return nil
}

func validateBusinessRegistration(form map[string]any) error {
	rc, err := requiredString(form, "rc_number")
	if err != nil {
		return err
	}
	if !rcNumberRegex.MatchString(strings.ToUpper(rc)) {
		return fmt.Errorf("rc_number is malformed")
	}
	companyType, err := requiredString(form, "company_type")
	if err != nil {
		return err
	}
	if !companyTypes[strings.ToUpper(companyType)] {
		return fmt.Errorf("company_type %q is not supported", companyType)
	}
	return nil
}

func validateExamPin(form map[string]any) error {
	body, err := requiredString(form, "exam_body")
	if err != nil {
		return err
	}
	if !examBodies[strings.ToUpper(body)] {
		return fmt.Errorf("exam_body must be one of WAEC, NECO, NABTEB")
	}
	quantity, err := requiredInt(form, "quantity")
	if err != nil {
		return err
	}
	if quantity < 1 || quantity > 10 {
		return fmt.Errorf("quantity must be between 1 and 10")
	}
	return nil
}

func validateAirtime(form map[string]any) error {
	phone, err := requiredString(form, "phone")
	if err != nil {
		return err
	}
	if !phoneRegex.MatchString(phone) {
		return fmt.Errorf("phone is not a valid Nigerian mobile number")
	}
	network, err := requiredString(form, "network")
	if err != nil {
		return err
	}
	if !networks[strings.ToUpper(network)] {
		return fmt.Errorf("network %q is not supported", network)
	}
	return nil
}

func validateData(form map[string]any) error {
	if err := validateAirtime(form); err != nil {
		return err
	}
	plan, err := requiredString(form, "plan_code")
	if err != nil {
		return err
	}
	if !planCodeRegex.MatchString(plan) {
		return fmt.Errorf("plan_code is malformed")
	}
	return nil
}

func requiredString(form map[string]any, key string) (string, error) {
	raw, ok := form[key]
	if !ok || raw == nil {
		return "", fmt.Errorf("%s is required", key)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return value, nil
}

// requiredInt accepts a JSON number or a numeric string.
func requiredInt(form map[string]any, key string) (int, error) {
	raw, ok := form[key]
	if !ok || raw == nil {
		return 0, fmt.Errorf("%s is required", key)
	}
	switch v := raw.(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%s must be a whole number", key)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%s must be a whole number", key)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s must be a number", key)
	}
}
