package extract

// Result is a validated extraction. Fields holds only schema fields that
// passed type checks; integers are int64 and string arrays are []string.
type Result struct {
	Schema   string
	Fields   map[string]any
	Dropped  []string
	Repaired bool
}

// String returns a string field, or "" when absent.
func (r *Result) String(name string) string {
	s, _ := r.Fields[name].(string)
	return s
}

// StringPtr returns a string field, or nil when absent or empty.
func (r *Result) StringPtr(name string) *string {
	s, ok := r.Fields[name].(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

// Number returns a numeric field. Integer fields are widened.
func (r *Result) Number(name string) (float64, bool) {
	switch v := r.Fields[name].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Int returns an integer field.
func (r *Result) Int(name string) (int64, bool) {
	v, ok := r.Fields[name].(int64)
	return v, ok
}

// Bool returns a boolean field.
func (r *Result) Bool(name string) (bool, bool) {
	v, ok := r.Fields[name].(bool)
	return v, ok
}

// Strings returns a string_array field.
func (r *Result) Strings(name string) []string {
	v, _ := r.Fields[name].([]string)
	return v
}

// Has reports whether the field survived validation.
func (r *Result) Has(name string) bool {
	_, ok := r.Fields[name]
	return ok
}
