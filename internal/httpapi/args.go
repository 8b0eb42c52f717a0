package httpapi

import (
	"fmt"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/asaskevich/govalidator"

	"aldar.app/internal/apperr"
)

type ArgType int

const (
	String ArgType = iota
	Int
	Float
	Bool
	Email
)

// Arg declares one request parameter. Values are read from the JSON body
// first, then from the query string.
type Arg struct {
	Name     string
	Type     ArgType
	Required bool
	Default  any
	Choices  []string
}

// Args holds parsed parameters keyed by name. Absent optional parameters
// without a default are not present.
type Args map[string]any

func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

func (a Args) Int(name string) int64 {
	n, _ := a[name].(int64)
	return n
}

func (a Args) Float(name string) float64 {
	f, _ := a[name].(float64)
	return f
}

// FloatPtr is nil when the parameter was not sent.
func (a Args) FloatPtr(name string) *float64 {
	f, ok := a[name].(float64)
	if !ok {
		return nil
	}
	return &f
}

func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// parseArgs validates specs in declaration order and stops at the first
// failing parameter with a 400 "name: message".
func parseArgs(specs []Arg, body map[string]any, query url.Values) (Args, error) {
	out := make(Args, len(specs))
	for _, spec := range specs {
		raw, ok := lookupArg(spec.Name, body, query)
		if !ok {
			if spec.Required {
				return nil, apperr.Validation(spec.Name + ": missing required parameter")
			}
			if spec.Default != nil {
				out[spec.Name] = spec.Default
			}
			continue
		}
		v, err := convertArg(spec, raw)
		if err != nil {
			return nil, apperr.Validation(spec.Name + ": " + err.Error())
		}
		out[spec.Name] = v
	}
	return out, nil
}

func lookupArg(name string, body map[string]any, query url.Values) (any, bool) {
	if v, ok := body[name]; ok && v != nil {
		return v, true
	}
	if query.Has(name) {
		return query.Get(name), true
	}
	return nil, false
}

func convertArg(spec Arg, raw any) (any, error) {
	var (
		v   any
		err error
	)
	switch spec.Type {
	case Int:
		v, err = toInt(raw)
	case Float:
		v, err = toFloat(raw)
	case Bool:
		v, err = toBool(raw)
	case Email:
		s := toString(raw)
		if !govalidator.IsEmail(s) {
			return nil, fmt.Errorf("%q is not a valid email", s)
		}
		v = s
	default:
		v = toString(raw)
	}
	if err != nil {
		return nil, err
	}
	if len(spec.Choices) > 0 && !slices.Contains(spec.Choices, fmt.Sprint(v)) {
		return nil, fmt.Errorf("%v is not a valid choice", v)
	}
	return v, nil
}

func toString(raw any) string {
	switch t := raw.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func toInt(raw any) (int64, error) {
	switch t := raw.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("invalid literal for int(): %v", t)
		}
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid literal for int(): %q", t)
		}
		return n, nil
	}
	return 0, fmt.Errorf("invalid literal for int(): %v", raw)
}

func toFloat(raw any) (float64, error) {
	switch t := raw.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("could not convert string to float: %q", t)
		}
		return f, nil
	}
	return 0, fmt.Errorf("could not convert to float: %v", raw)
}

func toBool(raw any) (bool, error) {
	switch t := raw.(type) {
	case bool:
		return t, nil
	case float64:
		return t != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off", "":
			return false, nil
		}
	}
	return false, fmt.Errorf("invalid literal for boolean: %v", raw)
}
