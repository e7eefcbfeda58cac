// Package http serves the ledger as a JSON API.
//
// This file implements utilities for parsing and validating request bodies.
// Handlers accept JSON or form-encoded bodies through one parser.
package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"expensemanager/internal/core"
)

// maxBodyBytes caps request bodies; ledger inputs are a few short fields.
const maxBodyBytes = 64 << 10

var errBodyTooLarge = core.NewValidationError("body", "request body too large")

// RequestBodyParser reads a JSON object or a form-encoded body once and
// answers field lookups from it.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body == nil {
		return p
	}

	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if p.err == nil && len(p.body) > maxBodyBytes {
		p.err = errBodyTooLarge
	}
	return p
}

// Parse decodes the body. Malformed input is reported as a validation error.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	trimmed := strings.TrimSpace(string(p.body))
	if trimmed == "" {
		p.formData = url.Values{}
		return nil
	}

	if trimmed[0] == '{' || strings.HasPrefix(p.contentType, "application/json") {
		p.jsonData = make(map[string]any)
		if err := json.Unmarshal([]byte(trimmed), &p.jsonData); err != nil {
			p.jsonData = nil
			p.err = core.NewValidationError("body", "malformed JSON")
			return p.err
		}
		return nil
	}

	var err error
	if p.formData, err = url.ParseQuery(trimmed); err != nil {
		p.err = core.NewValidationError("body", "malformed form data")
	}
	return p.err
}

// Get returns a trimmed, control-character free value for key, or "".
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// Raw returns the value for key without sanitizing. Passwords go through
// here so that no character of them is dropped.
func (p *RequestBodyParser) Raw(key string) string {
	if p.jsonData != nil {
		return stringValue(p.jsonData[key])
	}
	if p.formData != nil {
		return p.formData.Get(key)
	}
	return ""
}

// Amount parses key as a positive decimal amount.
func (p *RequestBodyParser) Amount(key string) (core.Money, error) {
	cents, err := core.ParseDecimalToCents(p.Get(key))
	if err != nil {
		return core.Money{}, err
	}
	return core.Money{Cents: cents}, nil
}

// OptionalMoney parses key as an amount that may be zero; absent means zero.
func (p *RequestBodyParser) OptionalMoney(key string) (core.Money, error) {
	v := p.Get(key)
	if v == "" {
		return core.Money{}, nil
	}
	m, err := core.ParseMoney(v)
	if err != nil {
		return core.Money{}, err
	}
	return m, nil
}

// Date reads key through the date normalizer. Absent means the zero date,
// which the ledger replaces with today.
func (p *RequestBodyParser) Date(key string) core.Date {
	v := p.Get(key)
	if v == "" {
		return core.Date{}
	}
	d, _ := core.ParseDate(v)
	return d
}

func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}
