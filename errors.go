package frontchat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ErrorKind classifies failures returned by the API gateway.
type ErrorKind string

const (
	KindAuthExpired  ErrorKind = "auth_expired"
	KindUnauthorized ErrorKind = "unauthorized"
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
	KindNetwork      ErrorKind = "network"
	KindServer       ErrorKind = "server"
)

// APIError represents an API error.
type APIError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Fields  map[string][]string
	Err     error
}

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrAuthExpired  = &APIError{Kind: KindAuthExpired}
	ErrUnauthorized = &APIError{Kind: KindUnauthorized}
	ErrValidation   = &APIError{Kind: KindValidation}
	ErrNotFound     = &APIError{Kind: KindNotFound}
	ErrNetwork      = &APIError{Kind: KindNetwork}
	ErrServer       = &APIError{Kind: KindServer}
)

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "; %s: %s", k, strings.Join(e.Fields[k], ", "))
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func networkError(err error) *APIError {
	return &APIError{Kind: KindNetwork, Err: err}
}

func validationError(msg string) *APIError {
	return &APIError{Kind: KindValidation, Message: msg}
}

// statusError builds an APIError from a non-2xx response. Bodies follow the
// DRF conventions: {"detail": "..."} or {"field": ["msg", ...]}.
func statusError(status int, body []byte, authenticated bool) *APIError {
	e := &APIError{Status: status}
	switch {
	case status == http.StatusUnauthorized && authenticated:
		e.Kind = KindAuthExpired
	case status == http.StatusUnauthorized:
		e.Kind = KindUnauthorized
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status >= 400 && status < 500:
		e.Kind = KindValidation
	default:
		e.Kind = KindServer
	}
	parseErrorBody(e, body)
	if e.Message == "" && len(e.Fields) == 0 {
		e.Message = http.StatusText(status)
	}
	return e
}

func parseErrorBody(e *APIError, body []byte) {
	if len(body) == 0 {
		return
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		if s := strings.TrimSpace(string(body)); len(s) <= 200 && !strings.HasPrefix(s, "<") {
			e.Message = s
		}
		return
	}
	for key, val := range raw {
		var s string
		if json.Unmarshal(val, &s) == nil {
			if key == "detail" || key == "error" || key == "message" {
				e.Message = s
			} else {
				addField(e, key, s)
			}
			continue
		}
		var list []string
		if json.Unmarshal(val, &list) == nil {
			if key == "non_field_errors" {
				e.Message = strings.Join(list, ", ")
			} else {
				for _, item := range list {
					addField(e, key, item)
				}
			}
		}
	}
}

func addField(e *APIError, key, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[key] = append(e.Fields[key], msg)
}
