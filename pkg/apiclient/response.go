package apiclient

import (
	"encoding/json"
	"mime"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/observastack/observastack/pkg/apierrors"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	RequestID  string
}

// ContentType returns the media type without parameters.
func (r *Response) ContentType() string {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mediaType
}

func (r *Response) IsJSON() bool {
	ct := r.ContentType()
	return ct == "application/json" || strings.HasSuffix(ct, "+json")
}

// Decode stores the body in out according to the content type. JSON bodies
// are unmarshalled; any other body is assigned as text to a *string, *any or
// *[]byte target.
func (r *Response) Decode(out any) error {
	if out == nil || len(r.Body) == 0 {
		return nil
	}
	if r.IsJSON() {
		if err := json.Unmarshal(r.Body, out); err != nil {
			e := apierrors.Wrap(apierrors.KindHTTP, err, "failed to decode response")
			e.StatusCode = r.StatusCode
			e.StatusText = http.StatusText(r.StatusCode)
			return e
		}
		return nil
	}
	switch target := out.(type) {
	case *string:
		*target = string(r.Body)
	case *[]byte:
		*target = append([]byte(nil), r.Body...)
	case *any:
		*target = string(r.Body)
	default:
		e := apierrors.Newf(apierrors.KindHTTP, "cannot decode %q response into %T", r.ContentType(), out)
		e.StatusCode = r.StatusCode
		return e
	}
	return nil
}

// errorPayload covers {error:{code,message,details}}, {error:"..."} and the
// {detail:...} shape of the backend's validation layer.
type errorPayload struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail"`
}

type structuredError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

type validationDetail struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

// decodeError maps a non-2xx response onto the taxonomy. The explicitly
// mapped statuses win over any server-declared kind.
func decodeError(resp *Response) error {
	e := &apierrors.Error{
		Kind:       apierrors.FromStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
	}

	var payload errorPayload
	if len(resp.Body) > 0 && json.Unmarshal(resp.Body, &payload) == nil {
		var structured structuredError
		var plain string
		switch {
		case len(payload.Error) > 0 && json.Unmarshal(payload.Error, &structured) == nil:
			e.Code = structured.Code
			e.Message = structured.Message
			e.Details = structured.Details
		case len(payload.Error) > 0 && json.Unmarshal(payload.Error, &plain) == nil:
			e.Message = plain
		}
		if e.Message == "" {
			e.Message = payload.Message
		}
		if len(payload.Detail) > 0 {
			var text string
			var details []validationDetail
			if json.Unmarshal(payload.Detail, &text) == nil {
				if e.Message == "" {
					e.Message = text
				}
			} else if json.Unmarshal(payload.Detail, &details) == nil {
				e.Fields = append(e.Fields, detailFields(details)...)
			}
		}
		e.Fields = append(e.Fields, fieldsFromDetails(e.Details)...)
	} else if len(resp.Body) > 0 && !resp.IsJSON() {
		e.Message = strings.TrimSpace(string(resp.Body))
	}

	if e.Kind == apierrors.KindHTTP && e.Code != "" {
		if kind, ok := apierrors.KindFromCode(e.Code); ok {
			e.Kind = kind
		}
	}
	if e.Kind == apierrors.KindRateLimit {
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	if e.Message == "" {
		e.Message = defaultMessage(e.Kind, resp)
	}
	return e
}

func defaultMessage(kind apierrors.Kind, resp *Response) string {
	switch kind {
	case apierrors.KindAuthentication:
		return "Authentication required"
	case apierrors.KindAuthorization:
		return "Access denied"
	case apierrors.KindValidation:
		return "Validation failed"
	case apierrors.KindRateLimit:
		return "Rate limit exceeded"
	case apierrors.KindServiceUnavailable:
		return "Service temporarily unavailable"
	default:
		if resp.Status != "" {
			return resp.Status
		}
		return http.StatusText(resp.StatusCode)
	}
}

func detailFields(details []validationDetail) []apierrors.FieldError {
	fields := make([]apierrors.FieldError, 0, len(details))
	for _, d := range details {
		var parts []string
		for _, loc := range d.Loc {
			switch v := loc.(type) {
			case string:
				if v == "body" || v == "query" || v == "path" {
					continue
				}
				parts = append(parts, v)
			case float64:
				parts = append(parts, strconv.Itoa(int(v)))
			}
		}
		fields = append(fields, apierrors.FieldError{Field: strings.Join(parts, "."), Message: d.Msg})
	}
	return fields
}

// fieldsFromDetails reads details.fields given either as a list of
// {field,message} objects or as a field to message map.
func fieldsFromDetails(details map[string]any) []apierrors.FieldError {
	raw, ok := details["fields"]
	if !ok {
		return nil
	}
	var fields []apierrors.FieldError
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			field, _ := m["field"].(string)
			message, _ := m["message"].(string)
			fields = append(fields, apierrors.FieldError{Field: field, Message: message})
		}
	case map[string]any:
		for field, message := range v {
			text, _ := message.(string)
			fields = append(fields, apierrors.FieldError{Field: field, Message: text})
		}
		slices.SortFunc(fields, func(a, b apierrors.FieldError) int {
			return strings.Compare(a.Field, b.Field)
		})
	}
	return fields
}

// parseRetryAfter accepts delta seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
