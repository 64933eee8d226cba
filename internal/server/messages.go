package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/shineum/mailr/internal/intent"
)

// maxRequestBody caps a message request, attachments included, at 25 MB.
const maxRequestBody = 25 << 20

const (
	previewPlainText = "Hallo plain-text!"
	previewGreeting  = "Hallo test!"
)

// addressList accepts either a JSON array of addresses or a single string
// separated by commas or semicolons.
type addressList []string

func (a *addressList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.New("address list must be a string or an array of strings")
		}
		list = strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	}

	out := make([]string, 0, len(list))
	for _, p := range list {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*a = out
	return nil
}

// envelope is the request body of every message endpoint. Attachment
// contents are base64 in JSON.
type envelope[B any] struct {
	ID          string            `json:"id"`
	From        string            `json:"from"`
	To          addressList       `json:"to"`
	Cc          addressList       `json:"cc"`
	Subject     string            `json:"subject"`
	IsHTML      bool              `json:"isHtml"`
	Theme       string            `json:"theme"`
	Attachments map[string][]byte `json:"attachments"`
	Body        B                 `json:"body"`
}

type testBody struct {
	Greeting string `json:"greeting"`
}

func (e *envelope[B]) intent(canSend bool) intent.Intent {
	return intent.Intent{
		ID:          e.ID,
		From:        e.From,
		To:          e.To,
		Cc:          e.Cc,
		Subject:     e.Subject,
		IsHTML:      e.IsHTML,
		Theme:       e.Theme,
		Attachments: e.Attachments,
		CanSend:     canSend,
	}
}

func decodeEnvelope[B any](w http.ResponseWriter, r *http.Request) (*envelope[B], error) {
	var env envelope[B]
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&env); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("request body is empty")
		}
		return nil, fmt.Errorf("malformed request body: %w", err)
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	return &env, nil
}

// messages serves the message endpoints. POST renders the view from the
// request and records an email intent for it; GET renders a fixed preview.
type messages struct {
	views *views
	log   *slog.Logger
}

func (m *messages) plainTextPreview(w http.ResponseWriter, r *http.Request) {
	mode, ok := m.viewMode(w, r)
	if !ok {
		return
	}
	out, err := m.views.plainText(mode, "Plain text", defaultTheme, previewPlainText)
	m.write(w, r, out, err)
}

func (m *messages) plainText(w http.ResponseWriter, r *http.Request) {
	mode, ok := m.viewMode(w, r)
	if !ok {
		return
	}
	env, err := decodeEnvelope[string](w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := m.views.plainText(mode, env.Subject, normalizeTheme(env.Theme), env.Body)
	if err == nil {
		m.record(r, env.intent(!designMode(r)))
	}
	m.write(w, r, out, err)
}

func (m *messages) testPreview(w http.ResponseWriter, r *http.Request) {
	mode, ok := m.viewMode(w, r)
	if !ok {
		return
	}
	out, err := m.views.test(mode, "Test", defaultTheme, previewGreeting)
	m.write(w, r, out, err)
}

func (m *messages) test(w http.ResponseWriter, r *http.Request) {
	mode, ok := m.viewMode(w, r)
	if !ok {
		return
	}
	env, err := decodeEnvelope[testBody](w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := m.views.test(mode, env.Subject, normalizeTheme(env.Theme), env.Body.Greeting)
	if err == nil {
		m.record(r, env.intent(!designMode(r)))
	}
	m.write(w, r, out, err)
}

func (m *messages) viewMode(w http.ResponseWriter, r *http.Request) (viewMode, bool) {
	mode, err := parseViewMode(r.URL.Query().Get("view"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return mode, false
	}
	return mode, true
}

func (m *messages) record(r *http.Request, in intent.Intent) {
	if err := intent.Record(r.Context(), in); err != nil {
		m.log.WarnContext(r.Context(), "email intent not recorded", "email_id", in.ID, "error", err)
	}
}

func (m *messages) write(w http.ResponseWriter, r *http.Request, out rendered, err error) {
	if err != nil {
		m.log.ErrorContext(r.Context(), "rendering view failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to render view")
		return
	}
	w.Header().Set("Content-Type", out.contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, out.body)
}

// designMode reports whether the caller only wants to see the rendered view.
func designMode(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("isDesignMode"))
	return err == nil && v
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
