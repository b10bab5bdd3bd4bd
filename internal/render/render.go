// Package render fills the shell, error and success page templates.
//
// Substitution is literal and single-pass: placeholder text that appears inside a
// substituted value is never expanded again. Values are passed through an Escaper
// first; the default Literal escaper leaves them untouched, so rendered pages must
// not be treated as a sanitization boundary.
package render

import (
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"os"
	"strings"

	"github.com/JakeFAU/debugflow/web"
)

// Template placeholders.
const (
	PlaceholderData    = "{{ DATA }}"
	PlaceholderName    = "{{ NAME }}"
	PlaceholderError   = "{{ ERROR }}"
	PlaceholderCode    = "{{ CODE }}"
	PlaceholderCodeB64 = "{{ CODE_B64 }}"
)

// DefaultMaxEcho caps the characters of NAME and ERROR echoed into an error page.
const DefaultMaxEcho = 1000

// ErrMissingPlaceholder reports a template without one of its required slots.
var ErrMissingPlaceholder = errors.New("template missing placeholder")

// Escaper transforms a value before it is substituted into a template.
type Escaper func(string) string

// Literal returns s unchanged.
func Literal(s string) string { return s }

// HTML escapes s for use in HTML text and attribute values.
func HTML(s string) string { return html.EscapeString(s) }

// Templates is the immutable template set shared by every request.
type Templates struct {
	index     string
	errorPage string
	success   string
	escape    Escaper
	maxEcho   int
}

// Option customizes Templates.
type Option func(*Templates)

// WithEscaper sets the escaper applied to NAME, ERROR and CODE values.
func WithEscaper(e Escaper) Option {
	return func(t *Templates) {
		if e != nil {
			t.escape = e
		}
	}
}

// WithMaxEcho overrides DefaultMaxEcho.
func WithMaxEcho(n int) Option {
	return func(t *Templates) {
		if n > 0 {
			t.maxEcho = n
		}
	}
}

// New validates the three templates and returns a Templates.
func New(index, errorPage, success string, opts ...Option) (*Templates, error) {
	checks := []struct {
		name, body string
		slots      []string
	}{
		{web.IndexTemplate, index, []string{PlaceholderData}},
		{web.ErrorTemplate, errorPage, []string{PlaceholderName, PlaceholderError}},
		{web.SuccessTemplate, success, []string{PlaceholderName, PlaceholderCode, PlaceholderCodeB64}},
	}
	for _, c := range checks {
		for _, slot := range c.slots {
			if !strings.Contains(c.body, slot) {
				return nil, fmt.Errorf("%w: %s has no %s", ErrMissingPlaceholder, c.name, slot)
			}
		}
	}
	t := &Templates{
		index:     index,
		errorPage: errorPage,
		success:   success,
		escape:    Literal,
		maxEcho:   DefaultMaxEcho,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Load reads the templates from dir, or from the embedded assets when dir is empty.
func Load(dir string, opts ...Option) (*Templates, error) {
	if dir == "" {
		return LoadFS(web.Assets, opts...)
	}
	return LoadFS(os.DirFS(dir), opts...)
}

// LoadFS reads the templates from fsys.
func LoadFS(fsys fs.FS, opts ...Option) (*Templates, error) {
	var pages [3]string
	for i, name := range []string{web.IndexTemplate, web.ErrorTemplate, web.SuccessTemplate} {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", name, err)
		}
		pages[i] = string(data)
	}
	return New(pages[0], pages[1], pages[2], opts...)
}

// Shell places inner into the index template. An empty inner renders the landing page.
func (t *Templates) Shell(inner string) string {
	return strings.ReplaceAll(t.index, PlaceholderData, inner)
}

// Error renders the error fragment. context fills NAME and message fills ERROR;
// both are cut to the echo limit before escaping.
func (t *Templates) Error(message, context string) string {
	r := strings.NewReplacer(
		PlaceholderName, t.escape(Truncate(context, t.maxEcho)),
		PlaceholderError, t.escape(Truncate(message, t.maxEcho)),
	)
	return r.Replace(t.errorPage)
}

// Success renders the success fragment. CODE_B64 always carries the base64 of
// the unescaped code.
func (t *Templates) Success(name, code string) string {
	r := strings.NewReplacer(
		PlaceholderName, t.escape(name),
		PlaceholderCodeB64, base64.StdEncoding.EncodeToString([]byte(code)),
		PlaceholderCode, t.escape(code),
	)
	return r.Replace(t.success)
}

// Truncate returns the first n characters of s.
func Truncate(s string, n int) string {
	if n < 0 || len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
