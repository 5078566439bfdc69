// Package bootscript renders the first-boot script that registers a VM as an
// ephemeral CI runner, and encodes it for delivery as instance metadata.
package bootscript

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"text/template"
)

// LocalAccount is the local OS account the runner service logs on as.
type LocalAccount struct {
	Username string
	Password string
}

// Params are the values substituted into the boot script.
type Params struct {
	Token         string
	RepositoryURL string
	RunnerName    string
	Labels        []string
	// LocalAccount is optional; without it the runner service uses the
	// default service account.
	LocalAccount *LocalAccount
}

// Payload is a rendered boot script. It is only ever held in memory.
type Payload struct {
	script []byte
}

// Script returns the rendered script text.
func (p *Payload) Script() string {
	return string(p.script)
}

// Encode returns the transport form used as VM custom data.
func (p *Payload) Encode() string {
	return base64.StdEncoding.EncodeToString(p.script)
}

// Decode reverses Encode.
func Decode(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode boot payload: %w", err)
	}
	return string(data), nil
}

// RepositoryURL returns the web URL of an "org/repo" repository.
func RepositoryURL(repo string) string {
	return "https://github.com/" + repo
}

var tmpl = template.Must(template.New("boot-script").
	Option("missingkey=error").
	Funcs(template.FuncMap{
		"psquote": psQuote,
		"join":    strings.Join,
	}).
	Parse(runnerTemplate))

// Compose renders the boot script for p.
func Compose(p Params) (*Payload, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p); err != nil {
		return nil, fmt.Errorf("failed to execute boot script template: %w", err)
	}
	return &Payload{script: buf.Bytes()}, nil
}

func (p Params) validate() error {
	var missing []string
	if p.Token == "" {
		missing = append(missing, "token")
	}
	if p.RepositoryURL == "" {
		missing = append(missing, "repository url")
	}
	if p.RunnerName == "" {
		missing = append(missing, "runner name")
	}
	if len(p.Labels) == 0 {
		missing = append(missing, "labels")
	}
	if p.LocalAccount != nil {
		if p.LocalAccount.Username == "" {
			missing = append(missing, "local account username")
		}
		if p.LocalAccount.Password == "" {
			missing = append(missing, "local account password")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("boot script parameters missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// psQuote renders s as a single-quoted PowerShell literal.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
