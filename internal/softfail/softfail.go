// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

// Package softfail renders failures as executable script payloads
// delivered with a success status, so that the client-side loader
// always receives syntactically valid content and shows the failure
// to the user instead of surfacing a network error.
package softfail

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stagegate/stagegate/internal/metrics"
)

// ContentTypeJavaScript is the content type of script payloads.
const ContentTypeJavaScript = "application/javascript; charset=utf-8"

// ErrorPresentation is a human-readable failure shown in the client.
type ErrorPresentation struct {
	Message string
}

// Text returns the decorated message displayed to the user.
func (p ErrorPresentation) Text() string {
	return fmt.Sprintf("⚠️ %s ⚠️", p.Message)
}

// Script returns the payload that displays the message in the
// status element of the page, or in an alert box when the page
// has no status element.
func (p ErrorPresentation) Script() string {
	return fmt.Sprintf(statusScript, quote(p.Text()))
}

// Write renders the presentation as a 200 script response.
func Write(w http.ResponseWriter, p ErrorPresentation) {
	metrics.RecordSoftFail(p.Message)
	WriteScript(w, p.Script())
}

// Alert renders a titled alert box as a 200 script response.
func Alert(w http.ResponseWriter, title, reason string) {
	metrics.RecordSoftFail(reason)
	WriteScript(w, AlertScript(title, reason))
}

// AlertScript returns the payload that raises an alert box with the
// title on the first line and the reason on the second.
func AlertScript(title, reason string) string {
	return fmt.Sprintf("(function () {\n  alert(%s);\n})();\n",
		quote(fmt.Sprintf("⚠️ %s\nReason: %s", title, reason)))
}

// WriteScript writes a script payload with a 200 status.
func WriteScript(w http.ResponseWriter, script string) {
	w.Header().Set("Content-Type", ContentTypeJavaScript)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(script))
}

// quote encodes s as a JavaScript string literal. The JSON encoder
// escapes <, > and & so the literal is also safe inside HTML.
func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

const statusScript = `(function () {
  const msg = %s;
  const statusMessage = document.getElementById("status-message");
  if (statusMessage) {
    statusMessage.textContent = msg;
    statusMessage.className = "status-error";
  } else {
    alert(msg);
  }
})();
`
