// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package softfail

import (
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/gomega"
)

func TestWrite(t *testing.T) {
	g := NewWithT(t)

	rec := httptest.NewRecorder()
	Write(rec, ErrorPresentation{Message: "Origin not allowed"})

	g.Expect(rec.Code).To(Equal(http.StatusOK))
	g.Expect(rec.Header().Get("Content-Type")).To(Equal(ContentTypeJavaScript))
	g.Expect(rec.Body.String()).To(ContainSubstring(`const msg = "⚠️ Origin not allowed ⚠️";`))
	g.Expect(rec.Body.String()).To(ContainSubstring(`document.getElementById("status-message")`))
	g.Expect(rec.Body.String()).To(ContainSubstring(`alert(msg)`))
}

func TestScript_Escaping(t *testing.T) {
	g := NewWithT(t)

	p := ErrorPresentation{Message: `"; alert(1); </script><script>"`}
	script := p.Script()

	g.Expect(script).NotTo(ContainSubstring(`</script>`))
	g.Expect(script).To(ContainSubstring(`\"; alert(1); \u003c/script\u003e`))
}

func TestAlert(t *testing.T) {
	g := NewWithT(t)

	rec := httptest.NewRecorder()
	Alert(rec, "Token retrieval failed!", "Region not supported")

	g.Expect(rec.Code).To(Equal(http.StatusOK))
	g.Expect(rec.Header().Get("Content-Type")).To(Equal(ContentTypeJavaScript))
	g.Expect(rec.Body.String()).To(ContainSubstring(`alert("⚠️ Token retrieval failed!\nReason: Region not supported");`))
}
