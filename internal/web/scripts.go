// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package web

import (
	"encoding/json"
	"fmt"
)

// loaderScript returns a payload that fetches the script at target and
// runs it. Evaluation and network failures are shown in an alert box
// prefixed with label.
func loaderScript(target, label string) string {
	return fmt.Sprintf(loaderTemplate,
		jsString(target),
		jsString(fmt.Sprintf("⚠️ %s Load Error\n\nDetails: ", label)),
		jsString("⚠️ Network Error\n\nDetails: "),
	)
}

// jsString encodes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

const loaderTemplate = `setTimeout(function () {
  const url = %s;
  fetch(url)
    .then(function (r) { return r.text(); })
    .then(function (code) {
      try {
        new Function(code)();
      } catch (e) {
        alert(%s + e);
      }
    })
    .catch(function (e) {
      alert(%s + e);
    });
}, 10);
`
