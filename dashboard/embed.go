// Package dashboard provides the embedded web UI of the device.
//
// The pages are html/template files rendered by the server package; the
// stylesheet and script are served as static files. Everything is embedded
// at compile time for single-binary deployment.
package dashboard

import "embed"

// Assets is an embedded filesystem containing the web UI.
//
//	assets/
//	  layout.html   - shared page chrome (menu, title, status popup)
//	  index.html    - welcome page
//	  config.html   - settings form
//	  control.html  - pulse control form
//	  style.css
//	  app.js        - form submission, status popup, live output stream
//	  control.js    - control page slider coupling
//
//go:embed assets/*
var Assets embed.FS
