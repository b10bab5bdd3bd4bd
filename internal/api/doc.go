// Package api hosts the public HTTP surface of the debugflow service:
//   - GET / renders the landing page, or the debugging flow for ?url=<script>.
//   - GET /favicon.ico serves the embedded icon.
//
// Every page request answers 200 with an HTML document; pipeline failures are
// reported inside the page.
package api
