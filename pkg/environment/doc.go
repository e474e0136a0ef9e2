// Package environment names the deployment environments and maps APP_ENV
// values onto them. The logger and the email sender selection use it to pick
// development or production behavior.
package environment
