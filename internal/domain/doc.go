// Package domain holds the shared model types, repository interfaces and
// sentinel errors used across voicebridge. It has no dependencies on other
// internal packages.
package domain
