// Package security summarizes an Engine's configured security posture for
// operators. It only reads configuration and never changes behavior.
package security
