// Package resilience guards calls to external dependencies with retry,
// circuit breaking, and optional fallbacks.
//
// A Policy protects one logical endpoint. Retries apply only to transient
// failures, each attempt passes through the breaker, and a configured
// fallback absorbs the final failure. A Manager shares policies across
// callers so failure accounting is consistent per endpoint, and an Observer
// surfaces breaker transitions for alerting without influencing them.
package resilience
