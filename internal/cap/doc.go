// Package cap parses Common Alerting Protocol feed documents into a
// namespace-free element tree and provides the field access rules the
// extractors are written against.
package cap
