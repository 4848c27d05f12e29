// Package matching decides how each parsed invoice gets billed:
// reconciling against its purchase order, scoring job suggestions when
// no PO exists, and opening holds for anything a human must settle.
package matching
