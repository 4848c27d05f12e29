// Package billing turns match decisions into ERP bills: planning the
// line layout, receiving purchase orders, and finalizing or drafting
// according to the decided action.
package billing
