// Package servicetitan implements the ERP client used for purchase
// order lookup, receiving, and bill creation.
package servicetitan
