// Package compiler translates persisted tag and filter rules into canonical
// table entries. Compilation is pure: the same rules always produce the same
// entries, keys and priorities, regardless of discovery order.
package compiler
