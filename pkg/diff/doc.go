// Package diff computes the minimal operation set between a desired and an
// applied canonical entry set. Keeping this a pure function over two explicit
// sets is what bounds control-plane RPC volume: unchanged entries are counted
// and provably never re-sent.
package diff
