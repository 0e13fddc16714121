/*
Package storage persists the desired state: switch inventory, tag rules and
filter rules.

The engine only ever reads through Snapshot, which returns all three
collections from a single BoltDB View transaction so a concurrent writer can
never produce a torn read across them. Writes come from the CLI (and any
other process embedding the store); the engine picks changes up on its next
tick.
*/
package storage
