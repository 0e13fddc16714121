/*
Package reconciler runs the central control loop.

Each cycle snapshots the desired state, compiles it into canonical table
entries per switch, diffs against the in-memory applied-state cache and pushes
only the difference over P4Runtime. Switches reconcile concurrently and fail
independently; a cycle never overlaps the next one for the same switch.

The applied-state cache is intentionally pessimistic: a fresh control session
resets it to empty, so a rebooted switch is fully reprogrammed and an
already-programmed one converges through tolerated duplicate-insert errors.
*/
package reconciler
