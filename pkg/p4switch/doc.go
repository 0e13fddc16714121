/*
Package p4switch speaks P4Runtime to individual switches.

Conn owns one switch's control-channel lifecycle: gRPC dial, stream-channel
master arbitration, optional forwarding-pipeline install, and teardown, with
exponential backoff between failed attempts. Applier and Collector drive
entry writes and direct-counter reads over any Device implementation, which
keeps both testable without a switch.

Profile carries the numeric table/action/field IDs, resolved by name from a
P4Info file or compiled in for the shipped pipelines.
*/
package p4switch
