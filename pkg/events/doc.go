/*
Package events provides asynchronous fan-out of control-plane events.

The reconciler publishes switch connectivity changes, cycle outcomes and rule
conflicts; any number of subscribers consume them over buffered channels. Slow
subscribers drop events rather than stall the publisher.
*/
package events
