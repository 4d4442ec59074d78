// Package registry maintains the durable list of discovered devices.
//
// The registry is a bounded, insertion-ordered set of MAC addresses
// backed by a Repository. Every successful Add persists the full set
// before it is reported, so a reboot never loses an acknowledged device.
// Entries are only removed by an explicit Clear.
//
// All public methods are safe for concurrent use.
package registry
