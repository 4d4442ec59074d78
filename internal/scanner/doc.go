// Package scanner discovers hosts on the controller's /24 and records
// their hardware addresses in the device registry.
//
// A pass walks .1 through .254 in order, skipping the controller and the
// gateway. Each host gets one reachability probe, whose result is
// ignored because it only primes the neighbour cache, followed by up to
// two neighbour resolution attempts. Resolved addresses other than zero
// and broadcast go to the registry. A pass never removes anything.
//
// Passes are paced: every host is followed by a short mandatory delay
// and a watchdog feed, so a full sweep takes tens of seconds. The pass
// stops early when connectivity drops.
package scanner
