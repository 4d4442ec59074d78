// Package netstack adapts the Linux network stack to the small set of
// primitives the scanner and controller need: interface lookup, the
// default gateway, a reachability probe, neighbour (ARP) resolution and
// link up/down notification.
//
// Everything is read from the kernel through net.Interfaces and the
// /proc/net tables, so the controller needs no netlink or raw-socket
// privileges beyond what ICMP probing optionally uses.
package netstack
