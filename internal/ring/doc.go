// Package ring implements the consistent hash ring: a sorted set of
// virtual positions mapping to addresses, kept in sync with the set of
// alive members. It maps keys to the owning address while minimizing
// key movement as membership changes.
package ring
