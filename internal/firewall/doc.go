// Package firewall installs and removes the NAT rules that redirect outbound
// TCP connections into the local listeners.
//
// Every backend evaluates the same ordered Plan: owner exemptions first, then
// excluded subnets, then one redirect per intercepted port. Exempt and
// excluded traffic leaves the chain before any redirect is reached.
package firewall
