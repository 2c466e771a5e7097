// Package rate throttles credential submissions with fixed-window
// Redis counters. Windows are keyed per identifier and, optionally,
// per client IP so a single address cannot spray many accounts.
//
// The package deliberately has no view of accounts or challenges; it
// counts attempts and nothing else.
package rate
