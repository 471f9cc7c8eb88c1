// Package monitor holds the domain types, capabilities and error taxonomy shared by the
// collection engine: channel and video records, statistics snapshots, persistence records,
// and the StatsAPI and Storage boundaries the engine talks through.
package monitor
