package types

// Version is the canonical project version.
// The CLI, the journal record schema and the tracker IPC contract share it.
const Version = "0.3.0"

// JournalSchemaVersion is written into every run journal record.
// Bumped in lockstep with Version.
const JournalSchemaVersion = Version
