package version

// Version is the current version of docmigrate.
// Can be overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "1.4.0"

// Name is the application name.
const Name = "docmigrate"

// Description is a short description of the application.
const Description = "SQL Server to PostgreSQL case-data migration with document linking"
