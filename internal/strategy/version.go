package strategy

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the current genome schema version. Persisted strategies
// carry the version they were written with; older compatible versions are
// migrated on load.
const SchemaVersion = "1.0.0"

// SupportedSchemaVersions lists versions the engine can load directly
var SupportedSchemaVersions = []string{"1.0.0"}

// MigrationFunc upgrades a strategy from one schema version to the next
type MigrationFunc func(*Strategy) error

// migrations maps source version to migration functions
var migrations = map[string]MigrationFunc{}

// Migrate upgrades a persisted strategy to the current schema version
func Migrate(s *Strategy) error {
	if s == nil {
		return fmt.Errorf("strategy cannot be nil")
	}
	if s.SchemaVersion == SchemaVersion {
		return nil
	}

	current, err := parseVersion(s.SchemaVersion)
	if err != nil {
		return err
	}
	target := semver.MustParse(SchemaVersion)

	if current.GreaterThan(target) {
		return fmt.Errorf("genome schema version %s is newer than supported version %s",
			s.SchemaVersion, SchemaVersion)
	}

	for version, migrate := range migrations {
		migrationVersion, err := semver.NewVersion(version)
		if err != nil {
			continue
		}
		if current.LessThan(migrationVersion) {
			if err := migrate(s); err != nil {
				return fmt.Errorf("migration from %s failed: %w", version, err)
			}
		}
	}

	s.SchemaVersion = SchemaVersion
	return nil
}

// CheckCompatibility reports whether a persisted strategy can be loaded
// by this engine, possibly after migration
func CheckCompatibility(s *Strategy) error {
	if s == nil {
		return fmt.Errorf("strategy cannot be nil")
	}
	if s.SchemaVersion == "" {
		return fmt.Errorf("missing genome schema version")
	}

	current, err := parseVersion(s.SchemaVersion)
	if err != nil {
		return err
	}
	target := semver.MustParse(SchemaVersion)

	if current.GreaterThan(target) {
		return fmt.Errorf("strategy requires schema version %s, but only %s is supported",
			s.SchemaVersion, SchemaVersion)
	}
	if current.Major() != target.Major() {
		return fmt.Errorf("no migration path from schema version %s to %s",
			s.SchemaVersion, SchemaVersion)
	}

	return nil
}

// parseVersion parses a version string, tolerating short forms like "1.0"
func parseVersion(v string) (*semver.Version, error) {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		parsed, err = semver.NewVersion(v + ".0")
		if err != nil {
			return nil, fmt.Errorf("invalid schema version: %s", v)
		}
	}
	return parsed, nil
}
