package cache

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is written with every partition. Partitions written with a
// different major version are treated as absent.
const SchemaVersion = "1.0.0"

var currentSchema = semver.MustParse(SchemaVersion)

// schemaCompatible reports whether a stored schema version can be read.
func schemaCompatible(stored string) bool {
	v, err := semver.NewVersion(stored)
	if err != nil {
		return false
	}
	return v.Major() == currentSchema.Major()
}

// checkSchema returns an error describing why stored cannot be read.
func checkSchema(stored string) error {
	if schemaCompatible(stored) {
		return nil
	}
	return fmt.Errorf("schema %q incompatible with %s", stored, SchemaVersion)
}
