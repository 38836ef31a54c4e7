// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package version holds this engine build's version and the
// compatibility check against an orchestrator-advertised minimum, as
// published via the orchestrator's GET /config endpoint.
package version

import (
	goversion "github.com/hashicorp/go-version"
)

// Number is this build's semantic version. Bump on any wire-incompatible
// change to the frame layout in internal/wire.
const Number = "1.0.0"

// Parse returns this build's version as a comparable *goversion.Version.
func Parse() (*goversion.Version, error) {
	return goversion.NewVersion(Number)
}

// Satisfies reports whether this build's version meets constraint, a
// Masterminds/semver-style string such as ">= 1.0.0, < 2.0.0". An
// orchestrator that publishes a minimum supported engine version can be
// checked against this before a node registers itself.
func Satisfies(constraint string) (bool, error) {
	c, err := goversion.NewConstraint(constraint)
	if err != nil {
		return false, err
	}
	v, err := Parse()
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}
