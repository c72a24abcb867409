package version

import "fmt"

const (
	// Major represents the current major version of fswatch.
	Major = 0
	// Minor represents the current minor version of fswatch.
	Minor = 1
	// Patch represents the current patch version of fswatch.
	Patch = 0
)

// Semantic is the current version in semantic version form.
var Semantic = fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
