package cache

import "fmt"

// Default partition naming.
const (
	DefaultPrefix  = "movietracker-web"
	DefaultVersion = "v1"
)

// Partitions names the cache partitions of one deployed version.
//
// A new version produces new names; partitions left over from older
// versions are removed by Manager.Prune during activation.
type Partitions struct {
	// Static holds the install-time manifest and cache-first static assets.
	Static string

	// Dynamic holds API, image and navigation responses.
	Dynamic string

	// Shell is the nominal app-shell partition. Nothing writes to it and it
	// is not part of the retained set.
	Shell string
}

// NewPartitions derives the partition names for prefix and version.
func NewPartitions(prefix, version string) Partitions {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if version == "" {
		version = DefaultVersion
	}
	return Partitions{
		Static:  fmt.Sprintf("%s-static-%s", prefix, version),
		Dynamic: fmt.Sprintf("%s-dynamic-%s", prefix, version),
		Shell:   fmt.Sprintf("%s-%s", prefix, version),
	}
}

// Current returns the partitions kept on activation.
func (p Partitions) Current() []string {
	return []string{p.Static, p.Dynamic}
}
