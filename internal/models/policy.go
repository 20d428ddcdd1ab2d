package models

// AutoResolvePolicy names a strategy for resolving eligible conflicts
// without user input.
type AutoResolvePolicy string

const (
	PolicyNever         AutoResolvePolicy = "never"             // queue everything for manual decision
	PolicyLastWriteWins AutoResolvePolicy = "last-write-wins"   // later capture timestamp wins, ties prefer remote
	PolicyKeepLocal     AutoResolvePolicy = "always-keep-local" // fixed choice, ignores timestamps
	PolicyKeepRemote    AutoResolvePolicy = "always-keep-remote"
)

// Valid reports whether the policy is one of the known strategies.
func (p AutoResolvePolicy) Valid() bool {
	switch p {
	case PolicyNever, PolicyLastWriteWins, PolicyKeepLocal, PolicyKeepRemote:
		return true
	}
	return false
}

// Decide returns the resolution this policy picks for a conflict, or false
// if the policy never decides automatically.
func (p AutoResolvePolicy) Decide(c *SyncConflict) (Resolution, bool) {
	switch p {
	case PolicyLastWriteWins:
		// The remote write already succeeded on the backend, so a
		// timestamp tie goes to the remote side.
		if c.Local.CapturedAt.After(c.Remote.CapturedAt) {
			return ResolutionKeepLocal, true
		}
		return ResolutionKeepRemote, true
	case PolicyKeepLocal:
		return ResolutionKeepLocal, true
	case PolicyKeepRemote:
		return ResolutionKeepRemote, true
	}
	return "", false
}
