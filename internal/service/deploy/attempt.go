package deploy

import (
	"time"

	"github.com/xjrogers/Forma-sub002/internal/sourcehost"
)

// attempt is the saga's working state for one deployment run. It records
// which external effects have been applied so compensation can reverse
// exactly those. Owned by a single run, never persisted, discarded at the
// end of the run.
type attempt struct {
	ComputeProjectID string
	ServiceID        string
	TempRepo         *sourcehost.Repo
	EnvVarsApplied   bool
	RepoConnected    bool
	HostnameBound    bool
	RecordsWritten   bool
	URL              string
	Subdomain        string
	DeploymentID     string
	UsageID          string
	StartedAt        time.Time
}

func newAttempt() *attempt {
	return &attempt{StartedAt: time.Now().UTC()}
}

// buildSeconds converts elapsed run time into the whole seconds stored on
// deployment records.
func (a *attempt) buildSeconds() int {
	seconds := int(time.Since(a.StartedAt).Seconds())
	if seconds < 0 {
		return 0
	}
	return seconds
}
