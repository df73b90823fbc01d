package gitsource

import "time"

// CommitInfo describes a commit of the module repository.
type CommitInfo struct {
	SHA        string
	Author     string
	Email      string
	Timestamp  time.Time
	Message    string
	Branch     string
	Repository string
}

// Short returns the abbreviated SHA.
func (c *CommitInfo) Short() string {
	return shortSHA(c.SHA)
}

// PullResult is the outcome of a pull.
type PullResult struct {
	FromSHA      string
	ToSHA        string
	ChangedFiles []string
	HadChanges   bool
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
