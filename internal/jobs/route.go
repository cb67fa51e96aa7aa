package jobs

import "strings"

// ParseRoute extracts the batch ID and action from a URL path like
// /api/batches/{id}/{action}. apiPrefix should be like "/api/batches/" and
// idPrefix like "batch-"; an ID given without its prefix gets it added.
// A path with no action ("/api/batches/{id}") returns action "".
func ParseRoute(path, apiPrefix, idPrefix string) (jobID, action string, ok bool) {
	rest, found := strings.CutPrefix(path, apiPrefix)
	if !found {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if parts[0] == "" || len(parts) > 2 {
		return "", "", false
	}

	jobID = parts[0]
	if !strings.HasPrefix(jobID, idPrefix) {
		jobID = idPrefix + jobID
	}
	if len(parts) == 2 {
		action = parts[1]
	}
	return jobID, action, true
}
