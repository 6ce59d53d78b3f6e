// Package gitlab is the GitLab backend. Follow-up issues map to project
// issues, review threads to resolvable merge request discussions, and
// published findings to a merge request discussion per inline finding plus a
// summary note.
package gitlab
