// Package github is the GitHub backend: follow-up issues and review
// publication through the REST API (go-github), and review threads through
// the GraphQL API, which is the only API that exposes thread resolution.
//
// Every call goes through the retry policy; 401 and 403 responses surface as
// retry.AuthError.
package github
