// Package git clones prototype repositories with go-git and reports clone
// failures as typed errors.
package git
