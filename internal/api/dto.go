package api

import (
	"time"

	"git.home.luguber.info/inful/protohost/internal/prototype"
)

type prototypeResponse struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Slug              string     `json:"slug,omitempty"`
	Description       string     `json:"description,omitempty"`
	GitHubRepoURL     string     `json:"gitHubRepoUrl"`
	GitHubRepoName    string     `json:"gitHubRepoName"`
	GitHubOwner       string     `json:"gitHubOwner"`
	CreatedBy         string     `json:"createdBy"`
	CreatedAt         time.Time  `json:"createdAt"`
	LastUpdated       time.Time  `json:"lastUpdated"`
	LastDeployedAt    *time.Time `json:"lastDeployedAt,omitempty"`
	IsActive          bool       `json:"isActive"`
	BuildStatus       string     `json:"buildStatus"`
	BuildErrorMessage string     `json:"buildErrorMessage,omitempty"`
	PrototypeURL      string     `json:"prototypeUrl"`
}

func toPrototypeResponse(p *prototype.Prototype) prototypeResponse {
	return prototypeResponse{
		ID:                p.ID,
		Name:              p.Name,
		Slug:              p.Slug,
		Description:       p.Description,
		GitHubRepoURL:     p.RepoURL,
		GitHubRepoName:    p.RepoName,
		GitHubOwner:       p.Owner,
		CreatedBy:         p.CreatedBy,
		CreatedAt:         p.CreatedAt,
		LastUpdated:       p.UpdatedAt,
		LastDeployedAt:    p.LastDeployedAt,
		IsActive:          p.Active,
		BuildStatus:       string(p.Status),
		BuildErrorMessage: p.ErrorMessage,
		PrototypeURL:      p.URL(),
	}
}

type buildRecordResponse struct {
	ID               string     `json:"id"`
	PrototypeID      string     `json:"prototypeId"`
	GitCommitSHA     string     `json:"gitCommitSha,omitempty"`
	GitCommitMessage string     `json:"gitCommitMessage,omitempty"`
	BuildStatus      string     `json:"buildStatus"`
	BuildStartedAt   time.Time  `json:"buildStartedAt"`
	BuildCompletedAt *time.Time `json:"buildCompletedAt,omitempty"`
	BuildDurationMs  *int64     `json:"buildDurationMs,omitempty"`
	BuildLogs        string     `json:"buildLogs,omitempty"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	ErrorKind        string     `json:"errorKind,omitempty"`
	Trigger          string     `json:"trigger,omitempty"`
}

func toBuildRecordResponse(r *prototype.BuildRecord) buildRecordResponse {
	return buildRecordResponse{
		ID:               r.ID,
		PrototypeID:      r.PrototypeID,
		GitCommitSHA:     r.CommitSHA,
		GitCommitMessage: r.CommitMessage,
		BuildStatus:      string(r.Status),
		BuildStartedAt:   r.StartedAt,
		BuildCompletedAt: r.CompletedAt,
		BuildDurationMs:  r.DurationMs,
		BuildLogs:        r.Logs,
		ErrorMessage:     r.Error,
		ErrorKind:        string(r.ErrorKind),
		Trigger:          string(r.Trigger),
	}
}
