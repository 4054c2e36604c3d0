package model

import "time"

type DeployStatus string

const (
	StatusRunning   DeployStatus = "running"
	StatusSucceeded DeployStatus = "succeeded"
	StatusFailed    DeployStatus = "failed"
)

// SourceServer identifies the host holding the instance to clone. It is
// always reached with the server-held key, never a client credential.
type SourceServer struct {
	IP       string `json:"ip" validate:"required,ipv4"`
	Username string `json:"username" validate:"required,username"`
	Port     int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
}

type DeploymentRequest struct {
	SourceServer SourceServer `json:"sourceServer"`
	// Source is the older spelling of SourceServer.
	Source *SourceServer `json:"source,omitempty" validate:"-"`

	TargetIP       string `json:"targetIP" validate:"required,ipv4"`
	TargetPassword string `json:"targetPassword" validate:"required"`
	TargetUser     string `json:"targetUser,omitempty" validate:"omitempty,username"`
	TargetPort     int    `json:"targetPort,omitempty" validate:"omitempty,min=1,max=65535"`

	InstallPath        string `json:"installPath" validate:"required,safepath"`
	Domain             string `json:"domain" validate:"required,fqdn"`
	Email              string `json:"email" validate:"required,email"`
	SourceInstancePath string `json:"sourceInstancePath" validate:"required,safepath"`
	DatabaseType       string `json:"databaseType,omitempty" validate:"omitempty,oneof=sqlite postgres mysql"`
}

// Normalize folds the legacy source key into SourceServer and fills defaults.
func (r *DeploymentRequest) Normalize() {
	if r.SourceServer == (SourceServer{}) && r.Source != nil {
		r.SourceServer = *r.Source
	}
	r.Source = nil
	if r.SourceServer.Port == 0 {
		r.SourceServer.Port = 22
	}
	if r.TargetUser == "" {
		r.TargetUser = "root"
	}
	if r.TargetPort == 0 {
		r.TargetPort = 22
	}
	if r.DatabaseType == "" {
		r.DatabaseType = "sqlite"
	}
}

// Missing reports the required fields that are empty.
func (r *DeploymentRequest) Missing() []string {
	var missing []string
	check := func(name, v string) {
		if v == "" {
			missing = append(missing, name)
		}
	}
	check("sourceServer.ip", r.SourceServer.IP)
	check("sourceServer.username", r.SourceServer.Username)
	check("targetIP", r.TargetIP)
	check("targetPassword", r.TargetPassword)
	check("installPath", r.InstallPath)
	check("domain", r.Domain)
	check("email", r.Email)
	check("sourceInstancePath", r.SourceInstancePath)
	return missing
}

type DeployResponse struct {
	Success bool     `json:"success"`
	Logs    []string `json:"logs"`
	Message string   `json:"message"`
}

// Deployment is the persisted record of one pipeline run.
type Deployment struct {
	ID                 string       `json:"id" db:"id"`
	Domain             string       `json:"domain" db:"domain"`
	SourceIP           string       `json:"sourceIp" db:"source_ip"`
	SourceInstancePath string       `json:"sourceInstancePath" db:"source_instance_path"`
	TargetIP           string       `json:"targetIp" db:"target_ip"`
	InstallPath        string       `json:"installPath" db:"install_path"`
	Status             DeployStatus `json:"status" db:"status"`
	Message            string       `json:"message,omitempty" db:"message"`
	ArchiveKey         string       `json:"archiveKey,omitempty" db:"archive_key"`
	Logs               []string     `json:"logs,omitempty" db:"-"`
	StartedAt          time.Time    `json:"startedAt" db:"started_at"`
	FinishedAt         *time.Time   `json:"finishedAt,omitempty" db:"finished_at"`
}
