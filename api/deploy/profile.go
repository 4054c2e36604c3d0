package deploy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile holds the host-side conventions of a deployment: where things
// live, which commands install and run the application, and which steps
// abort on a non-zero exit.
type Profile struct {
	Port           int    `yaml:"port"`
	SourceArchive  string `yaml:"sourceArchive"`
	TargetArchive  string `yaml:"targetArchive"` // file name inside the install directory
	InstancesDir   string `yaml:"instancesDir"`
	HomeDir        string `yaml:"homeDir"`
	InstanceMarker string `yaml:"instanceMarker"`

	Install string `yaml:"install"`
	Build   string `yaml:"build"`

	Database       DatabaseProfile `yaml:"database"`
	ProcessManager PM2Profile      `yaml:"processManager"`
	Proxy          ProxyProfile    `yaml:"proxy"`

	StrictSteps []string `yaml:"strictSteps"`
}

type DatabaseProfile struct {
	Preserve  bool   `yaml:"preserve"`
	File      string `yaml:"file"`      // relative to the install directory
	BackupDir string `yaml:"backupDir"` // relative to the install directory
}

type PM2Profile struct {
	Install          string `yaml:"install"`
	Start            string `yaml:"start"`
	NodeEnv          string `yaml:"nodeEnv"`
	MaxOldSpaceMB    int    `yaml:"maxOldSpaceMB"`
	MaxMemoryRestart string `yaml:"maxMemoryRestart"`
}

type ProxyProfile struct {
	SitesAvailable string `yaml:"sitesAvailable"`
	SitesEnabled   string `yaml:"sitesEnabled"`
	CertDir        string `yaml:"certDir"`
	Reload         string `yaml:"reload"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

func DefaultProfile() *Profile {
	return &Profile{
		Port:           1337,
		SourceArchive:  "/tmp/instance.tar.gz",
		TargetArchive:  "instance.tar.gz",
		InstancesDir:   "/root/strapi-project",
		HomeDir:        "/root",
		InstanceMarker: "strapi",
		Install:        "yarn install",
		Build:          "yarn build",
		Database: DatabaseProfile{
			Preserve:  true,
			File:      ".tmp/data.db",
			BackupDir: "database_backup",
		},
		ProcessManager: PM2Profile{
			Install:          "npm install -g pm2",
			Start:            "yarn develop",
			NodeEnv:          "development",
			MaxOldSpaceMB:    4096,
			MaxMemoryRestart: "2G",
		},
		Proxy: ProxyProfile{
			SitesAvailable: "/etc/nginx/sites-available",
			SitesEnabled:   "/etc/nginx/sites-enabled",
			CertDir:        "/etc/letsencrypt/live",
			Reload:         "systemctl restart nginx",
			TimeoutSeconds: 300,
		},
	}
}

// LoadProfile reads a YAML profile over the defaults. An empty path yields
// the defaults.
func LoadProfile(path string) (*Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

func (p *Profile) Validate() error {
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("port %d out of range", p.Port)
	}
	for name, v := range map[string]string{
		"sourceArchive":        p.SourceArchive,
		"instancesDir":         p.InstancesDir,
		"homeDir":              p.HomeDir,
		"proxy.sitesAvailable": p.Proxy.SitesAvailable,
		"proxy.sitesEnabled":   p.Proxy.SitesEnabled,
	} {
		if v == "" || v[0] != '/' {
			return fmt.Errorf("%s must be an absolute path", name)
		}
	}
	if p.TargetArchive == "" {
		return fmt.Errorf("targetArchive is required")
	}
	for _, s := range p.StrictSteps {
		if !knownStep(s) {
			return fmt.Errorf("strictSteps: unknown step %q", s)
		}
	}
	return nil
}

func (p *Profile) policyFor(name string) Policy {
	for _, s := range p.StrictSteps {
		if s == name {
			return PolicyAbort
		}
	}
	return PolicyContinue
}
