package deploy

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"text/template"
)

var envTmpl = template.Must(template.New("env").Funcs(template.FuncMap{"join": strings.Join}).Parse(`HOST=0.0.0.0
PORT={{.Port}}
APP_KEYS={{join .AppKeys ","}}
API_TOKEN_SALT={{.APITokenSalt}}
ADMIN_JWT_SECRET={{.AdminJWTSecret}}
TRANSFER_TOKEN_SALT={{.TransferTokenSalt}}
DATABASE_CLIENT={{.DatabaseClient}}
{{- if .DatabaseFilename}}
DATABASE_FILENAME={{.DatabaseFilename}}
{{- end}}
JWT_SECRET={{.JWTSecret}}
`))

var ecosystemTmpl = template.Must(template.New("ecosystem").Parse(`module.exports = {
  apps: [{
    name: {{printf "%q" .Name}},
    script: "bash",
    args: {{printf "%q" .Args}},
    env: {
      NODE_ENV: {{printf "%q" .NodeEnv}}
    },
    instances: 1,
    exec_mode: "fork",
    watch: false,
    max_memory_restart: {{printf "%q" .MaxMemoryRestart}}
  }]
};
`))

var nginxTmpl = template.Must(template.New("nginx").Parse(`server {
    listen 80;
    server_name {{.Domain}};
    return 301 https://$host$request_uri;
}
server {
    listen 443 ssl;
    server_name {{.Domain}};

    ssl_certificate {{.CertDir}}/{{.Domain}}/fullchain.pem;
    ssl_certificate_key {{.CertDir}}/{{.Domain}}/privkey.pem;

    location / {
        proxy_pass http://localhost:{{.Port}};
        proxy_http_version 1.1;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection 'upgrade';
        proxy_set_header Host $host;
        proxy_cache_bypass $http_upgrade;
        proxy_read_timeout {{.Timeout}};
        proxy_connect_timeout {{.Timeout}};
        proxy_send_timeout {{.Timeout}};
    }
}
`))

type envFile struct {
	Port              int
	AppKeys           []string
	APITokenSalt      string
	AdminJWTSecret    string
	TransferTokenSalt string
	DatabaseClient    string
	DatabaseFilename  string
	JWTSecret         string
}

// newEnvFile generates fresh secrets from rnd for one deployment.
func newEnvFile(rnd io.Reader, port int, dbClient, dbFile string) (*envFile, error) {
	secrets := make([]string, 8)
	for i := range secrets {
		s, err := secret(rnd)
		if err != nil {
			return nil, err
		}
		secrets[i] = s
	}
	e := &envFile{
		Port:              port,
		AppKeys:           secrets[:4],
		APITokenSalt:      secrets[4],
		AdminJWTSecret:    secrets[5],
		TransferTokenSalt: secrets[6],
		JWTSecret:         secrets[7],
		DatabaseClient:    dbClient,
	}
	if dbClient == "sqlite" {
		e.DatabaseFilename = dbFile
	}
	return e, nil
}

// secret returns 16 random bytes, base64 encoded.
func secret(rnd io.Reader) (string, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(rnd, b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func renderEnv(e *envFile) ([]byte, error) {
	return render(envTmpl, e)
}

func renderEcosystem(domain string, pm PM2Profile) ([]byte, error) {
	args := fmt.Sprintf(`-c "export NODE_OPTIONS='--max-old-space-size=%d' && %s"`, pm.MaxOldSpaceMB, pm.Start)
	return render(ecosystemTmpl, struct {
		Name, Args, NodeEnv, MaxMemoryRestart string
	}{domain, args, pm.NodeEnv, pm.MaxMemoryRestart})
}

func renderNginx(domain string, port int, p ProxyProfile) ([]byte, error) {
	return render(nginxTmpl, struct {
		Domain  string
		CertDir string
		Port    int
		Timeout int
	}{domain, strings.TrimSuffix(p.CertDir, "/"), port, p.TimeoutSeconds})
}

func render(t *template.Template, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.Bytes(), nil
}
