package deploy

import (
	"fmt"
	"path"

	"github.com/kballard/go-shellquote"
)

// Every request-derived value reaches the remote shell through shellquote;
// only operator-controlled profile commands are passed through verbatim.

func q(s string) string { return shellquote.Join(s) }

func tarCreateCmd(archive, dir string) string {
	return shellquote.Join("tar", "-czf", archive, "-C", path.Dir(dir), path.Base(dir))
}

func removeAllCmd(p string) string { return shellquote.Join("rm", "-rf", p) }

func makeDirCmd(p string) string { return shellquote.Join("mkdir", "-p", p) }

func removeFileCmd(p string) string { return shellquote.Join("rm", "-f", p) }

func extractCmd(archive, dir string) string {
	return shellquote.Join("tar", "-xzf", archive, "--strip-components=1", "-C", dir)
}

// inDir runs an operator command from dir.
func inDir(dir, cmd string) string {
	return "cd " + q(dir) + " && " + cmd
}

func backupDBCmd(dir string, db DatabaseProfile) string {
	file := path.Join(dir, db.File)
	backupDir := path.Join(dir, db.BackupDir)
	backup := path.Join(backupDir, path.Base(db.File)+"_backup")
	return fmt.Sprintf(`mkdir -p %s && if [ -f %s ]; then cp %s %s; else echo "No SQLite database found"; fi`,
		q(backupDir), q(file), q(file), q(backup))
}

func restoreDBCmd(dir string, db DatabaseProfile) string {
	file := path.Join(dir, db.File)
	backup := path.Join(dir, db.BackupDir, path.Base(db.File)+"_backup")
	return fmt.Sprintf(`if [ -f %s ]; then mkdir -p %s && cp %s %s; else echo "No backup file found"; fi`,
		q(backup), q(path.Dir(file)), q(backup), q(file))
}

func pm2ClearCmd(name string) string {
	return fmt.Sprintf("pm2 stop %s || true && pm2 delete %s || true", q(name), q(name))
}

func pm2StartCmd(dir string) string {
	return inDir(dir, "pm2 start ecosystem.config.js")
}

func pm2StatusCmd(name string) string { return shellquote.Join("pm2", "status", name) }

func removeDefaultSiteCmd(p ProxyProfile) string {
	return shellquote.Join("rm", "-rf", path.Join(p.SitesAvailable, "default"), path.Join(p.SitesEnabled, "default"))
}

func certbotCmd(domain, email string) string {
	return shellquote.Join("certbot", "certonly", "--nginx", "-d", domain, "--non-interactive", "--agree-tos", "-m", email)
}

func enableSiteCmd(p ProxyProfile, domain string) string {
	return shellquote.Join("ln", "-sf", path.Join(p.SitesAvailable, domain), p.SitesEnabled+"/") + " && " + p.Reload
}

func probeCmd(domain string) string {
	return shellquote.Join("curl", "-I", "https://"+domain)
}
