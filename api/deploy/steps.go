package deploy

import (
	"context"
	"fmt"
	"path"

	"ferry/api/remote"
)

type step struct {
	num    int
	name   string
	title  string
	policy Policy
	run    func(ctx context.Context, r *run) error
}

var stepNames = []string{
	"connect-source", "archive", "download", "close-source",
	"connect-target", "install-path", "clean", "mkdir", "upload", "extract", "remove-archive",
	"env", "install", "build", "database",
	"pm2-install", "pm2-clear", "ecosystem", "pm2-start", "pm2-persist",
	"proxy-default", "certificate", "proxy-config", "verify", "close-target",
}

func knownStep(name string) bool {
	for _, s := range stepNames {
		if s == name {
			return true
		}
	}
	return false
}

// plan lists the pipeline in execution order. Step numbers are positions in
// stepNames, so a log line's "[Step N]" always names the same operation.
func (r *run) plan() []step {
	req, p, dir := r.req, r.profile, r.installDir
	targetTar := path.Join(dir, p.TargetArchive)

	defs := map[string]step{
		"connect-source": {
			title: fmt.Sprintf("Connecting to source server %s...", req.SourceServer.IP),
			run:   connectSource,
		},
		"archive": {
			title: fmt.Sprintf("Creating tar archive of instance at %s...", req.SourceInstancePath),
			run: func(ctx context.Context, r *run) error {
				return r.exec(ctx, r.source, tarCreateCmd(p.SourceArchive, req.SourceInstancePath), "Archive creation result", "Archive created.")
			},
		},
		"download":     {title: "Downloading archive from source server...", run: download},
		"close-source": {title: "Closing source connection...", run: closeSource},
		"connect-target": {
			title: fmt.Sprintf("Connecting to target server %s...", req.TargetIP),
			run:   connectTarget,
		},
		"install-path": {
			title: fmt.Sprintf("Full installation path set to %s.", dir),
			run: func(ctx context.Context, r *run) error {
				r.log(ctx, "Service port set to %d.", p.Port)
				return nil
			},
		},
		"clean": {
			title: fmt.Sprintf("Removing old instance at %s...", dir),
			run:   target(removeAllCmd(dir), "Clean result", "Old instance removed."),
		},
		"mkdir": {
			title: fmt.Sprintf("Creating installation directory %s...", dir),
			run:   target(makeDirCmd(dir), "Directory creation result", "Directory created."),
		},
		"upload": {
			title: fmt.Sprintf("Uploading archive to target server at %s...", targetTar),
			run: func(ctx context.Context, r *run) error {
				if err := r.target.Upload(ctx, r.localTar, targetTar); err != nil {
					return fmt.Errorf("upload archive: %w", err)
				}
				r.log(ctx, "Archive uploaded successfully.")
				return nil
			},
		},
		"extract": {
			title: "Extracting archive on target server with --strip-components=1...",
			run:   target(extractCmd(targetTar, dir), "Extraction result", "Archive extracted."),
		},
		"remove-archive": {
			title: "Removing transferred archive...",
			run:   target(removeFileCmd(targetTar), "Archive removal result", "Transferred archive removed."),
		},
		"env": {
			title: fmt.Sprintf("Generating .env file in %s...", dir),
			run:   writeEnv,
		},
		"install": {
			title: fmt.Sprintf("Installing project dependencies in %s...", dir),
			run:   target(inDir(dir, p.Install), "Installation result", "Dependencies installed."),
		},
		"build": {
			title: fmt.Sprintf("Building the project in %s...", dir),
			run:   target(inDir(dir, p.Build), "Build result", "Project built."),
		},
		"database": {
			title: "Preserving SQLite database if present...",
			run:   preserveDatabase,
		},
		"pm2-install": {
			title: "Installing PM2 globally...",
			run:   target(p.ProcessManager.Install, "PM2 install result", "PM2 installed."),
		},
		"pm2-clear": {
			title: fmt.Sprintf("Stopping and deleting any existing PM2 process for %s...", req.Domain),
			run:   target(pm2ClearCmd(req.Domain), "PM2 stop/delete result", "No previous process."),
		},
		"ecosystem": {
			title: fmt.Sprintf("Creating ecosystem.config.js in %s...", dir),
			run:   writeEcosystem,
		},
		"pm2-start": {
			title: "Starting PM2 process using ecosystem.config.js...",
			run:   target(pm2StartCmd(dir), "PM2 start result", "Process started."),
		},
		"pm2-persist": {
			title: "Configuring PM2 to start on boot and saving the process list...",
			run: func(ctx context.Context, r *run) error {
				if err := r.exec(ctx, r.target, "pm2 startup", "PM2 startup result", "Startup configured."); err != nil {
					return err
				}
				return r.exec(ctx, r.target, "pm2 save", "PM2 save result", "Process list saved.")
			},
		},
		"proxy-default": {
			title: "Removing default Nginx configuration files...",
			run:   target(removeDefaultSiteCmd(p.Proxy), "Default Nginx config removal result", "Completed."),
		},
		"certificate": {
			title: fmt.Sprintf("Obtaining SSL certificate for %s with Certbot...", req.Domain),
			run:   target(certbotCmd(req.Domain, req.Email), "Certbot result", "SSL certificate obtained."),
		},
		"proxy-config": {
			title: fmt.Sprintf("Configuring Nginx for %s with HTTPS...", req.Domain),
			run:   writeProxyConfig,
		},
		"verify": {
			title: fmt.Sprintf("Verifying deployment of %s...", req.Domain),
			run: func(ctx context.Context, r *run) error {
				if err := r.exec(ctx, r.target, pm2StatusCmd(req.Domain), "PM2 status", "No status output."); err != nil {
					return err
				}
				return r.exec(ctx, r.target, probeCmd(req.Domain), "HTTPS test result", "No response.")
			},
		},
		"close-target": {title: "Closing target connection...", run: closeTarget},
	}

	steps := make([]step, 0, len(stepNames))
	for i, name := range stepNames {
		s := defs[name]
		s.num = i + 1
		s.name = name
		s.policy = p.policyFor(name)
		steps = append(steps, s)
	}
	return steps
}

// target builds a step that runs one command on the target host.
func target(cmd, label, fallback string) func(context.Context, *run) error {
	return func(ctx context.Context, r *run) error {
		return r.exec(ctx, r.target, cmd, label, fallback)
	}
}

func connectSource(ctx context.Context, r *run) error {
	s := r.req.SourceServer
	sess, err := r.o.Dialer.Dial(ctx, remote.Target{
		Host: s.IP,
		Port: s.Port,
		User: s.Username,
		Auth: r.o.SourceAuth,
	})
	if err != nil {
		return fmt.Errorf("connect to source server %s: %w", s.IP, err)
	}
	r.source = sess
	r.log(ctx, "Connected to source server.")
	return nil
}

func download(ctx context.Context, r *run) error {
	if err := r.source.Download(ctx, r.profile.SourceArchive, r.localTar); err != nil {
		return fmt.Errorf("download archive: %w", err)
	}
	r.log(ctx, "Archive downloaded successfully.")

	if r.o.Archives != nil {
		key := path.Join("deployments", r.tr.ID, "instance.tar.gz")
		if err := r.o.Archives.Keep(ctx, key, r.localTar); err != nil {
			r.o.logger().Warn("archive retention failed", "key", key, "error", err)
			r.log(ctx, "Archive copy was not retained.")
		} else {
			r.result.ArchiveKey = key
			r.log(ctx, "Archive copy retained.")
		}
	}
	return nil
}

func closeSource(ctx context.Context, r *run) error {
	if r.source != nil {
		r.source.Close()
		r.source = nil
	}
	r.log(ctx, "Source connection closed.")
	return nil
}

func connectTarget(ctx context.Context, r *run) error {
	sess, err := r.o.Dialer.Dial(ctx, remote.Target{
		Host: r.req.TargetIP,
		Port: r.req.TargetPort,
		User: r.req.TargetUser,
		Auth: remote.Auth{Password: r.req.TargetPassword},
	})
	if err != nil {
		return fmt.Errorf("connect to target server %s: %w", r.req.TargetIP, err)
	}
	r.target = sess
	r.log(ctx, "Connected to target server.")
	return nil
}

func writeEnv(ctx context.Context, r *run) error {
	env, err := newEnvFile(r.o.random(), r.profile.Port, r.req.DatabaseType, r.profile.Database.File)
	if err != nil {
		return err
	}
	data, err := renderEnv(env)
	if err != nil {
		return err
	}
	if err := r.target.WriteFile(ctx, path.Join(r.installDir, ".env"), data, 0o600); err != nil {
		return fmt.Errorf("write .env: %w", err)
	}
	r.log(ctx, ".env file created.")
	return nil
}

func preserveDatabase(ctx context.Context, r *run) error {
	db := r.profile.Database
	switch {
	case !db.Preserve:
		r.log(ctx, "Skipped by profile.")
		return nil
	case r.req.DatabaseType != "sqlite":
		r.log(ctx, "Skipped for %s database.", r.req.DatabaseType)
		return nil
	}
	if err := r.exec(ctx, r.target, backupDBCmd(r.installDir, db), "Backup result", "Database backed up."); err != nil {
		return err
	}
	return r.exec(ctx, r.target, restoreDBCmd(r.installDir, db), "Restore result", "Database restored.")
}

func writeEcosystem(ctx context.Context, r *run) error {
	data, err := renderEcosystem(r.req.Domain, r.profile.ProcessManager)
	if err != nil {
		return err
	}
	if err := r.target.WriteFile(ctx, path.Join(r.installDir, "ecosystem.config.js"), data, 0o644); err != nil {
		return fmt.Errorf("write ecosystem.config.js: %w", err)
	}
	r.log(ctx, "Ecosystem config created.")
	return nil
}

func writeProxyConfig(ctx context.Context, r *run) error {
	px := r.profile.Proxy
	data, err := renderNginx(r.req.Domain, r.profile.Port, px)
	if err != nil {
		return err
	}
	if err := r.target.WriteFile(ctx, path.Join(px.SitesAvailable, r.req.Domain), data, 0o644); err != nil {
		return fmt.Errorf("write nginx site: %w", err)
	}
	return r.exec(ctx, r.target, enableSiteCmd(px, r.req.Domain), "Nginx config result", "Configured.")
}

func closeTarget(ctx context.Context, r *run) error {
	if r.target != nil {
		r.target.Close()
		r.target = nil
	}
	r.log(ctx, "Target connection closed.")
	return nil
}
