package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"ferry/api/model"
	"ferry/api/remote"
)

// CheckSource connects with the server-held key and reports the instances
// and headroom of a source host. Connection problems are reported in the
// result, not as an error, so a combined preflight can show both sides.
func (o *Orchestrator) CheckSource(ctx context.Context, req model.SourceRequest) (*model.SourceReport, error) {
	rep := &model.SourceReport{Instances: []model.SourceInstance{}}
	sess, err := o.dialSource(ctx, req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			return nil, err
		}
		rep.Error = err.Error()
		return rep, nil
	}
	defer sess.Close()

	if out, err := sess.Run(ctx, "echo connected"); err != nil || !strings.Contains(out.Stdout, "connected") {
		rep.Error = "connection test failed"
		return rep, nil
	}
	rep.Connected = true
	rep.DiskSpace = runText(ctx, sess, "df -h /")
	rep.Memory = runText(ctx, sess, "free -h")

	instances, err := listInstances(ctx, sess, o.profile())
	if err != nil {
		rep.Error = err.Error()
		return rep, nil
	}
	rep.Instances = instances
	return rep, nil
}

// CheckTarget verifies the password login and gathers facts the deployment
// depends on: root access, disk, OS, busy ports, memory and node processes.
func (o *Orchestrator) CheckTarget(ctx context.Context, req model.TargetRequest) (*model.ConnectionStatus, error) {
	if !ValidIPv4(req.IP) {
		return nil, fmt.Errorf("%w: invalid IP address format", ErrInvalidRequest)
	}
	if req.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidRequest)
	}
	user := req.Username
	if user == "" {
		user = "root"
	}

	st := &model.ConnectionStatus{}
	sess, err := o.Dialer.Dial(ctx, remote.Target{Host: req.IP, Port: req.Port, User: user, Auth: remote.Auth{Password: req.Password}})
	if err != nil {
		st.Error = fmt.Sprintf("ssh: %v", err)
		return st, nil
	}
	defer sess.Close()

	st.SSHConnection = true
	st.RootAccess = runText(ctx, sess, "whoami") == "root"
	st.DiskSpace = runText(ctx, sess, "df -h /")
	st.SystemInfo = strings.Trim(strings.TrimPrefix(runText(ctx, sess, "cat /etc/os-release | grep PRETTY_NAME"), "PRETTY_NAME="), `"`)
	st.ListeningPorts = runText(ctx, sess, "netstat -tulpn | grep LISTEN")
	st.Memory = runText(ctx, sess, "free -h")
	st.NodeProcesses = runText(ctx, sess, "ps aux | grep [n]ode")
	return st, nil
}

// Preflight checks both hosts concurrently.
func (o *Orchestrator) Preflight(ctx context.Context, req model.PreflightRequest) (*model.PreflightReport, error) {
	var (
		src *model.SourceReport
		tgt *model.ConnectionStatus
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		src, err = o.CheckSource(gctx, req.Source)
		return err
	})
	g.Go(func() error {
		var err error
		tgt, err = o.CheckTarget(gctx, req.Target)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &model.PreflightReport{
		Source: *src,
		Target: *tgt,
		Ready:  src.Connected && len(src.Instances) > 0 && tgt.SSHConnection,
	}, nil
}

func runText(ctx context.Context, sess remote.Session, cmd string) string {
	out, err := sess.Run(ctx, cmd)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out.Stdout)
}
