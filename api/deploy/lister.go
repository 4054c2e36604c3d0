package deploy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"

	"ferry/api/model"
	"ferry/api/remote"
)

var (
	ipv4Re          = regexp.MustCompile(`^(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)$`)
	unsafeListPath  = regexp.MustCompile(`[^a-zA-Z0-9\-_/]`)
	unsafeFilePath  = regexp.MustCompile(`[^a-zA-Z0-9\-_./]`)
	forbiddenInPath = regexp.MustCompile("[;&|\"`'$\\\\]")
	repeatedSlash   = regexp.MustCompile(`/+`)
)

func ValidIPv4(ip string) bool { return ipv4Re.MatchString(ip) }

func sanitizeListPath(p string) string {
	return repeatedSlash.ReplaceAllString(unsafeListPath.ReplaceAllString(p, ""), "/")
}

func sanitizeFilePath(p string) string {
	return repeatedSlash.ReplaceAllString(unsafeFilePath.ReplaceAllString(p, ""), "/")
}

// validFilePath rejects shell metacharacters, relative paths and traversal.
func validFilePath(p string) bool {
	return !forbiddenInPath.MatchString(p) && strings.HasPrefix(p, "/") && !strings.Contains(p, "..")
}

func (o *Orchestrator) dialSource(ctx context.Context, req model.SourceRequest) (remote.Session, error) {
	if req.IP == "" || req.Username == "" {
		return nil, fmt.Errorf("%w: ip and username are required", ErrInvalidRequest)
	}
	if !ValidIPv4(req.IP) {
		return nil, fmt.Errorf("%w: invalid IP address format", ErrInvalidRequest)
	}
	sess, err := o.Dialer.Dial(ctx, remote.Target{Host: req.IP, Port: req.Port, User: req.Username, Auth: o.SourceAuth})
	if err != nil {
		return nil, fmt.Errorf("ssh: %w", err)
	}
	return sess, nil
}

// ListInstances returns the instance directories on a source host, in the
// order the remote ls printed them.
func (o *Orchestrator) ListInstances(ctx context.Context, req model.SourceRequest) ([]model.SourceInstance, error) {
	sess, err := o.dialSource(ctx, req)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return listInstances(ctx, sess, o.profile())
}

func listInstances(ctx context.Context, sess remote.Session, p *Profile) ([]model.SourceInstance, error) {
	out, err := sess.Run(ctx, shellquote.Join("ls", p.InstancesDir+"/"))
	if err != nil {
		return nil, fmt.Errorf("ssh: list %s: %w", p.InstancesDir, err)
	}
	if names := splitLines(out.Stdout); len(names) > 0 {
		return toInstances(p.InstancesDir, names), nil
	}

	out, err = sess.Run(ctx, shellquote.Join("ls", p.HomeDir+"/"))
	if err != nil {
		return nil, fmt.Errorf("ssh: list %s: %w", p.HomeDir, err)
	}
	marker := strings.ToLower(p.InstanceMarker)
	var matched []string
	for _, name := range splitLines(out.Stdout) {
		if strings.Contains(strings.ToLower(name), marker) {
			matched = append(matched, name)
		}
	}
	return toInstances(p.HomeDir, matched), nil
}

func toInstances(dir string, names []string) []model.SourceInstance {
	out := make([]model.SourceInstance, 0, len(names))
	for _, n := range names {
		out = append(out, model.SourceInstance{
			ID:   n,
			Name: n,
			Path: sanitizeListPath(dir + "/" + n),
		})
	}
	return out
}

func splitLines(s string) []string {
	var out []string
	for _, l := range strings.Split(strings.TrimSpace(s), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// ReadFile fetches a file from a source host. The returned response carries
// the progress log even when err is non-nil.
func (o *Orchestrator) ReadFile(ctx context.Context, req model.FileRequest) (*model.FileResponse, error) {
	resp := &model.FileResponse{Logs: []string{}}
	if req.FilePath == "" {
		return resp, fmt.Errorf("%w: filePath is required", ErrInvalidRequest)
	}
	if !validFilePath(req.FilePath) {
		return resp, fmt.Errorf("%w: invalid or potentially dangerous file path", ErrInvalidRequest)
	}
	file := sanitizeFilePath(req.FilePath)

	if req.IP != "" && ValidIPv4(req.IP) {
		resp.Logs = append(resp.Logs, fmt.Sprintf("Command: Initializing connection to source server %s...", req.IP))
	}
	sess, err := o.dialSource(ctx, req.SourceRequest)
	if err != nil {
		return resp, err
	}
	defer func() {
		sess.Close()
		resp.Logs = append(resp.Logs, "Connection closed")
	}()

	resp.Logs = append(resp.Logs, "Output: Connection established successfully")
	resp.Logs = append(resp.Logs, fmt.Sprintf("Command: Reading file %s...", file))

	quoted := shellquote.Join(file)
	check, err := sess.Run(ctx, fmt.Sprintf("test -f %s && echo exists", quoted))
	if err != nil {
		return resp, fmt.Errorf("ssh: %w", err)
	}
	if !strings.Contains(check.Stdout, "exists") {
		return resp, fmt.Errorf("file %s does not exist", file)
	}
	check, err = sess.Run(ctx, fmt.Sprintf("test -r %s && echo readable", quoted))
	if err != nil {
		return resp, fmt.Errorf("ssh: %w", err)
	}
	if !strings.Contains(check.Stdout, "readable") {
		return resp, fmt.Errorf("file %s is not readable", file)
	}

	out, err := sess.Run(ctx, "cat "+quoted)
	if err != nil {
		return resp, fmt.Errorf("ssh: %w", err)
	}
	if out.Stderr != "" {
		return resp, fmt.Errorf("read file: %s", strings.TrimSpace(out.Stderr))
	}
	resp.Logs = append(resp.Logs, "Output: File content retrieved successfully")
	resp.Content = out.Stdout
	return resp, nil
}
