// Package backup takes a pg_dump snapshot of the target database before the
// sync mutates it.
package backup

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/samandartukhtayev/authentik-sync/config"
	"github.com/samandartukhtayev/authentik-sync/models"
)

const (
	defaultBinary   = "pg_dump"
	timestampLayout = "2006-01-02_15-04-05"
	passwordEnv     = "PGPASSWORD"
	maxStderr       = 4096
)

// Dumper runs pg_dump in custom (compressed) format
type Dumper struct {
	dump    config.DumpConfig
	db      config.DatabaseConfig
	binary  string
	now     func() time.Time
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
	log     *slog.Logger
}

// NewDumper creates a dumper for the given database
func NewDumper(dump config.DumpConfig, db config.DatabaseConfig, log *slog.Logger) *Dumper {
	if log == nil {
		log = slog.Default()
	}
	return &Dumper{
		dump:    dump,
		db:      db,
		binary:  defaultBinary,
		now:     time.Now,
		command: exec.CommandContext,
		log:     log,
	}
}

// Path returns the artifact path for a dump started at t
func (d *Dumper) Path(t time.Time) string {
	return filepath.Join(d.dump.Dir, "database_dump_"+t.Format(timestampLayout)+".sql")
}

// Args returns the pg_dump arguments writing to path
func (d *Dumper) Args(path string) []string {
	return []string{
		"-U", d.db.User,
		"-h", d.db.Host,
		"-p", strconv.Itoa(d.db.Port),
		"-d", d.db.DBName,
		"-F", "c",
		"--file", path,
	}
}

// Dump writes a timestamped snapshot and returns its path. The password
// reaches pg_dump through its own environment only; the process environment
// is left untouched.
func (d *Dumper) Dump(ctx context.Context) (string, error) {
	if err := os.MkdirAll(d.dump.Dir, 0o750); err != nil {
		return "", errors.Wrapf(models.ErrBackupFailed, "failed to create dump directory %s: %v", d.dump.Dir, err)
	}

	path := d.Path(d.now())
	cmd := d.command(ctx, d.binary, d.Args(path)...)
	cmd.Env = childEnv(os.Environ(), d.db.Password)

	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{buf: &stderr, max: maxStderr}

	d.log.Info("Creating database dump", "file", path, "database", d.db.DBName, "host", d.db.Host)
	start := time.Now()

	if err := cmd.Run(); err != nil {
		// pg_dump leaves a truncated file behind on failure
		_ = os.Remove(path)
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "no output"
		}
		return "", errors.Wrapf(models.ErrBackupFailed, "%s: %v: %s", d.binary, err, msg)
	}

	d.log.Info("Backup successful", "file", path, "duration", time.Since(start).Round(time.Millisecond))
	return path, nil
}

// childEnv copies env, dropping any inherited PGPASSWORD and setting ours if non-empty
func childEnv(env []string, password string) []string {
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if strings.HasPrefix(kv, passwordEnv+"=") {
			continue
		}
		out = append(out, kv)
	}
	if password != "" {
		out = append(out, passwordEnv+"="+password)
	}
	return out
}

// limitedWriter keeps the first max bytes and silently drops the rest
type limitedWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if room := w.max - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}
