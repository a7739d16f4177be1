package deploy

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

// workerDirective is the line the service unit must carry so the process
// manager starts the expected number of workers.
const workerDirectivePrefix = "Environment=CUSTODIAN_WORKERS="

var workerDirectiveRe = regexp.MustCompile(`(?m)^Environment=CUSTODIAN_WORKERS=\d+$`)

// provisionTooling ensures auxiliary tooling is in place after a code
// update: the search-tool binary and the worker-count directive in the
// service unit. Every step is independently retryable and failures never
// abort the deployment.
func (e *Executor) provisionTooling(ctx context.Context) {
	if err := e.ensureSearchTool(ctx); err != nil {
		e.logger.WithError(err).Warn("Search tool provisioning failed; continuing")
	}
	if err := e.ensureWorkerDirective(); err != nil {
		e.logger.WithError(err).Warn("Worker directive provisioning failed; continuing")
	}
}

// ensureSearchTool checks the configured search binary is on PATH and runs
// the install command when it is missing.
func (e *Executor) ensureSearchTool(ctx context.Context) error {
	binary := e.cfg.SearchToolBinary
	if binary == "" {
		return nil
	}
	if _, err := exec.LookPath(binary); err == nil {
		return nil
	}
	if e.cfg.SearchToolInstall == "" {
		return fmt.Errorf("%s not found and no install command configured", binary)
	}

	e.logger.WithField("binary", binary).Info("Installing search tool")
	out, err := e.run(ctx, e.cfg.SearchToolInstall)
	if err != nil {
		return fmt.Errorf("install %s: %w: %s", binary, err, out)
	}
	if _, err := exec.LookPath(binary); err != nil {
		return fmt.Errorf("%s still missing after install", binary)
	}
	return nil
}

// ensureWorkerDirective pins the worker count in the service unit file,
// replacing an existing directive or appending one to the [Service]
// section.
func (e *Executor) ensureWorkerDirective() error {
	path := e.cfg.ServiceUnitPath
	if path == "" || e.cfg.WorkerCount <= 0 {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read service unit: %w", err)
	}
	content := string(data)
	directive := fmt.Sprintf("%s%d", workerDirectivePrefix, e.cfg.WorkerCount)

	switch {
	case strings.Contains(content, directive):
		return nil
	case workerDirectiveRe.MatchString(content):
		content = workerDirectiveRe.ReplaceAllString(content, directive)
	case strings.Contains(content, "[Service]"):
		content = strings.Replace(content, "[Service]", "[Service]\n"+directive, 1)
	default:
		content = strings.TrimRight(content, "\n") + "\n[Service]\n" + directive + "\n"
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write service unit: %w", err)
	}
	e.logger.WithField("workers", e.cfg.WorkerCount).Info("Pinned worker count in service unit")
	return nil
}
