// Package toolkit drives the external fingerprinting toolkit: generating
// fingerprint data, embedding it into a model by fine-tuning, and checking
// that the embedding took. Each step is a long-running batch job.
package toolkit

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jfrog/jfrog-client-go/utils/log"
	"github.com/pkg/errors"

	"github.com/UIDickinson/llm-identity/pkg/config"
	"github.com/UIDickinson/llm-identity/pkg/faults"
	"github.com/UIDickinson/llm-identity/pkg/fingerprint"
	"github.com/UIDickinson/llm-identity/pkg/models"
)

// PassThreshold is the minimum check success rate, in percent, for an
// embedding to count as successful.
const PassThreshold = 95.0

const (
	generateScript = "generate_finetuning_data.py"
	finetuneScript = "finetune_multigpu.py"
	checkScript    = "check_fingerprints.py"
)

var successRate = regexp.MustCompile(`(\d+\.?\d*)%`)

// Runner runs toolkit scripts from the configured checkout.
type Runner struct {
	cfg config.ToolkitConfig
}

// New creates a Runner. Empty interpreter settings default to "python" and
// "deepspeed" on PATH.
func New(cfg config.ToolkitConfig) *Runner {
	if cfg.Python == "" {
		cfg.Python = "python"
	}
	if cfg.DeepSpeed == "" {
		cfg.DeepSpeed = "deepspeed"
	}
	if cfg.NumGPUs <= 0 {
		cfg.NumGPUs = 1
	}
	return &Runner{cfg: cfg}
}

// Available reports whether the toolkit checkout exists.
func (r *Runner) Available() error {
	info, err := os.Stat(r.cfg.Dir)
	if err != nil || !info.IsDir() {
		return faults.New(faults.KindNotFound, "toolkit", fmt.Sprintf("toolkit not found at %s", r.cfg.Dir))
	}
	return nil
}

// GenerateJob describes a fingerprint generation run.
type GenerateJob struct {
	Count          int
	KeyLength      int
	ResponseLength int
	RandomWords    bool
	Output         string // plaintext output file
}

// Generate runs the toolkit generator and imports its output.
func (r *Runner) Generate(ctx context.Context, job GenerateJob) (*models.FingerprintSet, error) {
	if err := r.Available(); err != nil {
		return nil, err
	}
	out, err := filepath.Abs(job.Output)
	if err != nil {
		return nil, errors.Wrap(err, "resolve output path")
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
		return nil, errors.Wrap(err, "create output dir")
	}

	args := []string{
		filepath.Join(r.cfg.Dir, generateScript),
		"--num_fingerprints", strconv.Itoa(job.Count),
		"--key_length", strconv.Itoa(job.KeyLength),
		"--response_length", strconv.Itoa(job.ResponseLength),
		"--output_file", out,
	}
	if job.RandomWords {
		args = append(args, "--random_word_generation")
	}

	log.Info(fmt.Sprintf("Generating %d fingerprints with the toolkit...", job.Count))
	if _, err := r.run(ctx, generateScript, r.cfg.Python, args...); err != nil {
		return nil, err
	}
	set, err := fingerprint.ImportPlain(out)
	if err != nil {
		return nil, err
	}
	log.Info(fmt.Sprintf("Generated %d fingerprints", set.Len()))
	return set, nil
}

// EmbedJob describes a fine-tuning run that embeds fingerprints in a model.
type EmbedJob struct {
	ModelPath        string
	FingerprintsFile string
	MaxFingerprints  int
	OutputDir        string // optional copy destination
}

// Embed fine-tunes a model with fingerprints and returns the directory of
// the fingerprinted model. This takes hours on real hardware.
func (r *Runner) Embed(ctx context.Context, job EmbedJob) (string, error) {
	if err := r.Available(); err != nil {
		return "", err
	}
	if job.MaxFingerprints <= 0 {
		job.MaxFingerprints = 1024
	}
	fp, err := filepath.Abs(job.FingerprintsFile)
	if err != nil {
		return "", errors.Wrap(err, "resolve fingerprints file")
	}

	log.Info(fmt.Sprintf("Fingerprinting model %s (this may take 1-3 hours)...", job.ModelPath))
	started := time.Now()
	if _, err := r.run(ctx, finetuneScript, r.cfg.DeepSpeed,
		fmt.Sprintf("--num_gpus=%d", r.cfg.NumGPUs),
		filepath.Join(r.cfg.Dir, finetuneScript),
		"--model_path", job.ModelPath,
		"--fingerprints_file_path", fp,
		"--max_num_fingerprints", strconv.Itoa(job.MaxFingerprints),
	); err != nil {
		return "", err
	}

	result, err := newestDir(filepath.Join(r.cfg.Dir, "results"))
	if err != nil {
		return "", err
	}
	if job.OutputDir != "" {
		if err := os.MkdirAll(filepath.Dir(job.OutputDir), 0o755); err != nil {
			return "", errors.Wrap(err, "create output parent")
		}
		if err := os.CopyFS(job.OutputDir, os.DirFS(result)); err != nil {
			return "", errors.Wrapf(err, "copy %s to %s", result, job.OutputDir)
		}
		result = job.OutputDir
	}
	log.Info(fmt.Sprintf("Model fingerprinted in %s: %s", time.Since(started).Round(time.Second), result))
	return result, nil
}

// CheckJob describes an embedding verification run.
type CheckJob struct {
	ModelPath        string
	FingerprintsFile string
	Count            int
}

// CheckResult is the outcome of a verification run.
type CheckResult struct {
	SuccessRate float64 `json:"success_rate"`
	Passed      bool    `json:"passed"`
	Output      string  `json:"output"`
}

// Check runs the toolkit's fingerprint checker against a model.
func (r *Runner) Check(ctx context.Context, job CheckJob) (CheckResult, error) {
	if err := r.Available(); err != nil {
		return CheckResult{}, err
	}
	if job.Count <= 0 {
		job.Count = 1024
	}
	fp, err := filepath.Abs(job.FingerprintsFile)
	if err != nil {
		return CheckResult{}, errors.Wrap(err, "resolve fingerprints file")
	}

	out, err := r.run(ctx, checkScript, r.cfg.Python,
		filepath.Join(r.cfg.Dir, checkScript),
		"--model_path", job.ModelPath,
		"--fingerprints_file_path", fp,
		"--num_fingerprints", strconv.Itoa(job.Count),
	)
	if err != nil {
		return CheckResult{}, err
	}
	rate := ParseSuccessRate(out)
	res := CheckResult{SuccessRate: rate, Passed: rate >= PassThreshold, Output: out}
	log.Info(fmt.Sprintf("Verification complete: %.1f%% success rate", rate))
	return res, nil
}

// ParseSuccessRate returns the percentage on the last output line that
// mentions a success rate, or 0.
func ParseSuccessRate(output string) float64 {
	var rate float64
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(strings.ToLower(line), "success rate") {
			continue
		}
		m := successRate.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			rate = v
		}
	}
	return rate
}

func (r *Runner) run(ctx context.Context, script, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.cfg.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug(fmt.Sprintf("toolkit: %s %s", name, strings.Join(args, " ")))
	if err := cmd.Run(); err != nil {
		return stdout.String(), errors.Wrapf(err, "%s failed: %s", script, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func newestDir(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", errors.Wrap(err, "read toolkit results")
	}
	var (
		newest  string
		newestT time.Time
	)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestT) {
			newest, newestT = filepath.Join(root, e.Name()), info.ModTime()
		}
	}
	if newest == "" {
		return "", faults.New(faults.KindNotFound, "toolkit", "could not find fingerprinted model output")
	}
	return newest, nil
}
