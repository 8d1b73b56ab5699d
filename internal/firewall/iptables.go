package firewall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ChainName is the nat chain that holds every rule this process installs.
const ChainName = "TRANSPROXY"

// Runner runs an external command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands with os/exec, folding their output into the
// returned error.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		out = bytes.TrimSpace(out)
		if len(out) > 0 {
			return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, out)
		}
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}

// IPTables drives the iptables binary. All rules live in ChainName, which is
// jumped to from the nat OUTPUT chain, so Flush removes exactly what was
// installed.
type IPTables struct {
	runner    Runner
	cfg       Config
	plan      Plan
	installed bool
}

func NewIPTables(cfg Config, runner Runner) *IPTables {
	return &IPTables{runner: runner, cfg: cfg}
}

func (t *IPTables) run(ctx context.Context, args ...string) error {
	return t.runner.Run(ctx, "iptables", append([]string{"-w", "-t", "nat"}, args...)...)
}

func (t *IPTables) setup(ctx context.Context) error {
	// A chain left behind by an unclean exit is reused after emptying it.
	if err := t.run(ctx, "-N", ChainName); err != nil {
		if ferr := t.run(ctx, "-F", ChainName); ferr != nil {
			return fmt.Errorf("create chain: %w", err)
		}
	}

	t.plan = NewPlan(t.cfg)
	for _, r := range t.plan.Rules {
		if err := t.run(ctx, append([]string{"-A", ChainName}, ruleArgs(r)...)...); err != nil {
			return err
		}
	}

	jump := []string{"OUTPUT", "-p", "tcp", "-j", ChainName}
	if err := t.run(ctx, append([]string{"-C"}, jump...)...); err != nil {
		if err := t.run(ctx, append([]string{"-A"}, jump...)...); err != nil {
			return err
		}
	}
	return nil
}

func (t *IPTables) Install(ctx context.Context, port, toPort uint16) error {
	if !t.installed {
		t.installed = true
		if err := t.setup(ctx); err != nil {
			return fmt.Errorf("iptables: %w", err)
		}
	}

	r := t.plan.AddRedirect(port, toPort)
	if err := t.run(ctx, append([]string{"-A", ChainName}, ruleArgs(r)...)...); err != nil {
		return fmt.Errorf("iptables: %w", err)
	}
	return nil
}

func (t *IPTables) Flush(ctx context.Context) error {
	if !t.installed {
		return nil
	}
	t.installed = false
	t.plan = Plan{}

	err := errors.Join(
		t.run(ctx, "-D", "OUTPUT", "-p", "tcp", "-j", ChainName),
		t.run(ctx, "-F", ChainName),
		t.run(ctx, "-X", ChainName),
	)
	if err != nil {
		return fmt.Errorf("iptables flush: %w", err)
	}
	return nil
}

func ruleArgs(r Rule) []string {
	switch {
	case r.HasUID:
		return []string{"-m", "owner", "--uid-owner", strconv.FormatUint(uint64(r.UID), 10), "-j", "RETURN"}
	case r.Dst.IsValid():
		return []string{"-d", r.Dst.String(), "-j", "RETURN"}
	default:
		return []string{
			"-p", "tcp", "--dport", strconv.Itoa(int(r.Port)),
			"-j", "REDIRECT", "--to-ports", strconv.Itoa(int(r.ToPort)),
		}
	}
}
